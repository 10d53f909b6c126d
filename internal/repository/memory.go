package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"courseadmin/internal/models"
)

// MemoryStore holds every table in process memory behind one mutex. It
// enforces the same uniqueness rules as the Postgres schema and backs the
// service tests and database-less local runs. Each repository interface is
// exposed as a typed view (Users(), Jobs(), ...).
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	companies   map[string]*models.Company
	centers     map[string]*models.Center
	assignments map[string]*models.UserCenter
	decisions   map[string]*models.ImportDecision
	failed      map[string]*models.FailedImportRecord
	jobs        map[string]*models.ImportJob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*models.User),
		companies:   make(map[string]*models.Company),
		centers:     make(map[string]*models.Center),
		assignments: make(map[string]*models.UserCenter),
		decisions:   make(map[string]*models.ImportDecision),
		failed:      make(map[string]*models.FailedImportRecord),
		jobs:        make(map[string]*models.ImportJob),
	}
}

func (m *MemoryStore) Users() UserRepository               { return memUsers{m} }
func (m *MemoryStore) Companies() CompanyRepository        { return memCompanies{m} }
func (m *MemoryStore) Centers() CenterRepository           { return memCenters{m} }
func (m *MemoryStore) Assignments() AssignmentRepository   { return memAssignments{m} }
func (m *MemoryStore) Decisions() DecisionRepository       { return memDecisions{m} }
func (m *MemoryStore) FailedImports() FailedImportRepository { return memFailed{m} }
func (m *MemoryStore) Jobs() JobRepository                 { return memJobs{m} }

// --- users ---

type memUsers struct{ s *MemoryStore }

func (v memUsers) Get(_ context.Context, id string) (*models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if u, ok := v.s.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, nil
}

func (v memUsers) FindByDNI(_ context.Context, dni string) (*models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, u := range v.s.users {
		if u.DNI != nil && *u.DNI == dni {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

func (v memUsers) FindByNSS(_ context.Context, nss string) (*models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var best *models.User
	for _, u := range v.s.users {
		if u.NSS != nil && *u.NSS == nss {
			if best == nil || u.CreatedAt.Before(best.CreatedAt) {
				best = u
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (v memUsers) ListNamed(_ context.Context) ([]models.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.User
	for _, u := range v.s.users {
		if u.Name != "" && u.Surname1 != "" {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v memUsers) Create(_ context.Context, user *models.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if user.DNI != nil {
		for _, u := range v.s.users {
			if u.DNI != nil && *u.DNI == *user.DNI {
				return fmt.Errorf("duplicate dni %s", *user.DNI)
			}
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	copied := *user
	v.s.users[user.ID] = &copied
	return nil
}

func (v memUsers) Update(_ context.Context, user *models.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.users[user.ID]; !ok {
		return models.ErrUserNotFound
	}
	user.UpdatedAt = time.Now()
	copied := *user
	v.s.users[user.ID] = &copied
	return nil
}

// --- companies ---

type memCompanies struct{ s *MemoryStore }

func (v memCompanies) FindByCIFOrImportID(_ context.Context, cif, importID string) (*models.Company, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return v.s.findCompanyLocked(cif, importID), nil
}

func (m *MemoryStore) findCompanyLocked(cif, importID string) *models.Company {
	for _, c := range m.companies {
		if (cif != "" && c.CIF != nil && *c.CIF == cif) || c.ImportID == importID {
			copied := *c
			return &copied
		}
	}
	return nil
}

func (v memCompanies) FindOrCreate(_ context.Context, company *models.Company) (*models.Company, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if existing := v.s.findCompanyLocked(deref(company.CIF), company.ImportID); existing != nil {
		return existing, nil
	}
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	company.CreatedAt = time.Now()
	copied := *company
	v.s.companies[company.ID] = &copied
	return company, nil
}

// --- centers ---

type memCenters struct{ s *MemoryStore }

func (v memCenters) FindByImportKey(_ context.Context, key string) (*models.Center, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, c := range v.s.centers {
		if c.ImportKey == key {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (v memCenters) FindOrCreate(_ context.Context, center *models.Center) (*models.Center, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, c := range v.s.centers {
		if c.ImportKey == center.ImportKey {
			copied := *c
			return &copied, nil
		}
	}
	if center.ID == "" {
		center.ID = uuid.NewString()
	}
	center.CreatedAt = time.Now()
	copied := *center
	v.s.centers[center.ID] = &copied
	return center, nil
}

// --- assignments ---

type memAssignments struct{ s *MemoryStore }

func (v memAssignments) FindByUserAndCenter(_ context.Context, userID, centerID string) (*models.UserCenter, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	for _, a := range v.s.assignments {
		if a.UserID == userID && a.CenterID == centerID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (v memAssignments) ListByUser(_ context.Context, userID string) ([]models.UserCenter, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.UserCenter
	for _, a := range v.s.assignments {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (v memAssignments) Create(_ context.Context, assignment *models.UserCenter) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, a := range v.s.assignments {
		if a.UserID == assignment.UserID && a.CenterID == assignment.CenterID {
			a.StartDate = assignment.StartDate
			a.EndDate = assignment.EndDate
			a.UpdatedAt = time.Now()
			*assignment = *a
			return nil
		}
	}
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	copied := *assignment
	v.s.assignments[assignment.ID] = &copied
	return nil
}

func (v memAssignments) Update(_ context.Context, assignment *models.UserCenter) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.assignments[assignment.ID]; !ok {
		return fmt.Errorf("assignment %s not found", assignment.ID)
	}
	assignment.UpdatedAt = time.Now()
	copied := *assignment
	v.s.assignments[assignment.ID] = &copied
	return nil
}

// --- decisions ---

type memDecisions struct{ s *MemoryStore }

func (v memDecisions) Get(_ context.Context, id string) (*models.ImportDecision, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if d, ok := v.s.decisions[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, nil
}

func (v memDecisions) FindProcessedPair(_ context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var best *models.ImportDecision
	for _, d := range v.s.decisions {
		if d.Processed && d.CSVDNI == csvDNI && d.CandidateUserID == candidateUserID {
			if best == nil || (d.ProcessedAt != nil && best.ProcessedAt != nil && d.ProcessedAt.After(*best.ProcessedAt)) {
				best = d
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (v memDecisions) FindPending(_ context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var best *models.ImportDecision
	for _, d := range v.s.decisions {
		if d.Processed {
			continue
		}
		if (csvDNI != "" && d.CSVDNI == csvDNI) || d.CandidateUserID == candidateUserID {
			if best == nil || d.CreatedAt.Before(best.CreatedAt) {
				best = d
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	copied := *best
	return &copied, nil
}

func (v memDecisions) Insert(_ context.Context, decision *models.ImportDecision) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for _, d := range v.s.decisions {
		if !d.Processed && d.CSVDNI == decision.CSVDNI && d.CandidateUserID == decision.CandidateUserID {
			return fmt.Errorf("pending decision already exists for pair (%s, %s)",
				decision.CSVDNI, decision.CandidateUserID)
		}
	}
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	decision.CreatedAt = time.Now()
	copied := *decision
	v.s.decisions[decision.ID] = &copied
	return nil
}

func (v memDecisions) MarkProcessed(_ context.Context, id string, action models.DecisionAction, notes string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.decisions[id]
	if !ok || d.Processed {
		return models.ErrDecisionNotFound
	}
	now := time.Now()
	d.Processed = true
	d.Action = &action
	d.ProcessedAt = &now
	appendNote(d, notes)
	return nil
}

func (v memDecisions) Revert(_ context.Context, id string, note string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	d, ok := v.s.decisions[id]
	if !ok || !d.Processed {
		return models.ErrDecisionNotFound
	}
	d.Processed = false
	d.Action = nil
	d.ProcessedAt = nil
	appendNote(d, note)
	return nil
}

func (v memDecisions) List(_ context.Context, processed bool, limit int) ([]models.ImportDecision, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.ImportDecision
	for _, d := range v.s.decisions {
		if d.Processed == processed {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func appendNote(d *models.ImportDecision, note string) {
	if note == "" {
		return
	}
	if d.Notes == "" {
		d.Notes = note
		return
	}
	d.Notes = d.Notes + "\n" + note
}

// --- failed records ---

type memFailed struct{ s *MemoryStore }

func (v memFailed) Insert(_ context.Context, record *models.FailedImportRecord) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = time.Now()
	copied := *record
	v.s.failed[record.ID] = &copied
	return nil
}

func (v memFailed) List(_ context.Context, limit int) ([]models.FailedImportRecord, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.FailedImportRecord
	for _, rec := range v.s.failed {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v memFailed) Count(_ context.Context) (int64, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	return int64(len(v.s.failed)), nil
}

// --- jobs ---

type memJobs struct{ s *MemoryStore }

func (v memJobs) Create(_ context.Context, job *models.ImportJob) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ImportPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	copied := *job
	v.s.jobs[job.ID] = &copied
	return nil
}

func (v memJobs) Get(_ context.Context, id string) (*models.ImportJob, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	if j, ok := v.s.jobs[id]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, models.ErrJobNotFound
}

func (v memJobs) Update(_ context.Context, job *models.ImportJob) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	existing, ok := v.s.jobs[job.ID]
	if !ok {
		return models.ErrJobNotFound
	}
	// terminal states are sticky, same guard as the SQL repository
	if existing.Status.Terminal() {
		return models.ErrJobTerminal
	}
	job.UpdatedAt = time.Now()
	copied := *job
	v.s.jobs[job.ID] = &copied
	return nil
}

func (v memJobs) List(_ context.Context, limit int) ([]models.ImportJob, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.ImportJob
	for _, j := range v.s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (v memJobs) ListStale(_ context.Context, cutoff time.Time) ([]models.ImportJob, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []models.ImportJob
	for _, j := range v.s.jobs {
		if j.Status == models.ImportProcessing && j.UpdatedAt.Before(cutoff) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (v memJobs) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	var n int64
	for id, j := range v.s.jobs {
		if j.Status.Terminal() && j.CreatedAt.Before(cutoff) {
			delete(v.s.jobs, id)
			n++
		}
	}
	return n, nil
}
