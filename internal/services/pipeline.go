package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
	"courseadmin/internal/repository"
	"courseadmin/internal/sage"
)

// RowResult is the single fate of one processed row.
type RowResult struct {
	Outcome    models.RowOutcome
	UserID     string
	DecisionID string
}

// Pipeline integrates one normalized row into the canonical model: identity
// matching, user creation or gap-filling, company/center resolution and the
// center assignment. It is shared by the import orchestrator and by decision
// resolution, so a decision replayed weeks later runs exactly the same code.
type Pipeline struct {
	users       repository.UserRepository
	companies   repository.CompanyRepository
	centers     repository.CenterRepository
	assignments repository.AssignmentRepository
	decisions   repository.DecisionRepository
	matcher     *Matcher
	log         *logrus.Logger
}

func NewPipeline(
	users repository.UserRepository,
	companies repository.CompanyRepository,
	centers repository.CenterRepository,
	assignments repository.AssignmentRepository,
	decisions repository.DecisionRepository,
	matcher *Matcher,
	log *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		users:       users,
		companies:   companies,
		centers:     centers,
		assignments: assignments,
		decisions:   decisions,
		matcher:     matcher,
		log:         log,
	}
}

// ProcessRow resolves the row to exactly one outcome. Matching runs in
// strict order: exact DNI, insurance-number collision, fuzzy name. An
// ambiguous candidate goes through decision resolution, which replays prior
// human decisions and never duplicates a pending one.
func (p *Pipeline) ProcessRow(ctx context.Context, d *sage.ProcessedUserData) (RowResult, error) {
	if d.DNI != "" {
		existing, err := p.users.FindByDNI(ctx, d.DNI)
		if err != nil {
			return RowResult{Outcome: models.OutcomeError}, err
		}
		if existing != nil {
			outcome, err := p.updateExisting(ctx, existing, d)
			if err != nil {
				return RowResult{Outcome: models.OutcomeError}, err
			}
			return RowResult{Outcome: outcome, UserID: existing.ID}, nil
		}
	}

	candidate, err := p.findCandidate(ctx, d)
	if err != nil {
		return RowResult{Outcome: models.OutcomeError}, err
	}
	if candidate != nil {
		return p.resolveCandidate(ctx, d, candidate)
	}

	user, err := p.CreateUser(ctx, d)
	if err != nil {
		return RowResult{Outcome: models.OutcomeError}, err
	}
	return RowResult{Outcome: models.OutcomeCreated, UserID: user.ID}, nil
}

// findCandidate runs the ambiguous-match detectors in order: an insurance
// number held by another user outranks the fuzzy name scan.
func (p *Pipeline) findCandidate(ctx context.Context, d *sage.ProcessedUserData) (*Candidate, error) {
	if d.NSS != "" {
		holder, err := p.users.FindByNSS(ctx, d.NSS)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			return &Candidate{User: *holder, Similarity: p.matcher.Config().NSSCollisionScore}, nil
		}
	}
	if d.Name == "" || d.Surname1 == "" {
		return nil, nil
	}
	return p.matcher.FindSimilar(ctx, d.FullName())
}

// resolveCandidate implements decision resolution: replay a processed
// decision for this exact pair, reuse a pending one, or open a new one.
func (p *Pipeline) resolveCandidate(ctx context.Context, d *sage.ProcessedUserData, candidate *Candidate) (RowResult, error) {
	prior, err := p.decisions.FindProcessedPair(ctx, d.DNI, candidate.User.ID)
	if err != nil {
		return RowResult{Outcome: models.OutcomeError}, err
	}
	if prior != nil && prior.Action != nil {
		return p.replayDecision(ctx, d, candidate, *prior.Action)
	}

	pending, err := p.decisions.FindPending(ctx, d.DNI, candidate.User.ID)
	if err != nil {
		return RowResult{Outcome: models.OutcomeError}, err
	}
	if pending != nil {
		return RowResult{Outcome: models.OutcomeDecisionRequired, DecisionID: pending.ID}, nil
	}

	decision := &models.ImportDecision{
		CSVName:         d.Name,
		CSVSurnames:     joinSurnames(d.Surname1, d.Surname2),
		CSVDNI:          d.DNI,
		DBName:          candidate.User.Name,
		DBSurnames:      joinSurnames(candidate.User.Surname1, derefStr(candidate.User.Surname2)),
		DBDNI:           candidate.User.DNI,
		Similarity:      candidate.Similarity,
		RawRow:          d.Raw,
		CandidateUserID: candidate.User.ID,
	}
	if err := p.decisions.Insert(ctx, decision); err != nil {
		return RowResult{Outcome: models.OutcomeError}, err
	}
	return RowResult{Outcome: models.OutcomeDecisionRequired, DecisionID: decision.ID}, nil
}

// replayDecision re-applies a previously made human decision without asking
// again, keeping repeat imports idempotent.
func (p *Pipeline) replayDecision(ctx context.Context, d *sage.ProcessedUserData, candidate *Candidate, action models.DecisionAction) (RowResult, error) {
	switch action {
	case models.ActionSkip:
		return RowResult{Outcome: models.OutcomeSkipped, UserID: candidate.User.ID}, nil
	case models.ActionLink, models.ActionUpdateAndLink:
		user, err := p.users.Get(ctx, candidate.User.ID)
		if err != nil {
			return RowResult{Outcome: models.OutcomeError}, err
		}
		if user == nil {
			return RowResult{Outcome: models.OutcomeError}, models.ErrUserNotFound
		}
		outcome, err := p.updateExisting(ctx, user, d)
		if err != nil {
			return RowResult{Outcome: models.OutcomeError}, err
		}
		return RowResult{Outcome: outcome, UserID: user.ID}, nil
	case models.ActionCreateNew:
		user, err := p.CreateUser(ctx, d)
		if err != nil {
			return RowResult{Outcome: models.OutcomeError}, err
		}
		return RowResult{Outcome: models.OutcomeCreated, UserID: user.ID}, nil
	}
	return RowResult{Outcome: models.OutcomeError}, models.ErrInvalidDecisionAction
}

// updateExisting gap-fills the user from the row, persists when anything
// changed and upserts the relationship records.
func (p *Pipeline) updateExisting(ctx context.Context, user *models.User, d *sage.ProcessedUserData) (models.RowOutcome, error) {
	changed := GapFill(user, d)
	if changed {
		if err := p.users.Update(ctx, user); err != nil {
			return models.OutcomeError, err
		}
	}
	if err := p.ApplyRelationships(ctx, user.ID, d); err != nil {
		return models.OutcomeError, err
	}
	if changed {
		return models.OutcomeUpdated, nil
	}
	return models.OutcomeLinked, nil
}

// GapFill copies row values into fields that are currently unset. It never
// overwrites: an existing non-null value always wins.
func GapFill(user *models.User, d *sage.ProcessedUserData) bool {
	changed := false
	if user.NSS == nil && d.NSS != "" {
		user.NSS = ptr(d.NSS)
		changed = true
	}
	if user.Email == nil && d.Email != "" {
		user.Email = ptr(d.Email)
		changed = true
	}
	if user.BirthDate == nil && d.BirthDate != nil {
		user.BirthDate = d.BirthDate
		changed = true
	}
	if user.SalaryGroup == nil && d.PayGroup != "" {
		user.SalaryGroup = ptr(d.PayGroup)
		changed = true
	}
	if user.Category == nil && d.Category != "" {
		user.Category = ptr(d.Category)
		changed = true
	}
	return changed
}

// CreateUser builds a new user from the row and upserts its relationships.
func (p *Pipeline) CreateUser(ctx context.Context, d *sage.ProcessedUserData) (*models.User, error) {
	user := &models.User{
		DNI:          ptrOrNil(d.DNI),
		NSS:          ptrOrNil(d.NSS),
		Name:         d.Name,
		Surname1:     d.Surname1,
		Surname2:     ptrOrNil(d.Surname2),
		Email:        ptrOrNil(d.Email),
		BirthDate:    d.BirthDate,
		SalaryGroup:  ptrOrNil(d.PayGroup),
		Category:     ptrOrNil(d.Category),
		EmployeeCode: ptrOrNil(d.EmployeeCode),
		Sex:          ptrOrNil(d.Sex),
	}
	if err := p.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	p.log.WithFields(logrus.Fields{"user_id": user.ID, "dni": d.DNI}).Info("user created from import")
	if err := p.ApplyRelationships(ctx, user.ID, d); err != nil {
		return user, err
	}
	return user, nil
}

// ApplyRelationships resolves the company and center and upserts the user's
// assignment, keeping the main-center invariant.
func (p *Pipeline) ApplyRelationships(ctx context.Context, userID string, d *sage.ProcessedUserData) error {
	company, err := p.resolveCompany(ctx, d)
	if err != nil {
		return err
	}
	center, err := p.resolveCenter(ctx, company.ID, d)
	if err != nil {
		return err
	}
	if err := p.upsertAssignment(ctx, userID, center.ID, d); err != nil {
		return err
	}
	return p.ensureMainCenter(ctx, userID)
}

func (p *Pipeline) resolveCompany(ctx context.Context, d *sage.ProcessedUserData) (*models.Company, error) {
	existing, err := p.companies.FindByCIFOrImportID(ctx, d.CompanyCIF, d.CompanyImportID)
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	legal := d.CompanyLegalName
	if legal == "" {
		legal = d.CompanyName
	}
	return p.companies.FindOrCreate(ctx, &models.Company{
		Name:      d.CompanyName,
		LegalName: legal,
		CIF:       ptrOrNil(d.CompanyCIF),
		ImportID:  d.CompanyImportID,
	})
}

// resolveCenter always looks up by the composite company-scoped key; a bare
// name lookup would merge distinct companies' unknown-center placeholders.
func (p *Pipeline) resolveCenter(ctx context.Context, companyID string, d *sage.ProcessedUserData) (*models.Center, error) {
	name := d.CenterName
	if name == "" {
		name = models.UnknownCenterName
	}
	key := models.CenterImportKey(companyID, d.CenterName)
	existing, err := p.centers.FindByImportKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find center: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	return p.centers.FindOrCreate(ctx, &models.Center{
		CompanyID: companyID,
		Name:      name,
		Code:      ptrOrNil(d.CenterCode),
		ImportKey: key,
	})
}

func (p *Pipeline) upsertAssignment(ctx context.Context, userID, centerID string, d *sage.ProcessedUserData) error {
	existing, err := p.assignments.FindByUserAndCenter(ctx, userID, centerID)
	if err != nil {
		return fmt.Errorf("find assignment: %w", err)
	}
	if existing == nil {
		return p.assignments.Create(ctx, &models.UserCenter{
			UserID:    userID,
			CenterID:  centerID,
			StartDate: d.StartDate,
			EndDate:   d.EndDate,
		})
	}

	if d.StartDate != nil && existing.EndDate != nil && d.StartDate.After(*existing.EndDate) {
		// reincorporation: the person is back after a recorded exit
		p.log.WithFields(logrus.Fields{
			"user_id":   userID,
			"center_id": centerID,
			"old_end":   existing.EndDate.Format("2006-01-02"),
			"new_start": d.StartDate.Format("2006-01-02"),
		}).Info("reincorporation detected, clearing end date")
		existing.StartDate = d.StartDate
		existing.EndDate = nil
	} else {
		if d.StartDate != nil {
			existing.StartDate = d.StartDate
		}
		if d.EndDate != nil {
			existing.EndDate = d.EndDate
		}
	}
	return p.assignments.Update(ctx, existing)
}

// ensureMainCenter marks the assignment with the most recent start date as
// main, but only when the user has none yet. An existing main center is
// never reassigned by the import.
func (p *Pipeline) ensureMainCenter(ctx context.Context, userID string) error {
	all, err := p.assignments.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	if len(all) == 0 {
		return nil
	}
	best := -1
	for i := range all {
		if all[i].IsMainCenter {
			return nil
		}
		if best < 0 {
			best = i
			continue
		}
		cur, prev := all[i].StartDate, all[best].StartDate
		if cur != nil && (prev == nil || cur.After(*prev)) {
			best = i
		}
	}
	all[best].IsMainCenter = true
	return p.assignments.Update(ctx, &all[best])
}

func joinSurnames(s1, s2 string) string {
	if s2 == "" {
		return s1
	}
	return s1 + " " + s2
}

func ptr(s string) *string { return &s }

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
