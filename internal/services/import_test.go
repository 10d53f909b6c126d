package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"courseadmin/internal/models"
	"courseadmin/internal/repository"
	"courseadmin/internal/sage"
)

func newImportEnv() (*testEnv, *ImportService) {
	env := newTestEnv()
	svc := NewImportService(env.store.Jobs(), env.store.FailedImports(), env.pipeline, discardLogger())
	svc.pause = 0
	return env, svc
}

func TestRunTalliesEveryRow(t *testing.T) {
	env, svc := newImportEnv()
	ctx := context.Background()

	rows := []sage.RawRow{
		payrollRow("11111111A", "Maria", "Garcia Lopez", ""),
		payrollRow("22222222B", "Pedro", "Sanchez Ruiz", ""),
		{"E001", "C01", "too short"},
	}
	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.Run(ctx, job, rows, 2)

	final, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != models.ImportCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
	if final.ProcessedRows != 3 || final.TotalRows != 3 {
		t.Fatalf("row counters wrong: %d/%d", final.ProcessedRows, final.TotalRows)
	}
	if final.Summary == nil {
		t.Fatalf("summary not persisted")
	}
	if final.Summary.Created != 2 || final.Summary.Errors != 1 {
		t.Fatalf("unexpected summary: %+v", final.Summary)
	}
	if final.Summary.ParseErrors != 2 {
		t.Fatalf("parse errors not carried into summary: %+v", final.Summary)
	}
	if final.Summary.FailedRecords != 1 {
		t.Fatalf("failed row not vaulted: %+v", final.Summary)
	}

	count, err := env.store.FailedImports().Count(ctx)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 vault record, got %d (%v)", count, err)
	}
	if final.CompletedAt == nil {
		t.Fatalf("completed job must carry a completion time")
	}
}

type brokenCompanies struct{}

func (brokenCompanies) FindByCIFOrImportID(context.Context, string, string) (*models.Company, error) {
	return nil, errors.New("connection refused")
}

func (brokenCompanies) FindOrCreate(context.Context, *models.Company) (*models.Company, error) {
	return nil, errors.New("connection refused")
}

func TestRunDivertsIntegrationErrorsToVault(t *testing.T) {
	store := repository.NewMemoryStore()
	log := discardLogger()
	matcher := NewMatcher(store.Users(), DefaultMatcherConfig(), log)
	pipeline := NewPipeline(
		store.Users(), brokenCompanies{}, store.Centers(),
		store.Assignments(), store.Decisions(), matcher, log,
	)
	svc := NewImportService(store.Jobs(), store.FailedImports(), pipeline, log)
	svc.pause = 0
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.Run(ctx, job, []sage.RawRow{payrollRow("11111111A", "Maria", "Garcia Lopez", "")}, 0)

	final, _ := svc.GetJob(ctx, job.ID)
	if final.Status != models.ImportCompleted {
		t.Fatalf("row failure must not fail the job, got %s", final.Status)
	}
	if final.Summary.Errors != 1 || final.Summary.FailedRecords != 1 {
		t.Fatalf("unexpected summary: %+v", final.Summary)
	}
	records, err := store.FailedImports().List(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("expected 1 vault record, got %d (%v)", len(records), err)
	}
	if !strings.Contains(records[0].Reason, "connection refused") {
		t.Fatalf("vault reason must carry the underlying error, got %q", records[0].Reason)
	}
}

func TestProcessFileCSV(t *testing.T) {
	_, svc := newImportEnv()
	ctx := context.Background()

	lines := []string{
		"Codigo;Centro;Nombre centro;Empleado;DNI;Nombre;Apellidos;Alta;Baja;Categoria;Email;Nacimiento;Grupo;Movilidad;NSS;Sexo;Tarifa;Razon;CIF;CCC",
		strings.Join(payrollRow("11111111A", "Maria", "Garcia Lopez", ""), ";"),
		strings.Join(payrollRow("22222222B", "Pedro", "Sanchez Ruiz", ""), ";"),
	}
	path := filepath.Join(t.TempDir(), "export.csv")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.ProcessFile(ctx, job.ID, path, ".csv")

	final, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != models.ImportCompleted {
		t.Fatalf("expected completed, got %s (%v)", final.Status, final.ErrorMessage)
	}
	if final.TotalRows != 2 || final.Summary == nil || final.Summary.Created != 2 {
		t.Fatalf("unexpected result: rows=%d summary=%+v", final.TotalRows, final.Summary)
	}
}

func TestProcessFileUnreadableFails(t *testing.T) {
	_, svc := newImportEnv()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.ProcessFile(ctx, job.ID, filepath.Join(t.TempDir(), "missing.csv"), ".csv")

	final, _ := svc.GetJob(ctx, job.ID)
	if final.Status != models.ImportFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorMessage == nil {
		t.Fatalf("failed job must carry an error message")
	}
}

func TestCancelSemantics(t *testing.T) {
	_, svc := newImportEnv()
	ctx := context.Background()

	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel pending job: %v", err)
	}
	if err := svc.Cancel(ctx, job.ID); !errors.Is(err, models.ErrJobNotCancellable) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
}

func TestCancelStopsRunBetweenBatches(t *testing.T) {
	_, svc := newImportEnv()
	ctx := context.Background()
	svc.batchSize = 1
	svc.pause = 200 * time.Millisecond

	rows := []sage.RawRow{
		payrollRow("11111111A", "Maria", "Garcia Lopez", ""),
		payrollRow("22222222B", "Pedro", "Sanchez Ruiz", ""),
		payrollRow("33333333C", "Lucia", "Moreno Gil", ""),
	}
	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Run(ctx, job, rows, 0)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel running job: %v", err)
	}
	<-done

	final, _ := svc.GetJob(ctx, job.ID)
	if final.Status != models.ImportCancelled {
		t.Fatalf("expected cancelled, got %s", final.Status)
	}
	if final.ProcessedRows >= len(rows) {
		t.Fatalf("cancellation did not stop processing: %d rows", final.ProcessedRows)
	}
}

// trippedJobs runs a hook right before the worker's nth Update reaches the
// store, modelling a status change that lands inside that window.
type trippedJobs struct {
	repository.JobRepository
	mu      sync.Mutex
	updates int
	tripOn  int
	trip    func()
}

func (j *trippedJobs) Update(ctx context.Context, job *models.ImportJob) error {
	j.mu.Lock()
	j.updates++
	fire := j.updates == j.tripOn
	j.mu.Unlock()
	if fire && j.trip != nil {
		j.trip()
	}
	return j.JobRepository.Update(ctx, job)
}

func TestCancelBetweenCheckAndProgressUpdate(t *testing.T) {
	env := newTestEnv()
	jobs := &trippedJobs{JobRepository: env.store.Jobs(), tripOn: 2}
	svc := NewImportService(jobs, env.store.FailedImports(), env.pipeline, discardLogger())
	svc.pause = 0
	svc.batchSize = 1
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	// the second update is the first batch-end progress write: the batch's
	// cancellation check has already passed when this cancel lands
	jobs.trip = func() {
		if err := svc.Cancel(ctx, job.ID); err != nil {
			t.Errorf("cancel: %v", err)
		}
	}

	rows := []sage.RawRow{
		payrollRow("11111111A", "Maria", "Garcia Lopez", ""),
		payrollRow("22222222B", "Pedro", "Sanchez Ruiz", ""),
		payrollRow("33333333C", "Lucia", "Moreno Gil", ""),
	}
	svc.Run(ctx, job, rows, 0)

	final, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if final.Status != models.ImportCancelled {
		t.Fatalf("progress write resurrected a cancelled job: %s", final.Status)
	}
	if final.Summary != nil {
		t.Fatalf("cancelled job must not carry a completion summary: %+v", final.Summary)
	}
}

func TestRecoverStale(t *testing.T) {
	env, svc := newImportEnv()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	job.Status = models.ImportProcessing
	if err := env.store.Jobs().Update(ctx, job); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// nothing recent counts as stale
	if n, err := svc.RecoverStale(ctx); err != nil || n != 0 {
		t.Fatalf("expected no stale jobs yet, got %d (%v)", n, err)
	}

	svc.stale = -time.Second // treat everything as stale
	n, err := svc.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recovered job, got %d", n)
	}
	final, _ := svc.GetJob(ctx, job.ID)
	if final.Status != models.ImportFailed || final.ErrorMessage == nil {
		t.Fatalf("stale job not failed: %+v", final)
	}
}

func TestRecoverOrphanedIgnoresAge(t *testing.T) {
	env, svc := newImportEnv()
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	job.Status = models.ImportProcessing
	if err := env.store.Jobs().Update(ctx, job); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// freshly updated, so the stale window does not catch it
	if n, err := svc.RecoverStale(ctx); err != nil || n != 0 {
		t.Fatalf("stale recovery should not touch a fresh job, got %d (%v)", n, err)
	}
	// at boot nobody is running it, fresh or not
	n, err := svc.RecoverOrphaned(ctx)
	if err != nil {
		t.Fatalf("recover orphaned: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 orphaned job recovered, got %d", n)
	}
	final, _ := svc.GetJob(ctx, job.ID)
	if final.Status != models.ImportFailed || final.ErrorMessage == nil {
		t.Fatalf("orphaned job not failed: %+v", final)
	}
}

func TestCleanupDeletesOldTerminalJobs(t *testing.T) {
	_, svc := newImportEnv()
	ctx := context.Background()

	keep, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	drop, err := svc.CreateJob(ctx, "sage")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	svc.Run(ctx, drop, nil, 0) // empty run, terminal immediately

	deleted, err := svc.Cleanup(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted job, got %d", deleted)
	}
	if _, err := svc.GetJob(ctx, keep.ID); err != nil {
		t.Fatalf("pending job must survive cleanup: %v", err)
	}
	if _, err := svc.GetJob(ctx, drop.ID); !errors.Is(err, models.ErrJobNotFound) {
		t.Fatalf("terminal job should be gone, got %v", err)
	}
}

func TestResolveBatchSize(t *testing.T) {
	_, svc := newImportEnv()

	if got := svc.resolveBatchSize(100); got != defaultBatchSize {
		t.Fatalf("expected default batch, got %d", got)
	}
	if got := svc.resolveBatchSize(largeFileRows + 1); got != largeBatchSize {
		t.Fatalf("expected large batch, got %d", got)
	}
	t.Setenv("IMPORT_BATCH_SIZE", "7")
	if got := svc.resolveBatchSize(100); got != 7 {
		t.Fatalf("expected env override, got %d", got)
	}
	svc.batchSize = 3
	if got := svc.resolveBatchSize(100); got != 3 {
		t.Fatalf("expected explicit override, got %d", got)
	}
}
