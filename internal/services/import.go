package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
	"courseadmin/internal/repository"
	"courseadmin/internal/sage"
)

const (
	defaultBatchSize = 100
	largeBatchSize   = 250
	largeFileRows    = 2000
	batchPause       = 25 * time.Millisecond

	// staleAfter is how long a processing job may go without a progress
	// update before recovery treats its worker as dead.
	staleAfter = 10 * time.Minute
)

// ImportService orchestrates one payroll file through the pipeline: job
// lifecycle, batching, progress, per-row failure diversion and recovery.
type ImportService struct {
	jobs     repository.JobRepository
	failed   repository.FailedImportRepository
	pipeline *Pipeline
	log      *logrus.Logger

	batchSize int
	pause     time.Duration
	stale     time.Duration
}

func NewImportService(
	jobs repository.JobRepository,
	failed repository.FailedImportRepository,
	pipeline *Pipeline,
	log *logrus.Logger,
) *ImportService {
	return &ImportService{
		jobs:     jobs,
		failed:   failed,
		pipeline: pipeline,
		log:      log,
		pause:    batchPause,
		stale:    staleAfter,
	}
}

// CreateJob persists a job in pending state; the caller gets the id back
// immediately and processing continues asynchronously.
func (s *ImportService) CreateJob(ctx context.Context, jobType string) (*models.ImportJob, error) {
	job := &models.ImportJob{Type: jobType, Status: models.ImportPending}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *ImportService) GetJob(ctx context.Context, id string) (*models.ImportJob, error) {
	return s.jobs.Get(ctx, id)
}

func (s *ImportService) ListJobs(ctx context.Context, limit int) ([]models.ImportJob, error) {
	return s.jobs.List(ctx, limit)
}

// Cancel requests cancellation. Terminal jobs are rejected; the worker
// notices the status flip at its next batch boundary.
func (s *ImportService) Cancel(ctx context.Context, id string) error {
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return models.ErrJobNotCancellable
	}
	now := time.Now()
	job.Status = models.ImportCancelled
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		// the worker finished first
		if errors.Is(err, models.ErrJobTerminal) {
			return models.ErrJobNotCancellable
		}
		return err
	}
	return nil
}

// ProcessFile runs the whole import for a previously created job. It is
// meant to be called in its own goroutine; every failure path ends in a
// terminal job status, so pollers never wait forever.
func (s *ImportService) ProcessFile(ctx context.Context, jobID, path, ext string) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("import job vanished before processing")
		return
	}

	job.Status = models.ImportProcessing
	if err := s.jobs.Update(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("cannot mark job processing")
		return
	}

	rows, parseErrors, err := readRows(path, ext)
	if err != nil {
		s.failJob(ctx, job, fmt.Errorf("parse input: %w", err))
		return
	}
	s.Run(ctx, job, rows, parseErrors)
}

// readRows dispatches on the upload's extension.
func readRows(path, ext string) ([]sage.RawRow, int, error) {
	if ext == ".xlsx" || ext == ".xls" {
		return sage.ReadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return sage.ReadCSV(f)
}

// Run processes already-parsed rows in batches. Progress is persisted once
// per batch so a concurrent poll always sees monotonically increasing
// counters; cancellation is honored between batches only.
func (s *ImportService) Run(ctx context.Context, job *models.ImportJob, rows []sage.RawRow, parseErrors int) {
	summary := models.ImportSummary{ParseErrors: parseErrors}
	job.TotalRows = len(rows)
	job.ProcessedRows = 0
	if stopped := s.persistProgress(ctx, job); stopped {
		return
	}

	batch := s.resolveBatchSize(len(rows))
	for start := 0; start < len(rows); start += batch {
		current, err := s.jobs.Get(ctx, job.ID)
		if err == nil && current.Status == models.ImportCancelled {
			s.log.WithField("job_id", job.ID).Info("import cancelled, stopping")
			return
		}

		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		for i := start; i < end; i++ {
			outcome := s.processRowSafe(ctx, rows[i], i+1, &summary)
			summary.Add(outcome)
			job.ProcessedRows++
		}

		if stopped := s.persistProgress(ctx, job); stopped {
			return
		}
		if end < len(rows) {
			time.Sleep(s.pause)
		}
	}

	now := time.Now()
	job.Status = models.ImportCompleted
	job.Summary = &summary
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil {
		if errors.Is(err, models.ErrJobTerminal) {
			s.log.WithField("job_id", job.ID).Info("job already terminal, discarding completion")
		} else {
			s.log.WithError(err).WithField("job_id", job.ID).Error("cannot persist final job state")
		}
		return
	}
	s.log.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"rows":      job.TotalRows,
		"created":   summary.Created,
		"updated":   summary.Updated,
		"linked":    summary.Linked,
		"decisions": summary.DecisionsPending,
		"errors":    summary.Errors,
	}).Info("import completed")
}

// persistProgress writes the worker's counters. A true return means the job
// is no longer this worker's to run: it was cancelled (or otherwise finished)
// underneath us, the repository refused the write, and processing must stop
// without touching the persisted terminal state.
func (s *ImportService) persistProgress(ctx context.Context, job *models.ImportJob) bool {
	err := s.jobs.Update(ctx, job)
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrJobTerminal) {
		s.log.WithField("job_id", job.ID).Info("job reached a terminal state elsewhere, stopping")
		return true
	}
	s.failJob(ctx, job, fmt.Errorf("persist progress: %w", err))
	return true
}

// processRowSafe shields the batch from any single row: normalization
// failures, pipeline errors and panics all end up in the failure vault and
// count as one error, never an aborted job.
func (s *ImportService) processRowSafe(ctx context.Context, row sage.RawRow, line int, summary *models.ImportSummary) (outcome models.RowOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.recordFailure(ctx, row, line, fmt.Sprintf("panic: %v", r), summary)
			outcome = models.OutcomeError
		}
	}()

	data, err := sage.Normalize(row, line)
	if err != nil {
		s.recordFailure(ctx, row, line, err.Error(), summary)
		return models.OutcomeError
	}
	result, err := s.pipeline.ProcessRow(ctx, data)
	if err != nil {
		s.recordFailure(ctx, row, line, err.Error(), summary)
		return models.OutcomeError
	}
	return result.Outcome
}

// recordFailure is the failure vault's write path. It must not fail the
// caller: if even the vault write errors, the event goes to the process log
// as a last resort and processing moves on.
func (s *ImportService) recordFailure(ctx context.Context, row sage.RawRow, line int, reason string, summary *models.ImportSummary) {
	record := &models.FailedImportRecord{
		DNI:      row.Field(sage.ColDNI),
		Name:     row.Field(sage.ColName),
		Surnames: row.Field(sage.ColSurnames),
		RawRow:   row,
		Reason:   fmt.Sprintf("row %d: %s", line, reason),
	}
	if err := s.failed.Insert(ctx, record); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"line":   line,
			"reason": reason,
			"row":    []string(row),
		}).Error("failure vault write failed, row preserved in log only")
		return
	}
	summary.FailedRecords++
	s.log.WithFields(logrus.Fields{"line": line, "reason": reason}).Warn("row diverted to failure vault")
}

func (s *ImportService) failJob(ctx context.Context, job *models.ImportJob, cause error) {
	now := time.Now()
	msg := cause.Error()
	job.Status = models.ImportFailed
	job.ErrorMessage = &msg
	job.CompletedAt = &now
	if err := s.jobs.Update(ctx, job); err != nil && !errors.Is(err, models.ErrJobTerminal) {
		s.log.WithError(err).WithField("job_id", job.ID).Error("cannot persist failed job state")
	}
	s.log.WithError(cause).WithField("job_id", job.ID).Error("import failed")
}

// RecoverStale marks jobs abandoned by a dead process as failed. Exposed on
// the admin recovery endpoint; it only touches jobs whose last progress
// update is older than the stale window, so live workers are left alone.
// Re-submitting the same file is idempotent, so failing beats resuming.
func (s *ImportService) RecoverStale(ctx context.Context) (int, error) {
	return s.recoverBefore(ctx, time.Now().Add(-s.stale))
}

// RecoverOrphaned fails every job still marked processing, regardless of how
// fresh its last update is. Meant for startup: this process is the only
// worker, so any processing job found at boot has nobody running it and
// would otherwise keep pollers waiting forever.
func (s *ImportService) RecoverOrphaned(ctx context.Context) (int, error) {
	return s.recoverBefore(ctx, time.Now().Add(time.Minute))
}

func (s *ImportService) recoverBefore(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.jobs.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range stale {
		job := stale[i]
		msg := "interrupted by restart"
		now := time.Now()
		job.Status = models.ImportFailed
		job.ErrorMessage = &msg
		job.CompletedAt = &now
		if err := s.jobs.Update(ctx, &job); err != nil {
			s.log.WithError(err).WithField("job_id", job.ID).Error("cannot recover stale job")
			continue
		}
		recovered++
		s.log.WithField("job_id", job.ID).Warn("stale job marked failed")
	}
	return recovered, nil
}

// ListFailures returns recent failure-vault records for manual review.
func (s *ImportService) ListFailures(ctx context.Context, limit int) ([]models.FailedImportRecord, error) {
	return s.failed.List(ctx, limit)
}

// FailureCount reports the vault's total size.
func (s *ImportService) FailureCount(ctx context.Context) (int64, error) {
	return s.failed.Count(ctx)
}

// Cleanup deletes terminal jobs older than the retention window.
func (s *ImportService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.jobs.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
}

// resolveBatchSize picks the batch: env override first, then larger batches
// for larger files.
func (s *ImportService) resolveBatchSize(totalRows int) int {
	if s.batchSize > 0 {
		return s.batchSize
	}
	if v := os.Getenv("IMPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	if totalRows > largeFileRows {
		return largeBatchSize
	}
	return defaultBatchSize
}
