package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
)

// JobRepository persists import-job lifecycle state.
type JobRepository interface {
	Create(ctx context.Context, job *models.ImportJob) error
	Get(ctx context.Context, id string) (*models.ImportJob, error)
	Update(ctx context.Context, job *models.ImportJob) error
	List(ctx context.Context, limit int) ([]models.ImportJob, error)
	// ListStale returns jobs stuck in processing with no update since cutoff,
	// the signature of a process that died mid-run.
	ListStale(ctx context.Context, cutoff time.Time) ([]models.ImportJob, error)
	// DeleteTerminalBefore removes completed/failed/cancelled jobs older than
	// cutoff and reports how many were deleted.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type jobRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewJobRepository(db *sql.DB, log *logrus.Logger) JobRepository {
	return &jobRepo{db: db, log: log}
}

const jobColumns = `id, type, status, total_rows, processed_rows, error_message,
	result_summary, created_at, updated_at, completed_at`

func (r *jobRepo) Create(ctx context.Context, job *models.ImportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ImportPending
	}
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_jobs (id, type, status, total_rows, processed_rows, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, job.ID, job.Type, job.Status, job.TotalRows, job.ProcessedRows, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	r.log.WithFields(logrus.Fields{"job_id": job.ID, "type": job.Type}).Info("import job created")
	return nil
}

func (r *jobRepo) Get(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrJobNotFound
	}
	return job, err
}

func (r *jobRepo) Update(ctx context.Context, job *models.ImportJob) error {
	job.UpdatedAt = time.Now()
	var summary []byte
	if job.Summary != nil {
		b, err := json.Marshal(job.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summary = b
	}
	// The status guard keeps terminal states sticky: a worker whose job was
	// cancelled underneath it must not clobber the cancellation with its
	// in-flight progress.
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs SET status=$1, total_rows=$2, processed_rows=$3,
			error_message=$4, result_summary=$5, updated_at=$6, completed_at=$7
		WHERE id=$8 AND status NOT IN ($9,$10,$11)
	`, job.Status, job.TotalRows, job.ProcessedRows, job.ErrorMessage,
		summary, job.UpdatedAt, job.CompletedAt, job.ID,
		models.ImportCompleted, models.ImportFailed, models.ImportCancelled)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status models.ImportJobStatus
		err := r.db.QueryRowContext(ctx,
			`SELECT status FROM import_jobs WHERE id=$1`, job.ID).Scan(&status)
		if err == sql.ErrNoRows {
			return models.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return models.ErrJobTerminal
	}
	return nil
}

func (r *jobRepo) List(ctx context.Context, limit int) ([]models.ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryMany(ctx,
		`SELECT `+jobColumns+` FROM import_jobs ORDER BY created_at DESC LIMIT $1`, limit)
}

func (r *jobRepo) ListStale(ctx context.Context, cutoff time.Time) ([]models.ImportJob, error) {
	return r.queryMany(ctx, `
		SELECT `+jobColumns+` FROM import_jobs
		WHERE status=$1 AND updated_at < $2
	`, models.ImportProcessing, cutoff)
}

func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM import_jobs
		WHERE status IN ($1,$2,$3) AND created_at < $4
	`, models.ImportCompleted, models.ImportFailed, models.ImportCancelled, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return res.RowsAffected()
}

func (r *jobRepo) queryMany(ctx context.Context, query string, args ...any) ([]models.ImportJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ImportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row rowScanner) (*models.ImportJob, error) {
	var j models.ImportJob
	var summary []byte
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.TotalRows, &j.ProcessedRows,
		&j.ErrorMessage, &summary, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		j.Summary = &models.ImportSummary{}
		if err := json.Unmarshal(summary, j.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
	}
	return &j, nil
}
