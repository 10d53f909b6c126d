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

// FailedImportRepository is the failure vault's storage: append-only, never
// updated or deleted by the pipeline.
type FailedImportRepository interface {
	Insert(ctx context.Context, record *models.FailedImportRecord) error
	List(ctx context.Context, limit int) ([]models.FailedImportRecord, error)
	Count(ctx context.Context) (int64, error)
}

type failedRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewFailedImportRepository(db *sql.DB, log *logrus.Logger) FailedImportRepository {
	return &failedRepo{db: db, log: log}
}

func (r *failedRepo) Insert(ctx context.Context, record *models.FailedImportRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	record.CreatedAt = time.Now()
	raw, err := json.Marshal(record.RawRow)
	if err != nil {
		return fmt.Errorf("marshal raw row: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_import_records (id, dni, name, surnames, raw_row, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, record.ID, record.DNI, record.Name, record.Surnames, raw, record.Reason, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert failed record: %w", err)
	}
	return nil
}

func (r *failedRepo) List(ctx context.Context, limit int) ([]models.FailedImportRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, dni, name, surnames, raw_row, reason, created_at
		FROM failed_import_records ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed records: %w", err)
	}
	defer rows.Close()

	var out []models.FailedImportRecord
	for rows.Next() {
		var rec models.FailedImportRecord
		var raw []byte
		if err := rows.Scan(&rec.ID, &rec.DNI, &rec.Name, &rec.Surnames, &raw,
			&rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &rec.RawRow); err != nil {
				return nil, fmt.Errorf("unmarshal raw row: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *failedRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM failed_import_records`).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("count failed records: %w", err)
	}
	return n, nil
}
