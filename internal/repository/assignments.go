package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
)

// AssignmentRepository stores user-to-center links. The (user, center) pair
// is unique; repeated imports update the existing row.
type AssignmentRepository interface {
	FindByUserAndCenter(ctx context.Context, userID, centerID string) (*models.UserCenter, error)
	ListByUser(ctx context.Context, userID string) ([]models.UserCenter, error)
	Create(ctx context.Context, assignment *models.UserCenter) error
	Update(ctx context.Context, assignment *models.UserCenter) error
}

type assignmentRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewAssignmentRepository(db *sql.DB, log *logrus.Logger) AssignmentRepository {
	return &assignmentRepo{db: db, log: log}
}

const assignmentColumns = `id, user_id, center_id, start_date, end_date, is_main_center, created_at, updated_at`

func (r *assignmentRepo) FindByUserAndCenter(ctx context.Context, userID, centerID string) (*models.UserCenter, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+assignmentColumns+` FROM user_centers WHERE user_id=$1 AND center_id=$2`,
		userID, centerID)
	var a models.UserCenter
	err := row.Scan(&a.ID, &a.UserID, &a.CenterID, &a.StartDate, &a.EndDate,
		&a.IsMainCenter, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &a, nil
}

func (r *assignmentRepo) ListByUser(ctx context.Context, userID string) ([]models.UserCenter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assignmentColumns+` FROM user_centers WHERE user_id=$1 ORDER BY created_at ASC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []models.UserCenter
	for rows.Next() {
		var a models.UserCenter
		if err := rows.Scan(&a.ID, &a.UserID, &a.CenterID, &a.StartDate, &a.EndDate,
			&a.IsMainCenter, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *assignmentRepo) Create(ctx context.Context, assignment *models.UserCenter) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_centers (id, user_id, center_id, start_date, end_date, is_main_center, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (user_id, center_id) DO UPDATE SET
			start_date=EXCLUDED.start_date,
			end_date=EXCLUDED.end_date,
			updated_at=EXCLUDED.updated_at
	`, assignment.ID, assignment.UserID, assignment.CenterID,
		assignment.StartDate, assignment.EndDate, assignment.IsMainCenter, now)
	if err != nil {
		r.log.WithError(err).WithField("user_id", assignment.UserID).Error("create assignment failed")
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

func (r *assignmentRepo) Update(ctx context.Context, assignment *models.UserCenter) error {
	assignment.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_centers SET start_date=$1, end_date=$2, is_main_center=$3, updated_at=$4
		WHERE id=$5
	`, assignment.StartDate, assignment.EndDate, assignment.IsMainCenter,
		assignment.UpdatedAt, assignment.ID)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	return nil
}
