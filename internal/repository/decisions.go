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

// DecisionRepository stores arbitration records. The partial unique index on
// (csv_dni, candidate_user_id) WHERE NOT processed backs the at-most-one
// pending decision per pair invariant.
type DecisionRepository interface {
	Get(ctx context.Context, id string) (*models.ImportDecision, error)
	// FindProcessedPair returns the most recent processed decision for the
	// exact (CSV DNI, candidate) pair, used to replay prior resolutions.
	FindProcessedPair(ctx context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error)
	// FindPending returns an unprocessed decision matching either the CSV DNI
	// or the candidate user, whichever exists.
	FindPending(ctx context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error)
	Insert(ctx context.Context, decision *models.ImportDecision) error
	MarkProcessed(ctx context.Context, id string, action models.DecisionAction, notes string) error
	// Revert returns a processed decision to the pending pool, clearing its
	// action and appending note to the audit trail.
	Revert(ctx context.Context, id string, note string) error
	List(ctx context.Context, processed bool, limit int) ([]models.ImportDecision, error)
}

type decisionRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewDecisionRepository(db *sql.DB, log *logrus.Logger) DecisionRepository {
	return &decisionRepo{db: db, log: log}
}

const decisionColumns = `id, csv_name, csv_surnames, csv_dni, db_name, db_surnames, db_dni,
	similarity, raw_row, candidate_user_id, processed, decision_action, notes, created_at, processed_at`

func (r *decisionRepo) Get(ctx context.Context, id string) (*models.ImportDecision, error) {
	return r.queryOne(ctx, `SELECT `+decisionColumns+` FROM import_decisions WHERE id=$1`, id)
}

func (r *decisionRepo) FindProcessedPair(ctx context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error) {
	return r.queryOne(ctx, `
		SELECT `+decisionColumns+` FROM import_decisions
		WHERE processed AND csv_dni=$1 AND candidate_user_id=$2
		ORDER BY processed_at DESC LIMIT 1
	`, csvDNI, candidateUserID)
}

func (r *decisionRepo) FindPending(ctx context.Context, csvDNI, candidateUserID string) (*models.ImportDecision, error) {
	return r.queryOne(ctx, `
		SELECT `+decisionColumns+` FROM import_decisions
		WHERE NOT processed AND ((csv_dni=$1 AND $1 <> '') OR candidate_user_id=$2)
		ORDER BY created_at ASC LIMIT 1
	`, csvDNI, candidateUserID)
}

func (r *decisionRepo) Insert(ctx context.Context, decision *models.ImportDecision) error {
	if decision.ID == "" {
		decision.ID = uuid.NewString()
	}
	decision.CreatedAt = time.Now()
	raw, err := json.Marshal(decision.RawRow)
	if err != nil {
		return fmt.Errorf("marshal raw row: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO import_decisions (id, csv_name, csv_surnames, csv_dni, db_name, db_surnames,
			db_dni, similarity, raw_row, candidate_user_id, processed, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,'',$11)
	`, decision.ID, decision.CSVName, decision.CSVSurnames, decision.CSVDNI,
		decision.DBName, decision.DBSurnames, decision.DBDNI, decision.Similarity,
		raw, decision.CandidateUserID, decision.CreatedAt)
	if err != nil {
		r.log.WithError(err).WithField("csv_dni", decision.CSVDNI).Error("insert decision failed")
		return fmt.Errorf("insert decision: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"decision_id": decision.ID,
		"csv_dni":     decision.CSVDNI,
		"candidate":   decision.CandidateUserID,
		"similarity":  decision.Similarity,
	}).Info("pending decision created")
	return nil
}

func (r *decisionRepo) MarkProcessed(ctx context.Context, id string, action models.DecisionAction, notes string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_decisions
		SET processed=TRUE, decision_action=$1, processed_at=$2,
			notes = CASE WHEN notes='' THEN $3 ELSE notes || E'\n' || $3 END
		WHERE id=$4 AND NOT processed
	`, string(action), time.Now(), notes, id)
	if err != nil {
		return fmt.Errorf("mark decision processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrDecisionNotFound
	}
	return nil
}

func (r *decisionRepo) Revert(ctx context.Context, id string, note string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_decisions
		SET processed=FALSE, decision_action=NULL, processed_at=NULL,
			notes = CASE WHEN notes='' THEN $1 ELSE notes || E'\n' || $1 END
		WHERE id=$2 AND processed
	`, note, id)
	if err != nil {
		return fmt.Errorf("revert decision: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrDecisionNotFound
	}
	return nil
}

func (r *decisionRepo) List(ctx context.Context, processed bool, limit int) ([]models.ImportDecision, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+decisionColumns+` FROM import_decisions
		WHERE processed=$1 ORDER BY created_at DESC LIMIT $2
	`, processed, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []models.ImportDecision
	for rows.Next() {
		decision, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *decision)
	}
	return out, rows.Err()
}

func (r *decisionRepo) queryOne(ctx context.Context, query string, args ...any) (*models.ImportDecision, error) {
	decision, err := scanDecision(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query decision: %w", err)
	}
	return decision, nil
}

func scanDecision(row rowScanner) (*models.ImportDecision, error) {
	var d models.ImportDecision
	var raw []byte
	var action sql.NullString
	err := row.Scan(&d.ID, &d.CSVName, &d.CSVSurnames, &d.CSVDNI, &d.DBName,
		&d.DBSurnames, &d.DBDNI, &d.Similarity, &raw, &d.CandidateUserID,
		&d.Processed, &action, &d.Notes, &d.CreatedAt, &d.ProcessedAt)
	if err != nil {
		return nil, err
	}
	if action.Valid {
		a := models.DecisionAction(action.String)
		d.Action = &a
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &d.RawRow); err != nil {
			return nil, fmt.Errorf("unmarshal raw row: %w", err)
		}
	}
	return &d, nil
}
