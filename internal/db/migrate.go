package db

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order at startup. The import pipeline assumes
// every table here already exists; nothing is created lazily at call time.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		dni           TEXT,
		nss           TEXT,
		name          TEXT NOT NULL DEFAULT '',
		surname1      TEXT NOT NULL DEFAULT '',
		surname2      TEXT,
		email         TEXT,
		birth_date    DATE,
		salary_group  TEXT,
		category      TEXT,
		employee_code TEXT,
		sex           TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_dni_key ON users (dni) WHERE dni IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS users_nss_idx ON users (nss) WHERE nss IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS companies (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		legal_name TEXT NOT NULL DEFAULT '',
		cif        TEXT,
		import_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS companies_cif_key ON companies (cif) WHERE cif IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS companies_import_id_key ON companies (import_id)`,

	`CREATE TABLE IF NOT EXISTS centers (
		id         TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies (id),
		name       TEXT NOT NULL,
		code       TEXT,
		import_key TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS centers_import_key_key ON centers (import_key)`,

	`CREATE TABLE IF NOT EXISTS user_centers (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL REFERENCES users (id),
		center_id      TEXT NOT NULL REFERENCES centers (id),
		start_date     DATE,
		end_date       DATE,
		is_main_center BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS user_centers_pair_key ON user_centers (user_id, center_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS user_centers_main_key ON user_centers (user_id) WHERE is_main_center`,

	`CREATE TABLE IF NOT EXISTS import_jobs (
		id             TEXT PRIMARY KEY,
		type           TEXT NOT NULL,
		status         TEXT NOT NULL,
		total_rows     INTEGER NOT NULL DEFAULT 0,
		processed_rows INTEGER NOT NULL DEFAULT 0,
		error_message  TEXT,
		result_summary JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at   TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS import_jobs_status_idx ON import_jobs (status, updated_at)`,

	`CREATE TABLE IF NOT EXISTS import_decisions (
		id                TEXT PRIMARY KEY,
		csv_name          TEXT NOT NULL DEFAULT '',
		csv_surnames      TEXT NOT NULL DEFAULT '',
		csv_dni           TEXT NOT NULL DEFAULT '',
		db_name           TEXT NOT NULL DEFAULT '',
		db_surnames       TEXT NOT NULL DEFAULT '',
		db_dni            TEXT,
		similarity        DOUBLE PRECISION NOT NULL DEFAULT 0,
		raw_row           JSONB NOT NULL,
		candidate_user_id TEXT NOT NULL REFERENCES users (id),
		processed         BOOLEAN NOT NULL DEFAULT FALSE,
		decision_action   TEXT,
		notes             TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at      TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS import_decisions_pending_pair_key
		ON import_decisions (csv_dni, candidate_user_id) WHERE NOT processed`,
	`CREATE INDEX IF NOT EXISTS import_decisions_processed_idx ON import_decisions (processed, created_at)`,

	`CREATE TABLE IF NOT EXISTS failed_import_records (
		id         TEXT PRIMARY KEY,
		dni        TEXT NOT NULL DEFAULT '',
		name       TEXT NOT NULL DEFAULT '',
		surnames   TEXT NOT NULL DEFAULT '',
		raw_row    JSONB NOT NULL,
		reason     TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Migrate creates the schema. Statements are idempotent, so re-running at
// every boot is safe.
func Migrate(ctx context.Context, pool *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
