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

// CompanyRepository and CenterRepository are find-or-create only: the import
// pipeline never updates an organizational entity after it exists. Both rely
// on unique indexes plus on-conflict re-select, so concurrent jobs hitting
// the same key cannot produce duplicates.
type CompanyRepository interface {
	FindByCIFOrImportID(ctx context.Context, cif, importID string) (*models.Company, error)
	FindOrCreate(ctx context.Context, company *models.Company) (*models.Company, error)
}

type CenterRepository interface {
	FindByImportKey(ctx context.Context, key string) (*models.Center, error)
	FindOrCreate(ctx context.Context, center *models.Center) (*models.Center, error)
}

type companyRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewCompanyRepository(db *sql.DB, log *logrus.Logger) CompanyRepository {
	return &companyRepo{db: db, log: log}
}

func (r *companyRepo) FindByCIFOrImportID(ctx context.Context, cif, importID string) (*models.Company, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, legal_name, cif, import_id, created_at FROM companies
		WHERE (cif=$1 AND $1 <> '') OR import_id=$2
		ORDER BY created_at ASC LIMIT 1
	`, cif, importID)
	var c models.Company
	err := row.Scan(&c.ID, &c.Name, &c.LegalName, &c.CIF, &c.ImportID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find company: %w", err)
	}
	return &c, nil
}

func (r *companyRepo) FindOrCreate(ctx context.Context, company *models.Company) (*models.Company, error) {
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	company.CreatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, legal_name, cif, import_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (import_id) DO NOTHING
	`, company.ID, company.Name, company.LegalName, company.CIF, company.ImportID, company.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.log.WithFields(logrus.Fields{"company_id": company.ID, "import_id": company.ImportID}).
			Info("company created")
		return company, nil
	}
	// lost the race or the company already existed
	return r.FindByCIFOrImportID(ctx, deref(company.CIF), company.ImportID)
}

type centerRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewCenterRepository(db *sql.DB, log *logrus.Logger) CenterRepository {
	return &centerRepo{db: db, log: log}
}

func (r *centerRepo) FindByImportKey(ctx context.Context, key string) (*models.Center, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, code, import_key, created_at FROM centers
		WHERE import_key=$1
	`, key)
	var c models.Center
	err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Code, &c.ImportKey, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find center: %w", err)
	}
	return &c, nil
}

func (r *centerRepo) FindOrCreate(ctx context.Context, center *models.Center) (*models.Center, error) {
	if center.ID == "" {
		center.ID = uuid.NewString()
	}
	center.CreatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO centers (id, company_id, name, code, import_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (import_key) DO NOTHING
	`, center.ID, center.CompanyID, center.Name, center.Code, center.ImportKey, center.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert center: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		r.log.WithFields(logrus.Fields{"center_id": center.ID, "import_key": center.ImportKey}).
			Info("center created")
		return center, nil
	}
	return r.FindByImportKey(ctx, center.ImportKey)
}
