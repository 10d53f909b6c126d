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

// UserRepository is the person store. Find methods return (nil, nil) when no
// row matches.
type UserRepository interface {
	Get(ctx context.Context, id string) (*models.User, error)
	FindByDNI(ctx context.Context, dni string) (*models.User, error)
	FindByNSS(ctx context.Context, nss string) (*models.User, error)
	// ListNamed returns users that have both a name and a first surname,
	// the population the fuzzy matcher scans.
	ListNamed(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
}

type userRepo struct {
	db  *sql.DB
	log *logrus.Logger
}

func NewUserRepository(db *sql.DB, log *logrus.Logger) UserRepository {
	return &userRepo{db: db, log: log}
}

const userColumns = `id, dni, nss, name, surname1, surname2, email, birth_date,
	salary_group, category, employee_code, sex, created_at, updated_at`

func (r *userRepo) Get(ctx context.Context, id string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) FindByDNI(ctx context.Context, dni string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE dni=$1`, dni))
}

func (r *userRepo) FindByNSS(ctx context.Context, nss string) (*models.User, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE nss=$1 ORDER BY created_at ASC LIMIT 1`, nss))
}

func (r *userRepo) ListNamed(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE name <> '' AND surname1 <> ''`)
	if err != nil {
		return nil, fmt.Errorf("list named users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *user)
	}
	return out, rows.Err()
}

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, dni, nss, name, surname1, surname2, email, birth_date,
			salary_group, category, employee_code, sex, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
	`, user.ID, user.DNI, user.NSS, user.Name, user.Surname1, user.Surname2,
		user.Email, user.BirthDate, user.SalaryGroup, user.Category,
		user.EmployeeCode, user.Sex, now)
	if err != nil {
		r.log.WithError(err).WithField("dni", deref(user.DNI)).Error("create user failed")
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepo) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET nss=$1, email=$2, birth_date=$3, salary_group=$4,
			category=$5, employee_code=$6, sex=$7, updated_at=$8
		WHERE id=$9
	`, user.NSS, user.Email, user.BirthDate, user.SalaryGroup,
		user.Category, user.EmployeeCode, user.Sex, user.UpdatedAt, user.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *userRepo) scanOne(row *sql.Row) (*models.User, error) {
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.DNI, &u.NSS, &u.Name, &u.Surname1, &u.Surname2,
		&u.Email, &u.BirthDate, &u.SalaryGroup, &u.Category, &u.EmployeeCode,
		&u.Sex, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
