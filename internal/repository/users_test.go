package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func userRows(id, dni string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "dni", "nss", "name", "surname1", "surname2", "email", "birth_date",
		"salary_group", "category", "employee_code", "sex", "created_at", "updated_at",
	}).AddRow(id, dni, nil, "Maria", "Garcia", "Lopez", nil, nil, nil, nil, nil, nil, now, now)
}

func TestUserRepoFindByDNI(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewUserRepository(db, quietLogger())

	mock.ExpectQuery(`SELECT (.+) FROM users WHERE dni=\$1`).
		WithArgs("11111111A").
		WillReturnRows(userRows("u1", "11111111A"))

	user, err := repo.FindByDNI(context.Background(), "11111111A")
	if err != nil {
		t.Fatalf("find by dni: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.Surname2 == nil || *user.Surname2 != "Lopez" {
		t.Fatalf("surname2 not scanned: %v", user.Surname2)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepoFindByDNIMissingIsNil(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewUserRepository(db, quietLogger())

	empty := sqlmock.NewRows([]string{
		"id", "dni", "nss", "name", "surname1", "surname2", "email", "birth_date",
		"salary_group", "category", "employee_code", "sex", "created_at", "updated_at",
	})
	mock.ExpectQuery(`SELECT (.+) FROM users WHERE dni=\$1`).
		WithArgs("99999999Z").
		WillReturnRows(empty)

	user, err := repo.FindByDNI(context.Background(), "99999999Z")
	if err != nil {
		t.Fatalf("find by dni: %v", err)
	}
	if user != nil {
		t.Fatalf("expected nil for missing user, got %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepoUpdateMissingUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewUserRepository(db, quietLogger())

	mock.ExpectExec(`UPDATE users SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Update(context.Background(), &models.User{ID: "missing"})
	if !errors.Is(err, models.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepoCreateAssignsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewUserRepository(db, quietLogger())

	mock.ExpectExec(`INSERT INTO users`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := &models.User{Name: "Maria", Surname1: "Garcia"}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.ID == "" {
		t.Fatalf("expected generated id")
	}
	if user.CreatedAt.IsZero() || user.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
