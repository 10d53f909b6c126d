package repository

import (
	"context"
	"errors"
	"testing"

	"courseadmin/internal/models"
)

func TestMemoryStoreRejectsDuplicateDNI(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	dni := "11111111A"

	if err := store.Users().Create(ctx, &models.User{DNI: &dni, Name: "Maria", Surname1: "Garcia"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.Users().Create(ctx, &models.User{DNI: &dni, Name: "Otra", Surname1: "Persona"}); err == nil {
		t.Fatalf("expected duplicate dni rejection")
	}
}

func TestMemoryStoreSinglePendingDecisionPerPair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &models.ImportDecision{CSVDNI: "11111111A", CandidateUserID: "u1"}
	if err := store.Decisions().Insert(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := &models.ImportDecision{CSVDNI: "11111111A", CandidateUserID: "u1"}
	if err := store.Decisions().Insert(ctx, dup); err == nil {
		t.Fatalf("expected pending pair uniqueness violation")
	}

	if err := store.Decisions().MarkProcessed(ctx, first.ID, models.ActionSkip, ""); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	// once resolved, a new pending decision for the pair is allowed again
	if err := store.Decisions().Insert(ctx, dup); err != nil {
		t.Fatalf("insert after resolution: %v", err)
	}
}

func TestMemoryStoreJobUpdateRefusesTerminal(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := &models.ImportJob{Type: "sage", Status: models.ImportProcessing}
	if err := store.Jobs().Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	job.Status = models.ImportCancelled
	if err := store.Jobs().Update(ctx, job); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// a worker holding a stale processing copy must not undo the cancel
	stale := &models.ImportJob{ID: job.ID, Type: "sage", Status: models.ImportProcessing, ProcessedRows: 5}
	if err := store.Jobs().Update(ctx, stale); !errors.Is(err, models.ErrJobTerminal) {
		t.Fatalf("expected terminal rejection, got %v", err)
	}
	persisted, err := store.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if persisted.Status != models.ImportCancelled || persisted.ProcessedRows != 0 {
		t.Fatalf("terminal job mutated: %+v", persisted)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user := &models.User{Name: "Maria", Surname1: "Garcia"}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	fetched, err := store.Users().Get(ctx, user.ID)
	if err != nil || fetched == nil {
		t.Fatalf("get: %v", err)
	}
	fetched.Name = "Mutated"

	again, _ := store.Users().Get(ctx, user.ID)
	if again.Name != "Maria" {
		t.Fatalf("store leaked internal state: %q", again.Name)
	}
}
