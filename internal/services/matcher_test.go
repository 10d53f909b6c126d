package services

import (
	"context"
	"testing"
)

func TestSimilarity(t *testing.T) {
	if got := Similarity("maria garcia lopez", "maria garcia lopez"); got != 1 {
		t.Fatalf("identical strings should score 1, got %f", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("two empty strings are identical, got %f", got)
	}
	// one substitution over 18 runes
	got := Similarity("maria garcia lopez", "maria garcia lopes")
	if got < 0.94 || got > 0.95 {
		t.Fatalf("expected ~0.944 for single-letter typo, got %f", got)
	}
	if got := Similarity("maria garcia lopez", "fernando iglesias prieto"); got > 0.5 {
		t.Fatalf("unrelated names scored too high: %f", got)
	}
}

func TestFindSimilarRespectsThreshold(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	matcher := env.pipeline.matcher

	if _, err := env.pipeline.ProcessRow(ctx, normalizeRow(t, payrollRow("11111111A", "Maria", "Garcia Lopez", ""))); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	candidate, err := matcher.FindSimilar(ctx, "maria garcia lopes")
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if candidate == nil {
		t.Fatalf("expected candidate above threshold")
	}
	if candidate.User.Name != "Maria" {
		t.Fatalf("unexpected candidate: %+v", candidate.User)
	}

	candidate, err = matcher.FindSimilar(ctx, "maria gonzalez serrano")
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if candidate != nil {
		t.Fatalf("expected no candidate below threshold, got %+v", candidate)
	}
}

func TestFindSimilarSkipsShortNames(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.pipeline.ProcessRow(ctx, normalizeRow(t, payrollRow("11111111A", "Al", "B", ""))); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	candidate, err := env.pipeline.matcher.FindSimilar(ctx, "al b")
	if err != nil {
		t.Fatalf("find similar: %v", err)
	}
	if candidate != nil {
		t.Fatalf("short stored names must be excluded from fuzzy matching")
	}
}

func TestNewMatcherDefaultsOnZeroConfig(t *testing.T) {
	env := newTestEnv()
	m := NewMatcher(env.store.Users(), MatcherConfig{}, discardLogger())
	if m.Config().DecisionThreshold != DefaultMatcherConfig().DecisionThreshold {
		t.Fatalf("zero config should fall back to defaults, got %+v", m.Config())
	}
}
