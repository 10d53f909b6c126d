package services

import (
	"context"
	"fmt"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
	"courseadmin/internal/repository"
	"courseadmin/internal/sage"
)

// MatcherConfig holds the identity-matching thresholds. DecisionThreshold is
// the single authoritative cutoff shared by fuzzy matching and the
// requires-decision gate; the UI's color coding reads the same value.
type MatcherConfig struct {
	// DecisionThreshold is the minimum similarity at which an existing user
	// counts as an ambiguous candidate.
	DecisionThreshold float64
	// NSSCollisionScore is the fixed similarity recorded when a different
	// user already holds the row's insurance number.
	NSSCollisionScore float64
	// MinNameLength excludes very short stored names from fuzzy comparison,
	// where edit distance is meaningless.
	MinNameLength int
}

// DefaultMatcherConfig returns the production thresholds.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		DecisionThreshold: 0.90,
		NSSCollisionScore: 0.95,
		MinNameLength:     5,
	}
}

// Candidate is an existing user considered a possible identity match.
type Candidate struct {
	User       models.User
	Similarity float64
}

// Matcher finds existing users that may correspond to an imported row. The
// fuzzy path scans every named user; at current volumes that is fine, and
// the interface keeps the scan swappable for an indexed structure later.
type Matcher struct {
	users repository.UserRepository
	cfg   MatcherConfig
	log   *logrus.Logger
}

func NewMatcher(users repository.UserRepository, cfg MatcherConfig, log *logrus.Logger) *Matcher {
	if cfg.DecisionThreshold <= 0 {
		cfg = DefaultMatcherConfig()
	}
	return &Matcher{users: users, cfg: cfg, log: log}
}

func (m *Matcher) Config() MatcherConfig { return m.cfg }

// Similarity is 1 minus the normalized Levenshtein distance of the two
// strings; 1 means identical, 0 means nothing in common.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// FindSimilar returns the highest-scoring named user at or above the
// decision threshold for the given normalized full name, or nil.
func (m *Matcher) FindSimilar(ctx context.Context, fullName string) (*Candidate, error) {
	if fullName == "" {
		return nil, nil
	}
	users, err := m.users.ListNamed(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users for matching: %w", err)
	}

	var best *Candidate
	for i := range users {
		u := users[i]
		var surname2 string
		if u.Surname2 != nil {
			surname2 = *u.Surname2
		}
		name := sage.NormalizeFullName(u.Name, u.Surname1, surname2)
		if len([]rune(name)) < m.cfg.MinNameLength {
			continue
		}
		score := Similarity(fullName, name)
		if score < m.cfg.DecisionThreshold {
			continue
		}
		if best == nil || score > best.Similarity {
			best = &Candidate{User: u, Similarity: score}
		}
	}
	return best, nil
}
