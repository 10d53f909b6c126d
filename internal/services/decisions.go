package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"courseadmin/internal/models"
	"courseadmin/internal/repository"
	"courseadmin/internal/sage"
)

// DecisionService exposes the human side of identity arbitration: listing
// pending cases, resolving them and reverting revertible resolutions.
type DecisionService struct {
	decisions repository.DecisionRepository
	users     repository.UserRepository
	pipeline  *Pipeline
	log       *logrus.Logger
}

func NewDecisionService(
	decisions repository.DecisionRepository,
	users repository.UserRepository,
	pipeline *Pipeline,
	log *logrus.Logger,
) *DecisionService {
	return &DecisionService{decisions: decisions, users: users, pipeline: pipeline, log: log}
}

func (s *DecisionService) List(ctx context.Context, processed bool, limit int) ([]models.ImportDecision, error) {
	return s.decisions.List(ctx, processed, limit)
}

func (s *DecisionService) Get(ctx context.Context, id string) (*models.ImportDecision, error) {
	decision, err := s.decisions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if decision == nil {
		return nil, models.ErrDecisionNotFound
	}
	return decision, nil
}

// Resolve applies a human decision. create_new replays the originally stored
// raw row, not anything supplied at resolution time, so the outcome is the
// same no matter how much later the human answers.
func (s *DecisionService) Resolve(ctx context.Context, id, action, notes string) error {
	if !models.ValidDecisionAction(action) {
		return models.ErrInvalidDecisionAction
	}
	decision, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if decision.Processed {
		return models.ErrDecisionAlreadyProcessed
	}

	row, err := sage.Normalize(sage.RawRow(decision.RawRow), 1)
	if err != nil {
		return fmt.Errorf("replay stored row: %w", err)
	}

	act := models.DecisionAction(action)
	switch act {
	case models.ActionSkip:
		// no user or relationship mutation

	case models.ActionLink:
		if err := s.linkCandidate(ctx, decision, row, false); err != nil {
			return err
		}

	case models.ActionUpdateAndLink:
		if err := s.linkCandidate(ctx, decision, row, true); err != nil {
			return err
		}

	case models.ActionCreateNew:
		if err := s.createOrReuse(ctx, row); err != nil {
			return err
		}
	}

	if err := s.decisions.MarkProcessed(ctx, id, act, notes); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"decision_id": id, "action": action}).Info("decision resolved")
	return nil
}

// createOrReuse creates the user for a create_new resolution. An earlier
// attempt may have created the user and then died before the decision was
// marked processed; retrying must reuse that user instead of tripping the
// unique DNI constraint and wedging the decision forever.
func (s *DecisionService) createOrReuse(ctx context.Context, row *sage.ProcessedUserData) error {
	if row.DNI != "" {
		existing, err := s.users.FindByDNI(ctx, row.DNI)
		if err != nil {
			return err
		}
		if existing != nil {
			return s.pipeline.ApplyRelationships(ctx, existing.ID, row)
		}
	}
	_, err := s.pipeline.CreateUser(ctx, row)
	return err
}

// linkCandidate attaches the row to the candidate user. overwrite applies
// the CSV values even over existing data (the update_and_link variant);
// otherwise only gaps are filled.
func (s *DecisionService) linkCandidate(ctx context.Context, decision *models.ImportDecision, row *sage.ProcessedUserData, overwrite bool) error {
	user, err := s.users.Get(ctx, decision.CandidateUserID)
	if err != nil {
		return err
	}
	if user == nil {
		return models.ErrUserNotFound
	}

	changed := GapFill(user, row)
	if overwrite {
		changed = overwriteFromRow(user, row) || changed
	}
	if changed {
		if err := s.users.Update(ctx, user); err != nil {
			return err
		}
	}
	return s.pipeline.ApplyRelationships(ctx, user.ID, row)
}

// overwriteFromRow replaces the gap-fillable fields with the CSV values
// whenever the CSV supplies one. Used only for explicit human overrides.
func overwriteFromRow(user *models.User, d *sage.ProcessedUserData) bool {
	changed := false
	if d.NSS != "" && (user.NSS == nil || *user.NSS != d.NSS) {
		user.NSS = ptr(d.NSS)
		changed = true
	}
	if d.Email != "" && (user.Email == nil || *user.Email != d.Email) {
		user.Email = ptr(d.Email)
		changed = true
	}
	if d.BirthDate != nil && (user.BirthDate == nil || !user.BirthDate.Equal(*d.BirthDate)) {
		user.BirthDate = d.BirthDate
		changed = true
	}
	if d.PayGroup != "" && (user.SalaryGroup == nil || *user.SalaryGroup != d.PayGroup) {
		user.SalaryGroup = ptr(d.PayGroup)
		changed = true
	}
	if d.Category != "" && (user.Category == nil || *user.Category != d.Category) {
		user.Category = ptr(d.Category)
		changed = true
	}
	return changed
}

// Revert returns a processed decision to the pending pool. Only actions
// whose effects are fully undoable from the record itself qualify; link
// variants mutated the user and cannot be unwound.
func (s *DecisionService) Revert(ctx context.Context, id, note string) error {
	decision, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !decision.Processed {
		return models.ErrDecisionNotProcessed
	}
	if decision.Action == nil || !decision.Action.Revertible() {
		return models.ErrDecisionNotRevertible
	}
	if note == "" {
		note = fmt.Sprintf("reverted %s", *decision.Action)
	}
	if err := s.decisions.Revert(ctx, id, note); err != nil {
		return err
	}
	s.log.WithField("decision_id", id).Info("decision reverted")
	return nil
}
