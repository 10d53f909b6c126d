package models

import "time"

// DecisionAction is a human resolution of an ambiguous identity match.
type DecisionAction string

const (
	ActionLink          DecisionAction = "link"
	ActionCreateNew     DecisionAction = "create_new"
	ActionSkip          DecisionAction = "skip"
	ActionUpdateAndLink DecisionAction = "update_and_link"
)

// ValidDecisionAction reports whether s names a known resolution action.
func ValidDecisionAction(s string) bool {
	switch DecisionAction(s) {
	case ActionLink, ActionCreateNew, ActionSkip, ActionUpdateAndLink:
		return true
	}
	return false
}

// Revertible reports whether the action's effects are fully undoable from
// the decision record alone. Link variants mutate the candidate user via
// gap-filling and no before-image is retained, so only skip qualifies.
func (a DecisionAction) Revertible() bool {
	return a == ActionSkip
}

// ImportDecision is a pending-or-resolved arbitration record for one
// ambiguous row. The raw CSV row is stored so that a later create_new
// resolution replays exactly what was imported, not what the database looks
// like at resolution time.
type ImportDecision struct {
	ID              string          `json:"id" db:"id"`
	CSVName         string          `json:"csvName" db:"csv_name"`
	CSVSurnames     string          `json:"csvSurnames" db:"csv_surnames"`
	CSVDNI          string          `json:"csvDni" db:"csv_dni"`
	DBName          string          `json:"dbName" db:"db_name"`
	DBSurnames      string          `json:"dbSurnames" db:"db_surnames"`
	DBDNI           *string         `json:"dbDni,omitempty" db:"db_dni"`
	Similarity      float64         `json:"similarity" db:"similarity"`
	RawRow          []string        `json:"rawRow" db:"raw_row"`
	CandidateUserID string          `json:"candidateUserId" db:"candidate_user_id"`
	Processed       bool            `json:"processed" db:"processed"`
	Action          *DecisionAction `json:"decisionAction,omitempty" db:"decision_action"`
	Notes           string          `json:"notes" db:"notes"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	ProcessedAt     *time.Time      `json:"processedAt,omitempty" db:"processed_at"`
}
