package models

import "time"

type ImportJobStatus string

const (
	ImportPending    ImportJobStatus = "pending"
	ImportProcessing ImportJobStatus = "processing"
	ImportCompleted  ImportJobStatus = "completed"
	ImportFailed     ImportJobStatus = "failed"
	ImportCancelled  ImportJobStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are sticky:
// the orchestrator never moves a job out of one.
func (s ImportJobStatus) Terminal() bool {
	return s == ImportCompleted || s == ImportFailed || s == ImportCancelled
}

// RowOutcome is the single bucket every processed row falls into.
type RowOutcome string

const (
	OutcomeCreated          RowOutcome = "created"
	OutcomeUpdated          RowOutcome = "updated"
	OutcomeLinked           RowOutcome = "linked"
	OutcomeSkipped          RowOutcome = "skipped"
	OutcomeDecisionRequired RowOutcome = "decision_required"
	OutcomeError            RowOutcome = "error"
)

// ImportSummary is the terminal tally persisted on the job row. Every input
// row is accounted for in exactly one counter (or as a parse error).
type ImportSummary struct {
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Linked           int `json:"linked"`
	Skipped          int `json:"skipped"`
	DecisionsPending int `json:"decisionsPending"`
	Errors           int `json:"errors"`
	ParseErrors      int `json:"parseErrors"`
	FailedRecords    int `json:"failedRecords"`
}

// Add increments the counter for one row outcome.
func (s *ImportSummary) Add(outcome RowOutcome) {
	switch outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeLinked:
		s.Linked++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeDecisionRequired:
		s.DecisionsPending++
	case OutcomeError:
		s.Errors++
	}
}

// ImportJob tracks one uploaded payroll file through the pipeline.
type ImportJob struct {
	ID            string          `json:"id" db:"id"`
	Type          string          `json:"type" db:"type"`
	Status        ImportJobStatus `json:"status" db:"status"`
	TotalRows     int             `json:"totalRows" db:"total_rows"`
	ProcessedRows int             `json:"processedRows" db:"processed_rows"`
	ErrorMessage  *string         `json:"errorMessage,omitempty" db:"error_message"`
	Summary       *ImportSummary  `json:"resultSummary,omitempty" db:"result_summary"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}

// Progress derives the completion fraction from the two counters. It is
// never stored: the counters are the source of truth.
func (j *ImportJob) Progress() float64 {
	if j.TotalRows == 0 {
		return 0
	}
	return float64(j.ProcessedRows) / float64(j.TotalRows)
}
