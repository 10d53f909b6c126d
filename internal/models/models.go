package models

import (
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when an import job cannot be located.
	ErrJobNotFound = errors.New("job_not_found")
	// ErrJobNotCancellable indicates the job already reached a terminal state.
	ErrJobNotCancellable = errors.New("job_not_cancellable")
	// ErrJobTerminal rejects any write to a job that already reached a
	// terminal state. Terminal states are sticky.
	ErrJobTerminal = errors.New("job_terminal")
	// ErrDecisionNotFound is returned when a decision cannot be located.
	ErrDecisionNotFound = errors.New("decision_not_found")
	// ErrDecisionAlreadyProcessed rejects a second resolution of the same decision.
	ErrDecisionAlreadyProcessed = errors.New("decision_already_processed")
	// ErrDecisionNotProcessed rejects reverting a decision that is still pending.
	ErrDecisionNotProcessed = errors.New("decision_not_processed")
	// ErrDecisionNotRevertible rejects reverting an action whose effects cannot
	// be undone from the decision record alone.
	ErrDecisionNotRevertible = errors.New("decision_not_revertible")
	// ErrInvalidDecisionAction rejects an unknown resolution action.
	ErrInvalidDecisionAction = errors.New("invalid_decision_action")
	// ErrUserNotFound is returned when a user cannot be located.
	ErrUserNotFound = errors.New("user_not_found")
)

// User is the canonical person record. DNI is the primary import key; NSS is
// a secondary, near-unique key. Imports only ever fill gaps in the optional
// fields, never overwrite a value that is already set.
type User struct {
	ID           string     `json:"id" db:"id"`
	DNI          *string    `json:"dni,omitempty" db:"dni"`
	NSS          *string    `json:"nss,omitempty" db:"nss"`
	Name         string     `json:"name" db:"name"`
	Surname1     string     `json:"surname1" db:"surname1"`
	Surname2     *string    `json:"surname2,omitempty" db:"surname2"`
	Email        *string    `json:"email,omitempty" db:"email"`
	BirthDate    *time.Time `json:"birthDate,omitempty" db:"birth_date"`
	SalaryGroup  *string    `json:"salaryGroup,omitempty" db:"salary_group"`
	Category     *string    `json:"category,omitempty" db:"category"`
	EmployeeCode *string    `json:"employeeCode,omitempty" db:"employee_code"`
	Sex          *string    `json:"sex,omitempty" db:"sex"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// Company is keyed by CIF and by the payroll system's employer code.
// Find-or-create only; the import never updates an existing company.
type Company struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	LegalName string    `json:"legalName" db:"legal_name"`
	CIF       *string   `json:"cif,omitempty" db:"cif"`
	ImportID  string    `json:"importId" db:"import_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// UnknownCenterName is the sentinel used when the export leaves the center
// name blank. The composite import key keeps one sentinel per company.
const UnknownCenterName = "UNKNOWN"

// Center is a work center. ImportKey is "companyID:centerName" so that two
// companies' unknown-center placeholders never collide.
type Center struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"companyId" db:"company_id"`
	Name      string    `json:"name" db:"name"`
	Code      *string   `json:"code,omitempty" db:"code"`
	ImportKey string    `json:"importKey" db:"import_key"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// CenterImportKey builds the composite lookup key for a center.
func CenterImportKey(companyID, centerName string) string {
	if centerName == "" {
		centerName = UnknownCenterName
	}
	return companyID + ":" + centerName
}

// UserCenter links a user to a center. At most one row per (user, center);
// repeated imports update the dates in place. Exactly one row per user may be
// the main center.
type UserCenter struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"userId" db:"user_id"`
	CenterID     string     `json:"centerId" db:"center_id"`
	StartDate    *time.Time `json:"startDate,omitempty" db:"start_date"`
	EndDate      *time.Time `json:"endDate,omitempty" db:"end_date"`
	IsMainCenter bool       `json:"isMainCenter" db:"is_main_center"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

// FailedImportRecord is the failure vault's append-only row: an input the
// pipeline could not integrate, kept verbatim so nothing is silently lost.
type FailedImportRecord struct {
	ID        string    `json:"id" db:"id"`
	DNI       string    `json:"dni" db:"dni"`
	Name      string    `json:"name" db:"name"`
	Surnames  string    `json:"surnames" db:"surnames"`
	RawRow    []string  `json:"rawRow" db:"raw_row"`
	Reason    string    `json:"reason" db:"reason"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
