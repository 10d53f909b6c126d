package sage

// RawRow is one record of a Sage payroll export, exactly as it appeared in
// the file after field splitting. Rows are kept verbatim so that a decision
// resolved weeks later can be replayed against the same input.
type RawRow []string

// Positional columns of the Sage export. The file carries no usable header,
// so the order is part of the contract with the payroll system.
const (
	ColEmployerCode = iota
	ColCenterCode
	ColCenterName
	ColEmployeeCode
	ColDNI
	ColName
	ColSurnames
	ColStartDate
	ColEndDate
	ColCategory
	ColEmail
	ColBirthDate
	ColPayGroup
	ColMobility
	ColNSS
	ColSex
	ColRate
	ColEmployerLegalName
	ColEmployerCIF
	ColEmployerRegistration

	ColumnCount = 20
)

// MinFields is the smallest field count a record may have and still be
// processed; everything from ColSex onwards is optional in older exports.
const MinFields = 15

// Field returns the column value or "" when the row is too short.
func (r RawRow) Field(col int) string {
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}
