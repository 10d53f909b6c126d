package sage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProcessedUserData is the canonical, pipeline-internal form of one payroll
// row. It is derived deterministically: normalizing the same RawRow always
// yields the same value, which is what makes stored-row replay safe.
type ProcessedUserData struct {
	Name     string
	Surname1 string
	Surname2 string
	DNI      string
	NSS      string
	Email    string
	Sex      string

	Category     string
	PayGroup     string
	EmployeeCode string
	BirthDate    *time.Time

	CompanyName      string
	CompanyLegalName string
	CompanyCIF       string
	CompanyImportID  string
	CenterName       string
	CenterCode       string

	StartDate *time.Time
	EndDate   *time.Time

	Raw  RawRow
	Line int
}

// FullName returns the lower-cased "name surname1 surname2" string used for
// similarity comparison.
func (d *ProcessedUserData) FullName() string {
	return NormalizeFullName(d.Name, d.Surname1, d.Surname2)
}

// NormalizeFullName joins and lower-cases name parts, collapsing the second
// surname when absent.
func NormalizeFullName(name, surname1, surname2 string) string {
	full := strings.TrimSpace(name + " " + surname1)
	if surname2 != "" {
		full = full + " " + surname2
	}
	return strings.ToLower(strings.TrimSpace(full))
}

// mojibake repairs the usual UTF-8-decoded-as-Latin-1 artifacts the payroll
// system produces. None of the outputs contain an input sequence, so the
// repair is idempotent.
var mojibake = strings.NewReplacer(
	"Ã¡", "á",
	"Ã©", "é",
	"Ã­", "í",
	"Ã³", "ó",
	"Ãº", "ú",
	"Ã±", "ñ",
	"Ã¼", "ü",
	"Ã\u0081", "Á",
	"Ã\u0089", "É",
	"Ã\u008d", "Í",
	"Ã\u0093", "Ó",
	"Ã\u009a", "Ú",
	"Ã\u0091", "Ñ",
	"Ã\u009c", "Ü",
	"Âº", "º",
	"Âª", "ª",
)

// RepairEncoding fixes known mojibake sequences in a single field.
func RepairEncoding(s string) string {
	return mojibake.Replace(s)
}

// dateLayouts are tried in order; DD/MM/YYYY is what Sage actually emits,
// the rest cover files that went through a spreadsheet first.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"2006-01-02T15:04:05",
	"02/01/2006 15:04:05",
	"02/01/06",
}

// ParseDate parses a Sage date field. It never fails: unparseable input
// yields nil.
func ParseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// DecodeNSS recovers an insurance number that a spreadsheet exported in
// scientific notation ("2.81234E+11"). Plain digit strings pass through;
// anything undecodable yields "".
func DecodeNSS(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, " ", ""))
	if s == "" {
		return ""
	}
	if isDigits(s) {
		return s
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return ""
	}
	out := strconv.FormatFloat(f, 'f', 0, 64)
	if !isDigits(out) {
		return ""
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SplitSurnames splits the combined surnames field into first and second
// surname; the second may be empty.
func SplitSurnames(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	parts := strings.Fields(s)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// Normalize turns one raw record into ProcessedUserData. line is the 1-based
// position of the record in the source file, used only for error reporting.
func Normalize(row RawRow, line int) (*ProcessedUserData, error) {
	if len(row) < MinFields {
		return nil, fmt.Errorf("row %d: expected at least %d fields, got %d", line, MinFields, len(row))
	}

	fixed := make(RawRow, len(row))
	for i, field := range row {
		fixed[i] = strings.TrimSpace(RepairEncoding(field))
	}

	surname1, surname2 := SplitSurnames(fixed.Field(ColSurnames))

	centerName := fixed.Field(ColCenterName)
	companyName := fixed.Field(ColEmployerLegalName)
	if companyName == "" {
		companyName = fixed.Field(ColEmployerCode)
	}

	return &ProcessedUserData{
		Name:     fixed.Field(ColName),
		Surname1: surname1,
		Surname2: surname2,
		DNI:      strings.ToUpper(strings.ReplaceAll(fixed.Field(ColDNI), " ", "")),
		NSS:      DecodeNSS(fixed.Field(ColNSS)),
		Email:    strings.ToLower(fixed.Field(ColEmail)),
		Sex:      fixed.Field(ColSex),

		Category:     fixed.Field(ColCategory),
		PayGroup:     fixed.Field(ColPayGroup),
		EmployeeCode: fixed.Field(ColEmployeeCode),
		BirthDate:    ParseDate(fixed.Field(ColBirthDate)),

		CompanyName:      companyName,
		CompanyLegalName: fixed.Field(ColEmployerLegalName),
		CompanyCIF:       strings.ToUpper(fixed.Field(ColEmployerCIF)),
		CompanyImportID:  fixed.Field(ColEmployerCode),
		CenterName:       centerName,
		CenterCode:       fixed.Field(ColCenterCode),

		StartDate: ParseDate(fixed.Field(ColStartDate)),
		EndDate:   ParseDate(fixed.Field(ColEndDate)),

		Raw:  row,
		Line: line,
	}, nil
}
