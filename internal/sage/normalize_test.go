package sage

import (
	"reflect"
	"testing"
	"time"
)

func testRow() RawRow {
	return RawRow{
		"E001",                   // employer code
		"C01",                    // center code
		"Centro Madrid",          // center name
		"EMP-42",                 // employee code
		"12345678z",              // dni
		"JosÃ©",                  // name with mojibake
		"GarcÃ­a LÃ³pez",         // surnames with mojibake
		"01/02/2024",             // start date
		"",                       // end date
		"Operario",               // category
		"Jose.Garcia@Acme.ES",    // email, mixed case
		"15/06/1990",             // birth date
		"G2",                     // pay group
		"",                       // mobility
		"2,81234E+11",            // nss in scientific notation
		"M",                      // sex
		"",                       // rate
		"Acme Formación SL",      // employer legal name
		"b12345678",              // employer cif
		"28/1234567/89",          // employer registration
	}
}

func TestRepairEncoding(t *testing.T) {
	cases := map[string]string{
		"JosÃ©":          "José",
		"MarÃ­a":         "María",
		"GARC\u00c3\u008dA": "GARCÍA",
		"EspaÃ±a":        "España",
		"1Âº":            "1º",
		"already clean":  "already clean",
	}
	for in, want := range cases {
		if got := RepairEncoding(in); got != want {
			t.Fatalf("RepairEncoding(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRepairEncodingIdempotent(t *testing.T) {
	inputs := []string{"JosÃ©", "José", "GarcÃ­a LÃ³pez", "ÃOÃO"}
	for _, in := range inputs {
		once := RepairEncoding(in)
		twice := RepairEncoding(once)
		if once != twice {
			t.Fatalf("repair not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestDecodeNSS(t *testing.T) {
	cases := map[string]string{
		"281234567890":  "281234567890",
		"28 1234 5678":  "2812345678",
		"2,81234E+11":   "281234000000",
		"1.23E+11":      "123000000000",
		"":              "",
		"not-a-number":  "",
		"-2.81234E+11":  "",
	}
	for in, want := range cases {
		if got := DecodeNSS(in); got != want {
			t.Fatalf("DecodeNSS(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"01/02/2024":          "2024-02-01",
		"2024-02-01":          "2024-02-01",
		"01-02-2024":          "2024-02-01",
		"2024-02-01T10:30:00": "2024-02-01",
		"01/02/24":            "2024-02-01",
	}
	for in, want := range cases {
		got := ParseDate(in)
		if got == nil {
			t.Fatalf("ParseDate(%q) = nil, want %s", in, want)
		}
		if got.Format("2006-01-02") != want {
			t.Fatalf("ParseDate(%q) = %s, want %s", in, got.Format("2006-01-02"), want)
		}
	}
	for _, bad := range []string{"", "not a date", "99/99/9999"} {
		if got := ParseDate(bad); got != nil {
			t.Fatalf("ParseDate(%q) = %v, want nil", bad, got)
		}
	}
}

func TestSplitSurnames(t *testing.T) {
	s1, s2 := SplitSurnames("García López")
	if s1 != "García" || s2 != "López" {
		t.Fatalf("unexpected split: %q / %q", s1, s2)
	}
	s1, s2 = SplitSurnames("García")
	if s1 != "García" || s2 != "" {
		t.Fatalf("single surname split: %q / %q", s1, s2)
	}
	s1, s2 = SplitSurnames("de la Fuente García")
	if s1 != "de" || s2 != "la Fuente García" {
		t.Fatalf("compound surname split: %q / %q", s1, s2)
	}
}

func TestNormalize(t *testing.T) {
	d, err := Normalize(testRow(), 1)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if d.Name != "José" {
		t.Fatalf("expected repaired name, got %q", d.Name)
	}
	if d.Surname1 != "García" || d.Surname2 != "López" {
		t.Fatalf("unexpected surnames: %q / %q", d.Surname1, d.Surname2)
	}
	if d.DNI != "12345678Z" {
		t.Fatalf("expected uppercased dni, got %q", d.DNI)
	}
	if d.NSS != "281234000000" {
		t.Fatalf("expected decoded nss, got %q", d.NSS)
	}
	if d.Email != "jose.garcia@acme.es" {
		t.Fatalf("expected lowercased email, got %q", d.Email)
	}
	if d.CompanyCIF != "B12345678" {
		t.Fatalf("expected uppercased cif, got %q", d.CompanyCIF)
	}
	if d.CompanyImportID != "E001" {
		t.Fatalf("expected employer code as import id, got %q", d.CompanyImportID)
	}
	if d.BirthDate == nil || !d.BirthDate.Equal(time.Date(1990, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected birth date: %v", d.BirthDate)
	}
	if d.StartDate == nil || d.EndDate != nil {
		t.Fatalf("unexpected dates: start=%v end=%v", d.StartDate, d.EndDate)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	row := testRow()
	a, err := Normalize(row, 1)
	if err != nil {
		t.Fatalf("first normalize failed: %v", err)
	}
	b, err := Normalize(row, 1)
	if err != nil {
		t.Fatalf("second normalize failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("normalize is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestNormalizeRejectsShortRow(t *testing.T) {
	if _, err := Normalize(RawRow{"E001", "C01", "Centro"}, 7); err == nil {
		t.Fatalf("expected error for short row")
	}
}

func TestNormalizeFullName(t *testing.T) {
	if got := NormalizeFullName("María", "García", "López"); got != "maría garcía lópez" {
		t.Fatalf("unexpected full name: %q", got)
	}
	if got := NormalizeFullName("María", "García", ""); got != "maría garcía" {
		t.Fatalf("unexpected full name without second surname: %q", got)
	}
}
