package sage

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// MaxParseErrors is the malformed-row ceiling: past it the file is assumed
// corrupt and the whole read aborts.
const MaxParseErrors = 100

// ErrTooManyParseErrors aborts a read once MaxParseErrors is exceeded.
var ErrTooManyParseErrors = errors.New("too many malformed rows")

// IsHeader reports whether a record looks like the export's header row. Sage
// headers start with a "Codigo..." cell; data rows start with a numeric
// employer code.
func IsHeader(row RawRow) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(RepairEncoding(row[0]))
	return strings.Contains(first, "codigo") || strings.Contains(first, "código")
}

// ReadCSV parses a semicolon-separated Sage export. Files are frequently
// Latin-1 encoded; anything that is not valid UTF-8 is decoded as ISO 8859-1
// first. Returns the data rows and the count of malformed rows that were
// skipped.
func ReadCSV(r io.Reader) ([]RawRow, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("read csv payload: %w", err)
	}
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, 0, fmt.Errorf("decode latin-1 payload: %w", err)
		}
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows []RawRow
	parseErrors := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			parseErrors++
			if parseErrors > MaxParseErrors {
				return nil, parseErrors, ErrTooManyParseErrors
			}
			continue
		}
		if first {
			first = false
			if IsHeader(record) {
				continue
			}
		}
		if isBlank(record) {
			continue
		}
		if len(record) < MinFields {
			parseErrors++
			if parseErrors > MaxParseErrors {
				return nil, parseErrors, ErrTooManyParseErrors
			}
			continue
		}
		rows = append(rows, RawRow(record))
	}
	return rows, parseErrors, nil
}

// ReadXLSX streams the first sheet of a workbook using the same header and
// field-count rules as ReadCSV.
func ReadXLSX(path string) ([]RawRow, int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, fmt.Errorf("no sheets in workbook")
	}
	iter, err := f.Rows(sheets[0])
	if err != nil {
		return nil, 0, fmt.Errorf("iterate sheet: %w", err)
	}
	defer iter.Close()

	var rows []RawRow
	parseErrors := 0
	first := true
	for iter.Next() {
		record, err := iter.Columns()
		if err != nil {
			return nil, parseErrors, fmt.Errorf("read sheet row: %w", err)
		}
		if first {
			first = false
			if IsHeader(record) {
				continue
			}
		}
		if isBlank(record) {
			continue
		}
		if len(record) < MinFields {
			parseErrors++
			if parseErrors > MaxParseErrors {
				return nil, parseErrors, ErrTooManyParseErrors
			}
			continue
		}
		rows = append(rows, RawRow(record))
	}
	return rows, parseErrors, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
