// Package ingest reads audit log exports and feeds every row through the
// payload parser, the extractor, the organizer aggregator and the session
// store.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/otherjamesbrown/tala/pkg/audit"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// Column names recognized in export headers, lowercased.
var columnNames = map[string]int{
	"creationdate": colCreationDate,
	"userid":       colUserID,
	"userids":      colUserID,
	"operation":    colOperation,
	"operations":   colOperation,
	"auditdata":    colAuditData,
}

const (
	colCreationDate = iota
	colUserID
	colOperation
	colAuditData
	numColumns
)

// dataRow matches the creation date of a data row. Anything else in that
// column is a header.
var dataRow = regexp.MustCompile(`^\d{4}-`)

// RowReader reads audit rows from a CSV export.
//
// Columns are positional (CreationDate, UserId, Operation, AuditData) until a
// header row naming all four is seen; from then on they are looked up by
// name, so exports carrying extra columns are read as well. Input is decoded
// as UTF-8 unless it starts with a UTF-16 byte order mark.
type RowReader struct {
	source  string
	cr      *csv.Reader
	cols    [numColumns]int
	headers int
}

// NewRowReader returns a reader of the rows of r. source names r in rows and
// errors.
func NewRowReader(source string, r io.Reader) *RowReader {
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1

	return &RowReader{
		source: source,
		cr:     cr,
		cols:   [numColumns]int{colCreationDate, colUserID, colOperation, colAuditData},
	}
}

// Next returns the next data row. Header rows are skipped. It returns io.EOF
// at the end of the input.
//
// A row that cannot be read is returned with its line number and a non-nil
// error: a *csv.ParseError for quoting errors or an error wrapping
// ErrShortRow. Reading may continue after either. Any other error comes from
// the underlying reader and ends the input.
func (rr *RowReader) Next() (audit.Row, error) {
	for {
		rec, err := rr.cr.Read()
		if err == io.EOF {
			return audit.Row{}, io.EOF
		}
		if err != nil {
			row := audit.Row{Source: rr.source}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				row.Line = pe.StartLine
			}
			return row, err
		}

		line, _ := rr.cr.FieldPos(0)
		row := audit.Row{Source: rr.source, Line: line}

		if date := rr.cols[colCreationDate]; date < len(rec) && !dataRow.MatchString(strings.TrimSpace(rec[date])) {
			rr.header(rec)
			continue
		}

		for _, c := range rr.cols {
			if c >= len(rec) {
				return row, fmt.Errorf("%w: %d columns", talaerrors.ErrShortRow, len(rec))
			}
		}

		row.CreationDate = rec[rr.cols[colCreationDate]]
		row.UserID = rec[rr.cols[colUserID]]
		row.Operation = rec[rr.cols[colOperation]]
		row.AuditData = rec[rr.cols[colAuditData]]
		return row, nil
	}
}

// Headers returns the number of header rows skipped so far.
func (rr *RowReader) Headers() int {
	return rr.headers
}

// header maps columns by name when rec names all of them.
func (rr *RowReader) header(rec []string) {
	rr.headers++

	var cols [numColumns]int
	found := 0
	for i := range cols {
		cols[i] = -1
	}
	for i, name := range rec {
		c, ok := columnNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok || cols[c] >= 0 {
			continue
		}
		cols[c] = i
		found++
	}
	if found == numColumns {
		rr.cols = cols
	}
}
