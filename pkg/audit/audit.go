// Package audit holds the types shared by the Teams audit log analysis
// packages: raw CSV rows, advisories and the timestamp convention.
package audit

import (
	"fmt"
	"strings"
	"time"

	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// TimeLayout is the layout of JoinTime and LeaveTime values in audit payloads.
// Values carry no zone; they are all interpreted as UTC so that comparisons
// stay consistent within a run.
const TimeLayout = "2006-01-02T15:04:05"

// Row is one audit event as read from the exported CSV.
type Row struct {
	// Source names the file the row came from ("-" for standard input).
	Source string
	// Line is the 1-based line of the row in its source.
	Line int

	CreationDate string
	UserID       string
	Operation    string
	// AuditData is the raw payload, outer braces included.
	AuditData string
}

// ParseTime parses an audit timestamp. Values before the Unix epoch are
// rejected as well, the exports never carry them.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", talaerrors.ErrInvalidTimestamp, s)
	}
	if t.Unix() < 0 {
		return time.Time{}, fmt.Errorf("%w: %q is before the epoch", talaerrors.ErrInvalidTimestamp, s)
	}
	return t, nil
}

// CompareTimes orders two audit timestamps chronologically. When either side
// does not parse, the raw strings are compared instead, which matches the
// chronological order for well-formed values anyway.
func CompareTimes(a, b string) int {
	ta, errA := ParseTime(a)
	tb, errB := ParseTime(b)
	if errA == nil && errB == nil {
		return ta.Compare(tb)
	}
	return strings.Compare(a, b)
}

// DatePart returns the calendar date of a timestamp ("2024-01-01" for
// "2024-01-01T10:00:00"). Values without a 'T' are returned unchanged.
func DatePart(ts string) string {
	date, _, _ := strings.Cut(ts, "T")
	return date
}

// ClockPart returns the time of day of a timestamp ("10:00:00" for
// "2024-01-01T10:00:00"). Values without a 'T' are returned unchanged.
func ClockPart(ts string) string {
	if i := strings.LastIndexByte(ts, 'T'); i >= 0 {
		return ts[i+1:]
	}
	return ts
}
