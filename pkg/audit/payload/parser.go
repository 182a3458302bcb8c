package payload

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// MalformedPayloadError reports the first character the grammar cannot accept.
type MalformedPayloadError struct {
	// Pos is the byte offset of the offending character in the payload
	// interior (outer braces excluded).
	Pos int
	// Char is the offending character, or 0 when the input ended early.
	Char rune
	// Field is the field being decoded, empty between fields.
	Field string
	// Reason describes what the parser expected.
	Reason string
	// Context is the text surrounding Pos.
	Context string
}

func (e *MalformedPayloadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "malformed payload at position %d", e.Pos)
	if e.Char != 0 {
		fmt.Fprintf(&b, ": unexpected %q", e.Char)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " in field %q", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Context != "" {
		fmt.Fprintf(&b, " (near '%s')", e.Context)
	}
	return b.String()
}

func (e *MalformedPayloadError) Unwrap() error {
	return talaerrors.ErrMalformedPayload
}

// state is the position of the parser inside one field of one record level.
type state int

const (
	stateBetweenFields state = iota // expecting '"' to open a key, or ','
	stateKey                        // inside a quoted key
	stateAfterKey                   // expecting ':'
	stateValueStart                 // the next character decides the value type
	stateString                     // inside a quoted string value
	stateNumber                     // inside a bare integer value
)

// ParseAuditData strips the outer braces of a raw AuditData column and parses
// what is left.
func ParseAuditData(raw string) (*Record, error) {
	body, err := Unwrap(raw)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// Unwrap removes the outer braces of a raw AuditData column.
func Unwrap(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return "", &MalformedPayloadError{
			Reason:  "payload is not enclosed in braces",
			Context: excerpt(s, 0),
		}
	}
	return s[1 : len(s)-1], nil
}

// Parse decodes the interior of a payload (outer braces already stripped).
//
// The body is a comma-separated sequence of "key":value pairs. A value is a
// quoted string (no escapes), a run of digits ended by ',' or by the end of
// the body, or a bracketed list of brace-wrapped sub-records decoded with
// this same grammar. Anything else fails with a *MalformedPayloadError.
func Parse(body string) (*Record, error) {
	return parseRecord(body, 0)
}

func parseRecord(body string, base int) (*Record, error) {
	rec := NewRecord()
	st := stateBetweenFields
	key := ""
	start := 0

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch st {
		case stateBetweenFields:
			switch c {
			case '"':
				st = stateKey
				start = i + 1
			case ',':
			default:
				return nil, malformed(body, base, i, "", "unexpected character outside a field")
			}

		case stateKey:
			if c == '"' {
				key = body[start:i]
				st = stateAfterKey
			}

		case stateAfterKey:
			if c != ':' {
				return nil, malformed(body, base, i, key, "expected ':' after key")
			}
			st = stateValueStart

		case stateValueStart:
			switch {
			case c == '"':
				st = stateString
				start = i + 1
			case isDigit(c):
				st = stateNumber
				start = i
			case c == '[':
				end := matchingClose(body, i, '[', ']')
				if end < 0 {
					return nil, malformed(body, base, len(body), key, "unterminated list")
				}
				v, err := parseList(body[i+1:end], base+i+1, key)
				if err != nil {
					return nil, err
				}
				rec.Set(key, v)
				i = end
				st = stateBetweenFields
			default:
				return nil, malformed(body, base, i, key, "unexpected start of value")
			}

		case stateString:
			if c == '"' {
				rec.Set(key, StringValue(body[start:i]))
				st = stateBetweenFields
			}

		case stateNumber:
			switch {
			case isDigit(c):
			case c == ',':
				if err := setInt(rec, key, body, base, start, i); err != nil {
					return nil, err
				}
				st = stateBetweenFields
			default:
				return nil, malformed(body, base, i, key, "unexpected character in integer value")
			}
		}
	}

	switch st {
	case stateBetweenFields:
		return rec, nil
	case stateNumber:
		// An integer may close the body: nested records end with one.
		if err := setInt(rec, key, body, base, start, len(body)); err != nil {
			return nil, err
		}
		return rec, nil
	case stateKey:
		return nil, malformed(body, base, len(body), "", "unterminated key")
	case stateString:
		return nil, malformed(body, base, len(body), key, "unterminated string value")
	default:
		return nil, malformed(body, base, len(body), key, "missing value")
	}
}

// parseList decodes the inside of a bracketed value: brace-wrapped records
// separated by commas. A single record decodes to KindRecord, anything else
// to KindList.
func parseList(body string, base int, field string) (Value, error) {
	var items []*Record
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case ',':
		case '{':
			end := matchingClose(body, i, '{', '}')
			if end < 0 {
				return Value{}, malformed(body, base, len(body), field, "unterminated list element")
			}
			rec, err := parseRecord(body[i+1:end], base+i+1)
			if err != nil {
				return Value{}, err
			}
			items = append(items, rec)
			i = end
		default:
			return Value{}, malformed(body, base, i, field, "expected '{' in list")
		}
	}
	if len(items) == 1 {
		return RecordValue(items[0]), nil
	}
	return ListValue(items), nil
}

// matchingClose returns the index of the delimiter closing the one at open,
// skipping quoted text, or -1.
func matchingClose(body string, open int, opening, closing byte) int {
	depth := 0
	quoted := false
	for j := open; j < len(body); j++ {
		c := body[j]
		if quoted {
			if c == '"' {
				quoted = false
			}
			continue
		}
		switch c {
		case '"':
			quoted = true
		case opening:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

func setInt(rec *Record, key, body string, base, start, end int) error {
	n, err := strconv.ParseInt(body[start:end], 10, 64)
	if err != nil {
		return &MalformedPayloadError{
			Pos:     base + start,
			Field:   key,
			Reason:  "integer value out of range",
			Context: excerpt(body, start),
		}
	}
	rec.Set(key, IntValue(n))
	return nil
}

func malformed(body string, base, i int, field, reason string) *MalformedPayloadError {
	var r rune
	if i < len(body) {
		r, _ = utf8.DecodeRuneInString(body[i:])
	}
	return &MalformedPayloadError{
		Pos:     base + i,
		Char:    r,
		Field:   field,
		Reason:  reason,
		Context: excerpt(body, i),
	}
}

func excerpt(s string, i int) string {
	from := i - 10
	if from < 0 {
		from = 0
	}
	to := i + 10
	if to > len(s) {
		to = len(s)
	}
	if from > to {
		from = to
	}
	return strings.ToValidUTF8(s[from:to], "")
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
