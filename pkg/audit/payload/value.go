// Package payload decodes the AuditData column of Teams audit log exports.
//
// The column looks like JSON but follows a narrower grammar: quoted keys and
// strings without escapes, bare unsigned integers, and bracketed sub-records.
// Values decode to a small tagged union (string, integer, nested record, list
// of records) and records remember their field order for diagnostic replay.
package payload

import (
	"strconv"
	"strings"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	// KindString is a double-quoted string.
	KindString Kind = iota
	// KindInt is a bare unsigned integer.
	KindInt
	// KindRecord is a bracketed value holding exactly one sub-record.
	KindRecord
	// KindList is a bracketed value holding zero or several sub-records.
	KindList
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindRecord:
		return "record"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is one decoded payload value. The zero Value is an empty string.
type Value struct {
	kind Kind
	str  string
	num  int64
	rec  *Record
	list []*Record
}

// StringValue returns a Value holding s.
func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// IntValue returns a Value holding n.
func IntValue(n int64) Value {
	return Value{kind: KindInt, num: n}
}

// RecordValue returns a Value holding a single nested record.
func RecordValue(r *Record) Value {
	return Value{kind: KindRecord, rec: r}
}

// ListValue returns a Value holding a list of nested records.
func ListValue(items []*Record) Value {
	return Value{kind: KindList, list: items}
}

// Kind returns the type held by v.
func (v Value) Kind() Kind {
	return v.kind
}

// Str returns the string held by v.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// Int returns the integer held by v.
func (v Value) Int() (int64, bool) {
	return v.num, v.kind == KindInt
}

// Record returns the nested record held by v.
func (v Value) Record() (*Record, bool) {
	return v.rec, v.kind == KindRecord
}

// Records returns the nested records of a bracketed value: one for
// KindRecord, all of them for KindList, none for scalars.
func (v Value) Records() []*Record {
	switch v.kind {
	case KindRecord:
		return []*Record{v.rec}
	case KindList:
		return v.list
	default:
		return nil
	}
}

// Text renders a scalar value as text. Integers use base 10; nested values
// render in payload syntax.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	default:
		var b strings.Builder
		v.writeTo(&b)
		return b.String()
	}
}

// Equal reports whether v and o hold structurally equal values.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindRecord:
		return v.rec.Equal(o.rec)
	default:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
}

func (v Value) writeTo(b *strings.Builder) {
	switch v.kind {
	case KindString:
		b.WriteByte('"')
		b.WriteString(v.str)
		b.WriteByte('"')
	case KindInt:
		b.WriteString(strconv.FormatInt(v.num, 10))
	default:
		b.WriteByte('[')
		for i, r := range v.Records() {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('{')
			r.writeTo(b)
			b.WriteByte('}')
		}
		b.WriteByte(']')
	}
}

// Record is a decoded set of payload fields. Field names are unique; the
// order in which they first appeared is kept.
type Record struct {
	keys   []string
	fields map[string]Value
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{fields: make(map[string]Value)}
}

// Set stores a field. Setting an existing field replaces its value but keeps
// its original position.
func (r *Record) Set(key string, v Value) {
	if _, ok := r.fields[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.fields[key] = v
}

// Get returns the value of a field.
func (r *Record) Get(key string) (Value, bool) {
	if r == nil {
		return Value{}, false
	}
	v, ok := r.fields[key]
	return v, ok
}

// Has reports whether the field is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// GetString returns the text of a scalar field. Integer fields are rendered
// in base 10 so that callers comparing against known labels see "31" whether
// the export quoted it or not.
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.Get(key)
	if !ok {
		return "", false
	}
	switch v.kind {
	case KindString, KindInt:
		return v.Text(), true
	default:
		return "", false
	}
}

// GetRecord returns the single nested record of a bracketed field.
func (r *Record) GetRecord(key string) (*Record, bool) {
	v, ok := r.Get(key)
	if !ok {
		return nil, false
	}
	return v.Record()
}

// Keys returns the field names in payload order.
func (r *Record) Keys() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.keys)
}

// Equal reports whether r and o hold the same fields, in the same order,
// with structurally equal values.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k {
			return false
		}
		if !r.fields[k].Equal(o.fields[k]) {
			return false
		}
	}
	return true
}

// String renders the record back in payload syntax, without outer braces.
func (r *Record) String() string {
	var b strings.Builder
	r.writeTo(&b)
	return b.String()
}

func (r *Record) writeTo(b *strings.Builder) {
	if r == nil {
		return
	}
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(k)
		b.WriteString(`":`)
		r.fields[k].writeTo(b)
	}
}
