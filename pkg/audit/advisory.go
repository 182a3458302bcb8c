package audit

import "fmt"

// Severity ranks an advisory. Info advisories are only visible in debug mode.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// AdvisoryCode classifies a non-fatal observation about a row.
type AdvisoryCode string

const (
	// AdvUnexpectedOperation flags a row whose operation is not a participant detail.
	AdvUnexpectedOperation AdvisoryCode = "unexpected_operation"
	// AdvUnexpectedValue flags a known field holding a value outside the known set.
	AdvUnexpectedValue AdvisoryCode = "unexpected_value"
	// AdvMissingField flags an expected field that is absent from the payload.
	AdvMissingField AdvisoryCode = "missing_field"
	// AdvAttendeeCount flags an attendee collection that does not hold exactly one entry.
	AdvAttendeeCount AdvisoryCode = "attendee_count"
	// AdvAttendeeKey flags an attendee with neither an object ID nor a display name.
	AdvAttendeeKey AdvisoryCode = "attendee_key"
	// AdvDrift flags a meeting attribute that changed between rows.
	AdvDrift AdvisoryCode = "drift"
	// AdvTimestamp flags a timestamp that does not parse.
	AdvTimestamp AdvisoryCode = "timestamp"
)

// AdvisoryCodes lists every advisory code, in a stable order.
var AdvisoryCodes = []AdvisoryCode{
	AdvUnexpectedOperation,
	AdvUnexpectedValue,
	AdvMissingField,
	AdvAttendeeCount,
	AdvAttendeeKey,
	AdvDrift,
	AdvTimestamp,
}

// Advisory is a non-fatal observation made while extracting or aggregating a row.
type Advisory struct {
	Code     AdvisoryCode
	Severity Severity
	// Field names the payload field or aggregate attribute concerned.
	Field string
	// Value is the offending value, when there is one.
	Value   string
	Message string
}

func (a Advisory) String() string {
	if a.Value != "" {
		return fmt.Sprintf("%s: %s: %s: %q", a.Code, a.Field, a.Message, a.Value)
	}
	return fmt.Sprintf("%s: %s: %s", a.Code, a.Field, a.Message)
}
