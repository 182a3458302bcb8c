// Package extract maps a decoded audit payload onto the flat set of fields
// the organizer aggregator and the session store work with.
package extract

import (
	"fmt"
	"slices"
	"strings"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/payload"
)

// Known-good values of Teams participant detail events.
const (
	ExpectedOperation   = "MeetingParticipantDetail"
	ExpectedWorkload    = "MicrosoftTeams"
	ExpectedRecordType  = "25"
	ExpectedUserType    = "0"
	ExpectedVersion     = "1"
	ExpectedArtifact    = "videoTransmitted"
	ExpectedPropertyKey = "UserAgent"

	// UnknownKeyType is used when the attendee carries no recipient type.
	UnknownKeyType = "?"
	// SkypeSpaces is the label of every Skype Spaces client build.
	SkypeSpaces = "SkypeSpaces"
	// SomeAgent is the label of clients identified only by a version number.
	SomeAgent = "Some Agent"
)

// KnownItemNames lists the meeting types seen in exports.
var KnownItemNames = []string{
	"ScheduledMeeting",
	"RecurringMeeting",
	"Escalation",
	"AdHocMeeting",
	"ChannelMeeting",
	"MicrosoftTeams",
	"Complete",
	"Broadcast",
	"ScreenSharingCall",
	"31",
}

// KnownRecipientTypes lists the attendee key types seen in exports.
var KnownRecipientTypes = []string{"User", "Anonymous", "Applications", "Phone"}

// Fields is what one audit row contributes to a run. Absent values are empty.
type Fields struct {
	MeetingID             string
	OrganizerEmail        string
	OrganizerID           string
	OrganizerOrganization string
	MeetingType           string

	AttendeeKey          string
	KeyType              string
	AttendeeOrganization string

	JoinTime  string
	LeaveTime string
	ClientIP  string
	Device    string
	Property  string
}

// Extract reads the fields of one participant detail event. Everything it
// does not like becomes an advisory; it never fails.
func Extract(rec *payload.Record, row audit.Row) (Fields, []audit.Advisory) {
	x := extractor{rec: rec}

	if row.Operation != ExpectedOperation {
		x.add(audit.AdvUnexpectedOperation, audit.SeverityWarn, "Operation", row.Operation,
			"row operation is not "+ExpectedOperation)
	}
	x.checkConstants()

	var f Fields
	f.MeetingID = x.required("MeetingDetailId", audit.SeverityWarn)
	f.OrganizerEmail = x.required("UserId", audit.SeverityInfo)
	f.OrganizerID = x.required("UserKey", audit.SeverityInfo)
	f.OrganizerOrganization = x.required("OrganizationId", audit.SeverityInfo)
	f.MeetingType = x.required("ItemName", audit.SeverityInfo)
	if f.MeetingType != "" && !slices.Contains(KnownItemNames, f.MeetingType) {
		x.add(audit.AdvUnexpectedValue, audit.SeverityInfo, "ItemName", f.MeetingType, "unknown meeting type")
	}

	x.attendee(&f)
	f.Property = x.property()

	f.JoinTime = x.required("JoinTime", audit.SeverityWarn)
	f.LeaveTime = x.required("LeaveTime", audit.SeverityWarn)
	f.ClientIP = x.required("ClientIP", audit.SeverityInfo)
	f.Device = strings.ReplaceAll(x.required("DeviceInformation", audit.SeverityInfo), ",", " ")

	return f, x.advisories
}

// NormalizeProperty reduces a client user agent to a short label: the
// parenthesized details are dropped, Skype Spaces builds collapse to one
// label and bare version numbers become SomeAgent.
func NormalizeProperty(p string) string {
	if i := strings.Index(p, " ("); i >= 0 {
		p = p[:i]
	}
	switch {
	case strings.HasPrefix(p, SkypeSpaces):
		return SkypeSpaces
	case p != "" && p[0] >= '0' && p[0] <= '9':
		return SomeAgent
	}
	return p
}

type extractor struct {
	rec        *payload.Record
	advisories []audit.Advisory
}

func (x *extractor) add(code audit.AdvisoryCode, sev audit.Severity, field, value, msg string) {
	x.advisories = append(x.advisories, audit.Advisory{
		Code:     code,
		Severity: sev,
		Field:    field,
		Value:    value,
		Message:  msg,
	})
}

// required returns a scalar field, recording an advisory at sev when it is absent.
func (x *extractor) required(field string, sev audit.Severity) string {
	v, ok := x.rec.GetString(field)
	if !ok {
		x.add(audit.AdvMissingField, sev, field, "", "field absent")
	}
	return v
}

func (x *extractor) checkConstants() {
	for _, c := range []struct{ field, want string }{
		{"Operation", ExpectedOperation},
		{"Workload", ExpectedWorkload},
		{"RecordType", ExpectedRecordType},
		{"UserType", ExpectedUserType},
		{"Version", ExpectedVersion},
	} {
		if got, ok := x.rec.GetString(c.field); ok && got != c.want {
			x.add(audit.AdvUnexpectedValue, audit.SeverityInfo, c.field, got, "expected "+c.want)
		}
	}

	artifacts, _ := x.rec.Get("ArtifactsShared")
	for _, a := range artifacts.Records() {
		if name, ok := a.GetString("ArtifactSharedName"); ok && name != ExpectedArtifact {
			x.add(audit.AdvUnexpectedValue, audit.SeverityInfo, "ArtifactSharedName", name, "expected "+ExpectedArtifact)
		}
	}
}

func (x *extractor) attendee(f *Fields) {
	v, ok := x.rec.Get("Attendees")
	if !ok {
		x.add(audit.AdvMissingField, audit.SeverityWarn, "Attendees", "", "field absent")
		return
	}
	entries := v.Records()
	if len(entries) != 1 {
		x.add(audit.AdvAttendeeCount, audit.SeverityWarn, "Attendees", "",
			fmt.Sprintf("holds %d attendees instead of 1", len(entries)))
		return
	}
	a := entries[0]

	f.KeyType = UnknownKeyType
	if rt, ok := a.GetString("RecipientType"); ok {
		f.KeyType = rt
		if !slices.Contains(KnownRecipientTypes, rt) {
			x.add(audit.AdvUnexpectedValue, audit.SeverityInfo, "RecipientType", rt, "unknown recipient type")
		}
	}

	if id, ok := a.GetString("UserObjectId"); ok {
		f.AttendeeKey = id
		f.AttendeeOrganization, _ = a.GetString("OrganizationId")
		return
	}
	if name, ok := a.GetString("DisplayName"); ok {
		f.AttendeeKey = strings.ReplaceAll(name, ",", " ")
		return
	}
	x.add(audit.AdvAttendeeKey, audit.SeverityWarn, "Attendees", "", "neither UserObjectId nor DisplayName present")
}

// property returns the normalized user agent of the attendee client. When
// several extra properties are exported the UserAgent one is preferred.
func (x *extractor) property() string {
	v, ok := x.rec.Get("ExtraProperties")
	if !ok {
		return ""
	}
	var chosen *payload.Record
	for _, p := range v.Records() {
		key, _ := p.GetString("Key")
		if key == ExpectedPropertyKey {
			chosen = p
			break
		}
		if chosen == nil && p.Has("Value") {
			chosen = p
		}
	}
	if chosen == nil {
		return ""
	}
	if key, ok := chosen.GetString("Key"); ok && key != ExpectedPropertyKey {
		x.add(audit.AdvUnexpectedValue, audit.SeverityInfo, "Key", key, "expected "+ExpectedPropertyKey)
	}
	value, _ := chosen.GetString("Value")
	return NormalizeProperty(value)
}
