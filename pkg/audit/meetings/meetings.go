// Package meetings folds audit rows into one organizer summary per meeting.
package meetings

import (
	"fmt"
	"slices"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/extract"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// Organizer summarizes a meeting: who organized it and when it was attended.
type Organizer struct {
	MeetingID    string   `json:"meeting_id" yaml:"meeting_id"`
	Email        string   `json:"organizer_email" yaml:"organizer_email"`
	ID           string   `json:"organizer_id" yaml:"organizer_id"`
	Organization string   `json:"organizer_organization" yaml:"organizer_organization"`
	MeetingType  string   `json:"meeting_type" yaml:"meeting_type"`
	FirstJoin    string   `json:"first_join" yaml:"first_join"`
	LastLeave    string   `json:"last_leave" yaml:"last_leave"`
	Attendees    []string `json:"attendees" yaml:"attendees"`
}

// AttendeeCount returns the number of distinct attendee keys seen.
func (o *Organizer) AttendeeCount() int {
	return len(o.Attendees)
}

// Directory records organizer ID to email associations as meetings are
// discovered. It returns true when the association was new.
type Directory interface {
	Learn(id, email string) bool
}

// Aggregator keeps one Organizer per meeting ID, in first-seen order.
type Aggregator struct {
	dir   Directory
	byID  map[string]*Organizer
	order []string
}

// NewAggregator returns an empty aggregator. dir may be nil.
func NewAggregator(dir Directory) *Aggregator {
	return &Aggregator{
		dir:  dir,
		byID: make(map[string]*Organizer),
	}
}

// Ingest folds one row into the summary of meetingID.
//
// The first row of a meeting sets its identity. Later rows never change the
// identity: each differing attribute yields a drift advisory instead. The
// attendance window only widens, and timestamps that do not parse are
// reported and left out of the comparison.
func (a *Aggregator) Ingest(meetingID string, f extract.Fields) []audit.Advisory {
	var advs []audit.Advisory

	o, ok := a.byID[meetingID]
	if !ok {
		o = &Organizer{
			MeetingID:    meetingID,
			Email:        f.OrganizerEmail,
			ID:           f.OrganizerID,
			Organization: f.OrganizerOrganization,
			MeetingType:  f.MeetingType,
			FirstJoin:    f.JoinTime,
			LastLeave:    f.LeaveTime,
			Attendees:    []string{f.AttendeeKey},
		}
		a.byID[meetingID] = o
		a.order = append(a.order, meetingID)

		advs = appendTimestamp(advs, "JoinTime", f.JoinTime)
		advs = appendTimestamp(advs, "LeaveTime", f.LeaveTime)

		if a.dir != nil && f.OrganizerID != "" {
			a.dir.Learn(f.OrganizerID, f.OrganizerEmail)
		}
		return advs
	}

	advs = appendDrift(advs, audit.SeverityWarn, "organizer_email", o.Email, f.OrganizerEmail)
	advs = appendDrift(advs, audit.SeverityWarn, "organizer_id", o.ID, f.OrganizerID)
	advs = appendDrift(advs, audit.SeverityWarn, "organizer_organization", o.Organization, f.OrganizerOrganization)
	// Attendees invited while the meeting runs see another item name.
	advs = appendDrift(advs, audit.SeverityInfo, "meeting_type", o.MeetingType, f.MeetingType)

	var replace bool
	advs, replace = widen(advs, "JoinTime", o.FirstJoin, f.JoinTime, -1)
	if replace {
		o.FirstJoin = f.JoinTime
	}
	advs, replace = widen(advs, "LeaveTime", o.LastLeave, f.LeaveTime, 1)
	if replace {
		o.LastLeave = f.LeaveTime
	}

	if !slices.Contains(o.Attendees, f.AttendeeKey) {
		o.Attendees = append(o.Attendees, f.AttendeeKey)
	}
	return advs
}

// Get returns the summary of a meeting.
func (a *Aggregator) Get(meetingID string) (*Organizer, bool) {
	o, ok := a.byID[meetingID]
	return o, ok
}

// Organizers returns every summary in first-seen order.
func (a *Aggregator) Organizers() []*Organizer {
	out := make([]*Organizer, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.byID[id])
	}
	return out
}

// Len returns the number of meetings seen.
func (a *Aggregator) Len() int {
	return len(a.order)
}

// widen decides whether incoming should replace stored, the bound of a
// window that only moves in direction dir (-1 earlier, 1 later). A stored
// value that never parsed is replaced by the first one that does.
func widen(advs []audit.Advisory, field, stored, incoming string, dir int) ([]audit.Advisory, bool) {
	in, err := audit.ParseTime(incoming)
	if err != nil {
		return appendTimestamp(advs, field, incoming), false
	}
	cur, err := audit.ParseTime(stored)
	if err != nil {
		return advs, true
	}
	return advs, in.Compare(cur) == dir
}

func appendTimestamp(advs []audit.Advisory, field, value string) []audit.Advisory {
	if value == "" {
		// Absence was already reported by the extractor.
		return advs
	}
	if _, err := audit.ParseTime(value); talaerrors.IsInvalidTimestamp(err) {
		advs = append(advs, audit.Advisory{
			Code:     audit.AdvTimestamp,
			Severity: audit.SeverityError,
			Field:    field,
			Value:    value,
			Message:  "timestamp does not parse, ignored",
		})
	}
	return advs
}

func appendDrift(advs []audit.Advisory, sev audit.Severity, field, stored, incoming string) []audit.Advisory {
	if stored == incoming {
		return advs
	}
	return append(advs, audit.Advisory{
		Code:     audit.AdvDrift,
		Severity: sev,
		Field:    field,
		Value:    incoming,
		Message:  fmt.Sprintf("differs from first recorded value %q, kept", stored),
	})
}
