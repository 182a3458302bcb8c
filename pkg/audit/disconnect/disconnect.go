// Package disconnect finds attendees whose connection timeline suggests they
// were dropped from a meeting and joined again.
package disconnect

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/otherjamesbrown/tala/pkg/audit/meetings"
	"github.com/otherjamesbrown/tala/pkg/audit/sessions"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

// Policy selects what counts as a suspicious reconnection.
type Policy string

const (
	// PolicySameDevice flags attendees with several sessions from one device.
	PolicySameDevice Policy = "same-device"
	// PolicyAny flags attendees with several sessions, whatever the device.
	PolicyAny Policy = "any"
)

// UnknownDevice groups sessions that carry no device information.
const UnknownDevice = "?"

// IsValid returns true if the policy is known.
func (p Policy) IsValid() bool {
	return p == PolicySameDevice || p == PolicyAny
}

// String returns the string representation of the policy.
func (p Policy) String() string {
	return string(p)
}

// ParsePolicy converts a flag or config value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: unknown disconnect policy %q (use %s or %s)",
			talaerrors.ErrInvalidConfig, s, PolicySameDevice, PolicyAny)
	}
	return p, nil
}

// Options configure an analysis.
type Options struct {
	Policy Policy
	// IPFilter, when set, restricts the analysis to sessions whose client IP
	// matches somewhere.
	IPFilter *regexp.Regexp
}

// OrganizerLookup returns the summary of a meeting.
type OrganizerLookup interface {
	Get(meetingID string) (*meetings.Organizer, bool)
}

// SessionGroup is a set of sessions reported together.
type SessionGroup struct {
	// Device is the shared device label, empty under PolicyAny.
	Device   string             `json:"device,omitempty" yaml:"device,omitempty"`
	Sessions []sessions.Session `json:"sessions" yaml:"sessions"`
}

// AttendeeFinding is an attendee with at least one suspicious group.
type AttendeeFinding struct {
	Key string `json:"attendee_key" yaml:"attendee_key"`
	// KeyType and Organization come from the earliest stored session.
	KeyType      string         `json:"key_type" yaml:"key_type"`
	Organization string         `json:"attendee_organization" yaml:"attendee_organization"`
	Groups       []SessionGroup `json:"groups" yaml:"groups"`
}

// MeetingFinding is a meeting with at least one affected attendee.
type MeetingFinding struct {
	MeetingID string `json:"meeting_id" yaml:"meeting_id"`
	// Organizer is nil when the aggregator never saw the meeting.
	Organizer *meetings.Organizer `json:"organizer,omitempty" yaml:"organizer,omitempty"`
	Attendees []AttendeeFinding   `json:"attendees" yaml:"attendees"`
}

// Stats are the totals of an analysis.
type Stats struct {
	Meetings          int `json:"meetings" yaml:"meetings"`
	AffectedMeetings  int `json:"affected_meetings" yaml:"affected_meetings"`
	Attendees         int `json:"attendees" yaml:"attendees"`
	AffectedAttendees int `json:"affected_attendees" yaml:"affected_attendees"`
}

// MeetingPercent returns the share of affected meetings, 0 when there are none.
func (s Stats) MeetingPercent() float64 {
	return percent(s.AffectedMeetings, s.Meetings)
}

// AttendeePercent returns the share of affected attendees, 0 when there are none.
func (s Stats) AttendeePercent() float64 {
	return percent(s.AffectedAttendees, s.Attendees)
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

// Report is the outcome of an analysis, in store order.
type Report struct {
	Policy   Policy           `json:"policy" yaml:"policy"`
	Findings []MeetingFinding `json:"findings" yaml:"findings"`
	Stats    Stats            `json:"stats" yaml:"stats"`
}

// Analyze scans every timeline of store. Meetings and attendees are visited
// in the order they were first stored.
func Analyze(store *sessions.Store, orgs OrganizerLookup, opts Options) *Report {
	policy := opts.Policy
	if policy == "" {
		policy = PolicySameDevice
	}
	r := &Report{Policy: policy}

	for _, m := range store.Meetings() {
		r.Stats.Meetings++
		r.Stats.Attendees += len(m.Attendees)

		var found []AttendeeFinding
		for _, a := range m.Attendees {
			var groups []SessionGroup
			if policy == PolicyAny {
				groups = anyGroups(a.Sessions, opts.IPFilter)
			} else {
				groups = deviceGroups(a.Sessions, opts.IPFilter)
			}
			if len(groups) == 0 {
				continue
			}
			found = append(found, AttendeeFinding{
				Key:          a.Key,
				KeyType:      a.Sessions[0].KeyType,
				Organization: a.Sessions[0].Organization,
				Groups:       groups,
			})
		}
		if len(found) == 0 {
			continue
		}

		mf := MeetingFinding{MeetingID: m.ID, Attendees: found}
		if orgs != nil {
			mf.Organizer, _ = orgs.Get(m.ID)
		}
		r.Findings = append(r.Findings, mf)
		r.Stats.AffectedMeetings++
		r.Stats.AffectedAttendees += len(found)
	}
	return r
}

// anyGroups returns every session as one group when there are several and,
// with a filter, at least one of them matches it.
func anyGroups(ss []sessions.Session, filter *regexp.Regexp) []SessionGroup {
	if len(ss) < 2 {
		return nil
	}
	if filter != nil && !anyMatch(ss, filter) {
		return nil
	}
	return []SessionGroup{{Sessions: ss}}
}

// deviceGroups groups the sessions matching filter by device and keeps the
// groups holding more than one session, in first-seen device order.
func deviceGroups(ss []sessions.Session, filter *regexp.Regexp) []SessionGroup {
	var order []string
	byDevice := make(map[string][]sessions.Session)
	for _, s := range ss {
		if filter != nil && !filter.MatchString(s.ClientIP) {
			continue
		}
		device := s.Device
		if device == "" {
			device = UnknownDevice
		}
		if _, ok := byDevice[device]; !ok {
			order = append(order, device)
		}
		byDevice[device] = append(byDevice[device], s)
	}

	var groups []SessionGroup
	for _, d := range order {
		if len(byDevice[d]) > 1 {
			groups = append(groups, SessionGroup{Device: d, Sessions: byDevice[d]})
		}
	}
	return groups
}

func anyMatch(ss []sessions.Session, filter *regexp.Regexp) bool {
	for _, s := range ss {
		if filter.MatchString(s.ClientIP) {
			return true
		}
	}
	return false
}
