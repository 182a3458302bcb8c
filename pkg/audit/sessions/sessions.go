// Package sessions stores the connection timeline of every attendee of every
// meeting.
package sessions

import (
	"slices"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/extract"
)

// Session is one join/leave interval of an attendee connection.
type Session struct {
	KeyType      string `json:"key_type" yaml:"key_type"`
	Organization string `json:"attendee_organization" yaml:"attendee_organization"`
	JoinTime     string `json:"join_time" yaml:"join_time"`
	LeaveTime    string `json:"leave_time" yaml:"leave_time"`
	ClientIP     string `json:"client_ip" yaml:"client_ip"`
	Device       string `json:"device" yaml:"device"`
	Property     string `json:"property" yaml:"property"`
}

// FromFields returns the session described by an extracted row.
func FromFields(f extract.Fields) Session {
	return Session{
		KeyType:      f.KeyType,
		Organization: f.AttendeeOrganization,
		JoinTime:     f.JoinTime,
		LeaveTime:    f.LeaveTime,
		ClientIP:     f.ClientIP,
		Device:       f.Device,
		Property:     f.Property,
	}
}

// less reports whether s sorts strictly before o by (join, leave).
func (s Session) less(o Session) bool {
	if c := audit.CompareTimes(s.JoinTime, o.JoinTime); c != 0 {
		return c < 0
	}
	return audit.CompareTimes(s.LeaveTime, o.LeaveTime) < 0
}

// Attendee is the timeline of one attendee in one meeting.
type Attendee struct {
	Key      string
	Sessions []Session
}

// Meeting holds the attendees of one meeting in first-seen order.
type Meeting struct {
	ID        string
	Attendees []*Attendee

	byKey map[string]*Attendee
}

// Attendee returns the timeline of an attendee.
func (m *Meeting) Attendee(key string) (*Attendee, bool) {
	a, ok := m.byKey[key]
	return a, ok
}

// Store maps (meeting ID, attendee key) to a timeline sorted by (join, leave)
// that never holds two identical sessions.
type Store struct {
	meetings []*Meeting
	byID     map[string]*Meeting
	sessions int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*Meeting)}
}

// Insert adds s to the timeline of (meetingID, key). It returns false, and
// leaves the store unchanged, when an identical session is already stored.
// Otherwise s goes before the first session that does not sort strictly
// before it.
func (st *Store) Insert(meetingID, key string, s Session) bool {
	m, ok := st.byID[meetingID]
	if !ok {
		m = &Meeting{ID: meetingID, byKey: make(map[string]*Attendee)}
		st.byID[meetingID] = m
		st.meetings = append(st.meetings, m)
	}
	a, ok := m.byKey[key]
	if !ok {
		a = &Attendee{Key: key}
		m.byKey[key] = a
		m.Attendees = append(m.Attendees, a)
	}

	if slices.Contains(a.Sessions, s) {
		return false
	}
	i := 0
	for i < len(a.Sessions) && a.Sessions[i].less(s) {
		i++
	}
	a.Sessions = slices.Insert(a.Sessions, i, s)
	st.sessions++
	return true
}

// Meetings returns every meeting in first-seen order.
func (st *Store) Meetings() []*Meeting {
	return st.meetings
}

// Meeting returns one meeting.
func (st *Store) Meeting(id string) (*Meeting, bool) {
	m, ok := st.byID[id]
	return m, ok
}

// Sessions returns the timeline of (meetingID, key), or nil.
func (st *Store) Sessions(meetingID, key string) []Session {
	m, ok := st.byID[meetingID]
	if !ok {
		return nil
	}
	a, ok := m.byKey[key]
	if !ok {
		return nil
	}
	return a.Sessions
}

// SessionCount returns the number of sessions stored.
func (st *Store) SessionCount() int {
	return st.sessions
}

// AttendeeCount returns the number of (meeting, attendee) pairs stored.
func (st *Store) AttendeeCount() int {
	n := 0
	for _, m := range st.meetings {
		n += len(m.Attendees)
	}
	return n
}
