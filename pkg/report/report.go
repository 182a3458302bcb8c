// Package report writes the listings produced from processed audit logs:
// organizers, attendee sessions, disconnections and the row-by-row replay.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tala/config"
	"github.com/otherjamesbrown/tala/pkg/audit/disconnect"
	"github.com/otherjamesbrown/tala/pkg/audit/meetings"
	"github.com/otherjamesbrown/tala/pkg/audit/sessions"
)

// CSV headers of the listings. The leading '#' marks them as comments for
// the tools the listings are usually fed to.
var (
	OrganizerHeader = []string{
		"#meeting_id", "organizer_email", "organizer_id", "organizer_organization",
		"meeting_type", "first_join", "last_leave", "number_attendees",
	}
	AttendeeHeader = []string{
		"#meeting_id", "attendee_key", "key_type", "attendee_organization",
		"join_time", "leave_time", "client_ip", "device", "property",
	}
	AttendeeHeaderWithEmail = []string{
		"#meeting_id", "attendee_key", "attendee_email", "key_type", "attendee_organization",
		"join_time", "leave_time", "client_ip", "device", "property",
	}
)

// OrganizerRow is an organizer summary as listed.
type OrganizerRow struct {
	meetings.Organizer `yaml:",inline"`
	NumberAttendees    int `json:"number_attendees" yaml:"number_attendees"`
}

// AttendeeRow is one session of one attendee as listed.
type AttendeeRow struct {
	MeetingID        string `json:"meeting_id" yaml:"meeting_id"`
	AttendeeKey      string `json:"attendee_key" yaml:"attendee_key"`
	AttendeeEmail    string `json:"attendee_email,omitempty" yaml:"attendee_email,omitempty"`
	sessions.Session `yaml:",inline"`
}

// EmailLookup resolves an attendee key to an email address.
type EmailLookup interface {
	Email(key string) (string, bool)
}

// OrganizerRows returns the listing rows of orgs, in order.
func OrganizerRows(orgs []*meetings.Organizer) []OrganizerRow {
	rows := make([]OrganizerRow, 0, len(orgs))
	for _, o := range orgs {
		rows = append(rows, OrganizerRow{Organizer: *o, NumberAttendees: o.AttendeeCount()})
	}
	return rows
}

// AttendeeRows flattens store into one row per session, in store order.
// Emails are filled in when emails is not nil.
func AttendeeRows(store *sessions.Store, emails EmailLookup) []AttendeeRow {
	var rows []AttendeeRow
	for _, m := range store.Meetings() {
		for _, a := range m.Attendees {
			var email string
			if emails != nil {
				email, _ = emails.Email(a.Key)
			}
			for _, s := range a.Sessions {
				rows = append(rows, AttendeeRow{
					MeetingID:     m.ID,
					AttendeeKey:   a.Key,
					AttendeeEmail: email,
					Session:       s,
				})
			}
		}
	}
	return rows
}

// WriteOrganizers writes the organizer listing in the given format.
func WriteOrganizers(w io.Writer, orgs []*meetings.Organizer, format config.OutputFormat) error {
	rows := OrganizerRows(orgs)

	switch format {
	case config.OutputFormatJSON:
		return encodeJSON(w, rows)
	case config.OutputFormatYAML:
		return encodeYAML(w, rows)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(OrganizerHeader); err != nil {
		return fmt.Errorf("write organizers: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			r.MeetingID, r.Email, r.ID, r.Organization, r.MeetingType,
			r.FirstJoin, r.LastLeave, strconv.Itoa(r.NumberAttendees),
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write organizers: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write organizers: %w", err)
	}
	return nil
}

// WriteAttendees writes the attendee session listing in the given format.
// The email column is included only when emails is not nil.
func WriteAttendees(w io.Writer, store *sessions.Store, emails EmailLookup, format config.OutputFormat) error {
	rows := AttendeeRows(store, emails)

	switch format {
	case config.OutputFormatJSON:
		return encodeJSON(w, rows)
	case config.OutputFormatYAML:
		return encodeYAML(w, rows)
	}

	withEmail := emails != nil
	header := AttendeeHeader
	if withEmail {
		header = AttendeeHeaderWithEmail
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write attendees: %w", err)
	}
	for _, r := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, r.MeetingID, r.AttendeeKey)
		if withEmail {
			rec = append(rec, r.AttendeeEmail)
		}
		rec = append(rec, r.KeyType, r.Organization, r.JoinTime, r.LeaveTime, r.ClientIP, r.Device, r.Property)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write attendees: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write attendees: %w", err)
	}
	return nil
}

// WriteDisconnects writes a disconnection report. The CSV format selects the
// plain text report; JSON and YAML encode the findings and statistics.
func WriteDisconnects(w io.Writer, r *disconnect.Report, emails EmailLookup, format config.OutputFormat) error {
	switch format {
	case config.OutputFormatJSON:
		return encodeJSON(w, r)
	case config.OutputFormatYAML:
		return encodeYAML(w, r)
	}

	var lookup disconnect.EmailLookup
	if emails != nil {
		lookup = emails
	}
	if err := disconnect.Render(w, r, lookup); err != nil {
		return fmt.Errorf("write disconnects: %w", err)
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
