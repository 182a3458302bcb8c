package disconnect

import (
	"bufio"
	"fmt"
	"io"

	"github.com/otherjamesbrown/tala/pkg/audit"
)

// EmailLookup resolves an attendee key to an email address.
type EmailLookup interface {
	Email(key string) (string, bool)
}

// Render writes the human-readable report. emails may be nil.
func Render(w io.Writer, r *Report, emails EmailLookup) error {
	bw := bufio.NewWriter(w)

	for _, mf := range r.Findings {
		var meetingType, first, last string
		var count int
		if o := mf.Organizer; o != nil {
			meetingType, first, last, count = o.MeetingType, o.FirstJoin, o.LastLeave, o.AttendeeCount()
		}
		fmt.Fprintf(bw, "Meeting ID: %s / Type: %s / Date: %s / Time: %s - %s / #Attendees: %d\n",
			mf.MeetingID, meetingType, audit.DatePart(first), audit.ClockPart(first), audit.ClockPart(last), count)

		for _, af := range mf.Attendees {
			fmt.Fprintf(bw, "  Attendee: %s / Key type: %s", af.Key, af.KeyType)
			if emails != nil {
				if email, ok := emails.Email(af.Key); ok {
					fmt.Fprintf(bw, " / Email: %s", email)
				}
			}
			fmt.Fprintf(bw, " / Organization ID: %s\n", af.Organization)

			for _, g := range af.Groups {
				for _, s := range g.Sessions {
					fmt.Fprintf(bw, "    Time: %s - %s / IP address: %-15s / Device: %s / Property: %s\n",
						audit.ClockPart(s.JoinTime), audit.ClockPart(s.LeaveTime), s.ClientIP, s.Device, s.Property)
				}
				bw.WriteString("\n")
			}
		}
	}

	fmt.Fprintln(bw, "=====")
	fmt.Fprintf(bw, "%d meetings affected out of %d (%.1f%%)\n",
		r.Stats.AffectedMeetings, r.Stats.Meetings, r.Stats.MeetingPercent())
	fmt.Fprintf(bw, "%d attendees affected out of %d (%.1f%%)\n",
		r.Stats.AffectedAttendees, r.Stats.Attendees, r.Stats.AttendeePercent())

	return bw.Flush()
}
