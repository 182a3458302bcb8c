package cmd

import (
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tala/pkg/audit/ingest"
	"github.com/otherjamesbrown/tala/pkg/report"
)

// NewAttendeesCommand creates the attendees command.
func NewAttendeesCommand(deps *AuditCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuditDeps()
	}

	var output string

	cmd := &cobra.Command{
		Use:     "attendees [file...]",
		Aliases: []string{"sessions"},
		Short:   "List attendee connection sessions",
		Long: `List every connection session of every attendee, sorted by join time
then leave time within each attendee. Identical sessions are listed once.

When a users file is configured, an attendee_email column is added with the
email of attendees that organized a meeting at some point.

Examples:
  tala attendees audit.csv
  tala attendees --users users.csv audit.csv
  tala attendees -o yaml audit.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.init(); err != nil {
				return err
			}
			format, err := resolveFormat(output, deps.Config)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return runSources(cmd.Context(), deps, deps.Config, args, func(run *auditRun, res *ingest.Result) error {
				return report.WriteAttendees(out, res.Sessions, run.emails(), format)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: csv, json, yaml")

	return cmd
}
