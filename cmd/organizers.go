package cmd

import (
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tala/pkg/audit/ingest"
	"github.com/otherjamesbrown/tala/pkg/report"
)

// NewOrganizersCommand creates the organizers command.
func NewOrganizersCommand(deps *AuditCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuditDeps()
	}

	var output string

	cmd := &cobra.Command{
		Use:     "organizers [file...]",
		Aliases: []string{"meetings"},
		Short:   "List meetings and their organizers",
		Long: `List one line per meeting: its organizer, the first join and last leave
seen among its attendees, and the number of distinct attendees.

Files are processed one after the other, each producing its own listing.
Without files, the audit log is read from standard input.

Examples:
  tala organizers audit.csv
  tala organizers -u ~/.tala/users.csv audit-*.csv
  tala organizers --output json < audit.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.init(); err != nil {
				return err
			}
			format, err := resolveFormat(output, deps.Config)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			return runSources(cmd.Context(), deps, deps.Config, args, func(_ *auditRun, res *ingest.Result) error {
				return report.WriteOrganizers(out, res.Organizers.Organizers(), format)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: csv, json, yaml")

	return cmd
}
