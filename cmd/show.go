package cmd

import (
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/ingest"
	"github.com/otherjamesbrown/tala/pkg/audit/payload"
	"github.com/otherjamesbrown/tala/pkg/report"
)

// NewShowCommand creates the show command.
func NewShowCommand(deps *AuditCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuditDeps()
	}

	return &cobra.Command{
		Use:   "show [file...]",
		Short: "Print every audit row with its decoded payload",
		Long: `Print every audit row followed by its decoded AuditData, one field per
line in payload order, nested records indented. Rows whose payload does not
decode are reported on the log and skipped.

Run with --debug to see the informational advisories raised for each row
(unexpected constants, unknown meeting types, missing optional fields).

Examples:
  tala show audit.csv
  tala show --debug audit.csv 2>advisories.log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.init(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			show := ingest.WithRowHandler(func(row audit.Row, rec *payload.Record) error {
				return report.WriteShow(out, row, rec)
			})
			return runSources(cmd.Context(), deps, deps.Config, args, func(*auditRun, *ingest.Result) error {
				return nil
			}, show)
		},
	}
}
