package cmd

import (
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tala/config"
	"github.com/otherjamesbrown/tala/pkg/audit/disconnect"
	"github.com/otherjamesbrown/tala/pkg/audit/ingest"
	"github.com/otherjamesbrown/tala/pkg/logging"
	"github.com/otherjamesbrown/tala/pkg/observability"
	"github.com/otherjamesbrown/tala/pkg/report"
)

// NewDisconnectsCommand creates the disconnects command.
func NewDisconnectsCommand(deps *AuditCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuditDeps()
	}

	var (
		ipFilter string
		policy   string
		output   string
	)

	cmd := &cobra.Command{
		Use:     "disconnects [file...]",
		Aliases: []string{"disconnections"},
		Short:   "Report attendees that disconnected during meetings",
		Long: `Report the attendees whose sessions suggest they were disconnected and
reconnected during a meeting, followed by the share of affected meetings and
attendees.

Policies:
  same-device  An attendee is reported when two or more of their sessions
               come from the same device (default).
  any          An attendee is reported when they have two or more sessions.

The IP filter is a regular expression; only sessions whose client IP matches
it anywhere are considered.

Examples:
  tala disconnects audit.csv
  tala disconnects --ip '^10\.' audit.csv
  tala disconnects --policy any -u users.csv audit.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.init(); err != nil {
				return err
			}

			var flagPolicy disconnect.Policy
			if policy != "" {
				p, err := disconnect.ParsePolicy(policy)
				if err != nil {
					return err
				}
				flagPolicy = p
			}

			cfg, err := deps.Config.With(func(c *config.Config) {
				if cmd.Flags().Changed("ip") {
					c.IPFilter = ipFilter
				}
				if flagPolicy != "" {
					c.Policy = flagPolicy
				}
			})
			if err != nil {
				return err
			}
			format, err := resolveFormat(output, cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			return runSources(ctx, deps, cfg, args, func(run *auditRun, res *ingest.Result) error {
				_, span := deps.Tracer.StartAnalyzeSpan(ctx, cfg.Policy.String())
				defer span.End()

				r := disconnect.Analyze(res.Sessions, res.Organizers, disconnect.Options{
					Policy:   cfg.Policy,
					IPFilter: cfg.IPFilterRegexp(),
				})
				observability.NewSpanHelper(span).SetSuccess()
				deps.Metrics.RecordDisconnects(cfg.Policy.String(), r.Stats.AffectedAttendees)
				deps.Logger.WithContext(ctx).Info("Disconnection analysis done",
					logging.F("source", res.Source),
					logging.F("policy", cfg.Policy.String()),
					logging.F("affected_meetings", r.Stats.AffectedMeetings),
					logging.F("affected_attendees", r.Stats.AffectedAttendees))

				return report.WriteDisconnects(out, r, run.emails(), format)
			})
		},
	}

	cmd.Flags().StringVarP(&ipFilter, "ip", "i", "", "Only consider sessions whose client IP matches this regular expression")
	cmd.Flags().StringVar(&policy, "policy", "", "Disconnection policy: same-device, any")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: csv (text report), json, yaml")

	return cmd
}
