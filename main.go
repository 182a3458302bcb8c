// Package main provides the tala CLI entry point.
// tala analyzes Microsoft Teams audit log exports: it lists meeting
// organizers and attendee sessions and reports attendee disconnections.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tala/cmd"
	"github.com/otherjamesbrown/tala/config"
	"github.com/otherjamesbrown/tala/pkg/buildinfo"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
	"github.com/otherjamesbrown/tala/pkg/logging"
	"github.com/otherjamesbrown/tala/pkg/observability"
)

// Global flags and state.
var (
	cfgFile     string
	usersFile   string
	debug       bool
	logJSON     bool
	metricsFile string

	// auditDeps is shared by every audit log command and filled in once
	// the configuration is loaded.
	auditDeps = cmd.DefaultAuditDeps()

	// configDeps is used by the config command group.
	configDeps = cmd.DefaultConfigDeps()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tala",
	Short: "Teams audit log analyzer",
	Long: `tala reads Microsoft Teams audit log exports (CSV files with a JSON-like
AuditData column) and reports on the meetings they describe.

Each file is processed and reported on its own. With no file, standard input
is read. Rows that cannot be decoded are logged and skipped; the exit status
is the number of unreadable files and skipped rows, capped at 125.

COMMON WORKFLOWS:
  Inspect an export:     tala show audit.csv
  Meeting summaries:     tala organizers audit.csv
  Attendee sessions:     tala attendees -u users.csv audit.csv
  Disconnections:        tala disconnects --ip '^10\.' audit.csv

CONFIGURATION:
  tala config init       Create ~/.tala/config.yaml with defaults
  tala config show       Print the effective configuration`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		// Load configuration.
		var (
			cfg *config.Config
			err error
		)
		if cfgFile != "" {
			cfg, err = config.LoadConfigFile(cfgFile)
		} else {
			cfg, err = config.LoadConfig()
		}
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		cfg, err = cfg.With(func(next *config.Config) {
			if c.Flags().Changed("users") {
				next.UsersFile = usersFile
			}
			if debug {
				next.Debug = true
			}
			if logJSON {
				next.LogJSON = true
			}
			if metricsFile != "" {
				next.MetricsFile = metricsFile
			}
		})
		if err != nil {
			return err
		}

		logCfg := logging.DefaultConfig()
		if cfg.Debug {
			logCfg.Level = logging.LevelDebug
		}
		logCfg.JSONFormat = cfg.LogJSON
		logger := logging.NewLogger(logCfg)

		runID := uuid.New().String()
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		c.SetContext(logging.WithRunID(ctx, runID))
		logger.Debug("Starting run", logging.F("run_id", runID), logging.F("command", c.Name()))

		auditDeps.Config = cfg
		auditDeps.Logger = logger
		auditDeps.Metrics = observability.NewRunMetrics()
		auditDeps.Tracer = observability.NewTracer()
		configDeps.Config = cfg

		return nil
	},
}

// Version command flags.
var versionOutput string

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of tala.

Examples:
  tala version
  tala version --output json`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get("tala")
		out := c.OutOrStdout()

		switch config.OutputFormat(versionOutput) {
		case config.OutputFormatJSON:
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		case config.OutputFormatYAML:
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(info); err != nil {
				return err
			}
			return enc.Close()
		case "", "text":
			fmt.Fprintf(out, "tala %s\n", buildinfo.String())
			fmt.Fprintf(out, "  Go version: %s\n", info.GoVersion)
			return nil
		}
		return fmt.Errorf("unsupported output format: %s (must be text, json, or yaml)", versionOutput)
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for tala.

To load completions:

Bash:
  $ source <(tala completion bash)

Zsh:
  $ tala completion zsh > "${fpath[1]}/_tala"

Fish:
  $ tala completion fish | source

PowerShell:
  PS> tala completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		out := c.OutOrStdout()
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(out)
		case "zsh":
			return rootCmd.GenZshCompletion(out)
		case "fish":
			return rootCmd.GenFishCompletion(out, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.tala/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&usersFile, "users", "u", "", "organizer ID to email table (CSV, created when missing)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging, including informational advisories")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write run counters to this file in Prometheus text format")

	rootCmd.AddGroup(
		&cobra.Group{ID: "reports", Title: "Reports:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{
		cmd.NewShowCommand(auditDeps),
		cmd.NewOrganizersCommand(auditDeps),
		cmd.NewAttendeesCommand(auditDeps),
		cmd.NewDisconnectsCommand(auditDeps),
	} {
		c.GroupID = "reports"
		rootCmd.AddCommand(c)
	}

	configCmd := cmd.NewConfigCommand(configDeps)
	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)

	versionCmd.GroupID = "setup"
	versionCmd.Flags().StringVarP(&versionOutput, "output", "o", "", "Output format: text, json, yaml")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code())
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
		os.Exit(1)
	}
}

// errorHint returns a follow-up line for errors the user can fix locally.
func errorHint(err error) string {
	if talaerrors.IsInvalidConfig(err) {
		return "Run 'tala config show' to see the effective configuration."
	}
	return ""
}
