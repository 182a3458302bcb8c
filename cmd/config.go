package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tala/config"
)

// ConfigCommandDeps holds the dependencies of the config command.
type ConfigCommandDeps struct {
	Config     *config.Config
	LoadConfig func() (*config.Config, error)
	ConfigPath func() (string, error)
	SaveConfig func(*config.Config) error
}

// DefaultConfigDeps returns the default dependencies for production use.
func DefaultConfigDeps() *ConfigCommandDeps {
	return &ConfigCommandDeps{
		LoadConfig: config.LoadConfig,
		ConfigPath: config.ConfigPath,
		SaveConfig: config.SaveConfig,
	}
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(deps *ConfigCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConfigDeps()
	}

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tala configuration",
		Long: `View and initialize the tala configuration file.

Settings are read from the config file, then overridden by TALA_* environment
variables, then by command-line flags:

  users_file     TALA_USERS_FILE     --users, -u
  ip_filter      TALA_IP_FILTER      disconnects --ip, -i
  policy         TALA_POLICY         disconnects --policy
  output_format  TALA_OUTPUT_FORMAT  --output, -o
  debug          TALA_DEBUG          --debug
  log_json       TALA_LOG_JSON       --log-json
  metrics_file   TALA_METRICS_FILE   --metrics-file`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand(deps))
	cmd.AddCommand(newConfigPathCommand(deps))

	return cmd
}

func newConfigShowCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := deps.Config
			if cfg == nil {
				var err error
				cfg, err = deps.LoadConfig()
				if err != nil {
					return fmt.Errorf("loading configuration: %w", err)
				}
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newConfigInitCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := deps.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}

			out := cmd.OutOrStdout()
			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintf(out, "Configuration file already exists: %s\n", configPath)
				fmt.Fprintln(out, "Use 'tala config show' to view current settings.")
				return nil
			}

			defaultCfg := config.DefaultConfig()
			if err := deps.SaveConfig(defaultCfg); err != nil {
				return fmt.Errorf("saving configuration: %w", err)
			}

			fmt.Fprintf(out, "Created configuration file: %s\n", configPath)
			fmt.Fprintln(out, "\nDefault settings:")
			fmt.Fprintf(out, "  Policy:         %s\n", defaultCfg.Policy)
			fmt.Fprintf(out, "  Output format:  %s\n", defaultCfg.OutputFormat)
			return nil
		},
	}
}

func newConfigPathCommand(deps *ConfigCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := deps.ConfigPath()
			if err != nil {
				return fmt.Errorf("getting config path: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), configPath)
			return nil
		},
	}
}
