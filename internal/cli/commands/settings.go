package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rmxfs/internal/daemon"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change settings",
	Long: `Prints the effective settings, after --config, --log-level and --log-file
are applied. With --logging the log level is saved to the settings file.

Settings are stored in ~/.rmxfs/settings.yaml (RMXFS_CONFIG_DIR moves the
directory) and take effect on the next mount.

Examples:
  rmxfs settings
  rmxfs settings --logging debug
  rmxfs settings --logging off`,
	Args: cobra.NoArgs,
	RunE: runSettings,
}

var settingsLogLevel string

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.Flags().StringVar(&settingsLogLevel, "logging", "", "Save log level: trace, debug, info, warn, off")
}

func runSettings(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if settingsLogLevel != "" {
		if configPath != "" {
			return fmt.Errorf("--logging saves to %s and cannot be combined with --config", daemon.GlobalSettingsPath())
		}
		stored, err := daemon.LoadSettings("")
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		stored.LogLevel = strings.ToLower(settingsLogLevel)
		if stored.LogLevel == "none" {
			stored.LogLevel = "off"
		}
		if err := stored.Validate(); err != nil {
			return err
		}
		if err := daemon.SaveSettings(stored); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
		fmt.Fprintf(out, "Log level set to: %s\n", stored.LogLevel)
		return nil
	}

	path := configPath
	if path == "" {
		path = daemon.GlobalSettingsPath()
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "# %s\n%s", path, data)
	return nil
}
