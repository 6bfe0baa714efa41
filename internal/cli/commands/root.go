// Copyright 2024 RMXFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rmxfs/internal/daemon"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// SetVersion sets the version info for --version flag
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

// getVersionString returns the version string with build info
func getVersionString() string {
	buildDate := formatBuildDate(date)
	if strings.HasSuffix(version, "-dev") {
		// Dev build: include epoch and commit for troubleshooting
		return fmt.Sprintf("%s (%s, epoch: %s, commit: %s)", version, buildDate, date, commit)
	}
	return fmt.Sprintf("%s (%s)", version, buildDate)
}

// formatBuildDate converts epoch timestamp to readable date
func formatBuildDate(epoch string) string {
	ts, err := strconv.ParseInt(epoch, 10, 64)
	if err != nil {
		return epoch
	}
	return time.Unix(ts, 0).Format("2006-01-02")
}

var (
	configPath   string
	flagLogLevel string
	flagLogFile  string

	// settings is loaded once per invocation by the root pre-run hook.
	settings  *daemon.Settings
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "rmxfs",
	Short: "Mount a tablet document store as a directory tree",
	Long: `rmxfs projects a flat xochitl document store (one <id>.metadata record per
item, with <id>.pdf / <id>.epub content next to it) as an ordinary directory
tree. Collections become directories, documents become files named
<visibleName>.<type>, and deleted documents appear under trash/.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip initialization for help commands
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		if configPath == "" {
			if err := daemon.InitConfigDir(); err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}
		}
		loaded, err := daemon.LoadSettings(configPath)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		if flagLogFile != "" {
			loaded.LogFile = flagLogFile
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		settings = loaded

		logCloser, err = daemon.SetupLogging(settings.LogLevel, settings.LogFile)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser == nil {
			return nil
		}
		err := logCloser.Close()
		logCloser = nil
		return err
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate("rmxfs version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default ~/.rmxfs/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log level: trace, debug, info, warn, off")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Override log file; - logs to stderr")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
