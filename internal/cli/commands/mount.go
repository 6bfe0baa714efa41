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
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"rmxfs/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount <source> <mount-point>",
	Short: "Mount a document store with FUSE",
	Long: `Mounts the document store in <source> at <mount-point> and serves it until
interrupted (Ctrl-C or SIGTERM), then unmounts.

The mount point is created if missing and must be empty otherwise.

Examples:
  rmxfs mount ~/xochitl ~/tablet
  rmxfs mount --debug --log-level debug --log-file - ./store ./mnt`,
	Args: cobra.ExactArgs(2),
	RunE: runMount,
}

var (
	mountDebug         bool
	mountAllowOther    bool
	mountMetricsListen string
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.Flags().BoolVar(&mountDebug, "debug", false, "Log every FUSE request and reply")
	mountCmd.Flags().BoolVar(&mountAllowOther, "allow-other", false, "Let other users access the mount")
	mountCmd.Flags().StringVar(&mountMetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
}

func runMount(cmd *cobra.Command, args []string) error {
	source, target := args[0], args[1]

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve mount point: %w", err)
	}
	if err := checkMountPoint(absTarget); err != nil {
		return err
	}

	if mountAllowOther {
		settings.AllowOther = true
	}
	if mountMetricsListen != "" {
		settings.MetricsListen = mountMetricsListen
	}

	d, err := daemon.Open(cmd.Context(), source, settings)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Mounted %s at %s (Ctrl-C to unmount)\n", d.Source, absTarget)
	return d.MountFUSE(cmd.Context(), absTarget, mountDebug)
}

// checkMountPoint creates target if missing and rejects a non-empty or
// non-directory target.
func checkMountPoint(target string) error {
	info, err := os.Lstat(target)
	if os.IsNotExist(err) {
		return os.MkdirAll(target, 0755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("target exists and is not a directory: %s", target)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return fmt.Errorf("failed to read target directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("target directory is not empty: %s", target)
	}
	return nil
}
