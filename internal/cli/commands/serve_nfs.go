package commands

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"rmxfs/internal/daemon"
	"rmxfs/internal/netfs"
)

var serveNFSCmd = &cobra.Command{
	Use:   "serve-nfs <source>",
	Short: "Export a document store over NFSv3",
	Long: `Serves the document store in <source> as an NFSv3 export for hosts without
FUSE. Without --mount the export is only served and the mount command for
this host is printed; with --mount it is also mounted there (usually needs
root) and unmounted again on exit.

Examples:
  rmxfs serve-nfs ~/xochitl --listen 127.0.0.1:20490
  sudo rmxfs serve-nfs ~/xochitl --mount /mnt/tablet`,
	Args: cobra.ExactArgs(1),
	RunE: runServeNFS,
}

var (
	nfsListen        string
	nfsMountPath     string
	nfsMetricsListen string
)

func init() {
	rootCmd.AddCommand(serveNFSCmd)
	serveNFSCmd.Flags().StringVar(&nfsListen, "listen", "", "Listen address (default from settings, nfs_listen)")
	serveNFSCmd.Flags().StringVar(&nfsMountPath, "mount", "", "Also mount the export at this path")
	serveNFSCmd.Flags().StringVar(&nfsMetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
}

func runServeNFS(cmd *cobra.Command, args []string) error {
	if nfsMetricsListen != "" {
		settings.MetricsListen = nfsMetricsListen
	}
	mountPath := nfsMountPath
	if mountPath != "" {
		abs, err := filepath.Abs(mountPath)
		if err != nil {
			return fmt.Errorf("failed to resolve mount point: %w", err)
		}
		if err := checkMountPoint(abs); err != nil {
			return err
		}
		mountPath = abs
	}

	d, err := daemon.Open(cmd.Context(), args[0], settings)
	if err != nil {
		return err
	}
	defer d.Close()

	out := cmd.OutOrStdout()
	return d.ServeNFS(cmd.Context(), nfsListen, mountPath, func(addr net.Addr) {
		tcp := addr.(*net.TCPAddr)
		fmt.Fprintf(out, "Serving %s over NFS on %s (Ctrl-C to stop)\n", d.Source, tcp)
		if mountPath == "" {
			name, margs := netfs.MountCommand(tcp.IP.String(), tcp.Port, "<mount-point>")
			fmt.Fprintf(out, "Mount with:\n  %s %s\n", name, strings.Join(margs, " "))
		}
	})
}
