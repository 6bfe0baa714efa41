package commands

import (
	"fmt"
	"io"
	"path"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rmxfs/internal/daemon"
	"rmxfs/internal/vfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <source> [path]",
	Short: "List the projected tree of a document store",
	Long: `Prints the directory tree rmxfs would mount for <source>, without mounting.
Directories end with a slash. The store is read without taking its lock, so
this works next to a running mount.

Examples:
  rmxfs ls ~/xochitl
  rmxfs ls -lR ~/xochitl Books`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runLs,
}

var (
	lsLong      bool
	lsRecursive bool
)

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show size, modification time and id")
	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "R", false, "List subdirectories recursively")
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) > 1 {
		dir = args[1]
	}

	d, err := daemon.Inspect(cmd.Context(), args[0], settings)
	if err != nil {
		return err
	}
	defer d.Close()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	if err := listDir(w, d.Bridge(), dir, ""); err != nil {
		return err
	}
	return w.Flush()
}

// listDir prints the entries of dir, prefixed with prefix, and descends
// into subdirectories when -R is set.
func listDir(w io.Writer, b *vfs.Bridge, dir, prefix string) error {
	attrs, err := b.ReadDirPath(dir)
	if err != nil {
		return fmt.Errorf("ls %q: %w", dir, err)
	}
	for _, a := range attrs {
		printEntry(w, a, prefix+a.Name)
		if lsRecursive && a.IsDir() {
			if err := listDir(w, b, path.Join(dir, a.Name), prefix+a.Name+"/"); err != nil {
				return err
			}
		}
	}
	return nil
}

func printEntry(w io.Writer, a vfs.Attr, name string) {
	if a.IsDir() {
		name += "/"
	}
	if !lsLong {
		fmt.Fprintln(w, name)
		return
	}
	id := a.ID
	if id == "" {
		id = "-"
	}
	fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.Size, a.Mtime.Local().Format("2006-01-02 15:04"), id, name)
}
