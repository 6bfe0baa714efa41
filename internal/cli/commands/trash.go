package commands

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rmxfs/internal/daemon"
)

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect or empty the trash of a document store",
	Long: `Removing a document from a mount only moves it to trash/. These commands
list what is there and erase it for good.`,
}

var trashLsCmd = &cobra.Command{
	Use:   "ls <source>",
	Short: "List trashed documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrashLs,
}

var trashEmptyCmd = &cobra.Command{
	Use:   "empty <source>",
	Short: "Permanently erase everything in trash",
	Long: `Deletes the records and content of every trashed item. Documents that are
open are kept. The store must not be mounted at the same time.

Examples:
  rmxfs trash empty ~/xochitl
  rmxfs trash empty -y ~/xochitl`,
	Args: cobra.ExactArgs(1),
	RunE: runTrashEmpty,
}

var trashSkipConfirm bool

func init() {
	rootCmd.AddCommand(trashCmd)
	trashCmd.AddCommand(trashLsCmd)
	trashCmd.AddCommand(trashEmptyCmd)
	trashEmptyCmd.Flags().BoolVarP(&trashSkipConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runTrashLs(cmd *cobra.Command, args []string) error {
	d, err := daemon.Inspect(cmd.Context(), args[0], settings)
	if err != nil {
		return err
	}
	defer d.Close()

	attrs, err := d.Bridge().ListTrash()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(attrs) == 0 {
		fmt.Fprintln(out, "Trash is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, a := range attrs {
		name := a.Name
		if a.IsDir() {
			name += "/"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Mtime.Local().Format("2006-01-02 15:04"), a.ID, name)
	}
	return w.Flush()
}

func runTrashEmpty(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Confirmation prompt (if not skipped)
	if !trashSkipConfirm {
		fmt.Fprintf(out, "This will permanently delete everything in the trash of %s.\n", args[0])
		fmt.Fprint(out, "Continue? [y/N] ")

		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Cancelled")
			return nil
		}
	}

	d, err := daemon.Open(cmd.Context(), args[0], settings)
	if err != nil {
		return err
	}
	defer d.Close()

	stats, err := d.Bridge().PurgeTrash()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Erased %d document(s) and %d collection(s)\n", stats.Documents, stats.Collections)
	if stats.Skipped > 0 {
		fmt.Fprintf(out, "Kept %d open document(s)\n", stats.Skipped)
	}
	return nil
}
