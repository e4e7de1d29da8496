package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hakosync/hakosync/internal/store"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync progress for every archived entity",
	Long: `Display per-member archive statistics: message count, media count,
sync watermark and newest message timestamp.

Examples:
  # Human readable table
  hakosync status

  # Machine readable
  hakosync status --json | jq '.'`,
	RunE: runStatus,
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, nil)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats()
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(stats) == 0 {
		fmt.Println("nothing synced yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tMEMBER\tMESSAGES\tMEDIA\tCURSOR\tLATEST")
	for _, s := range stats {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Entity.GroupID, s.Entity.MemberID, s.Messages, s.Media, s.Cursor, s.LastTimestamp)
	}
	return w.Flush()
}
