package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hakosync/hakosync/internal/media"
	"github.com/hakosync/hakosync/internal/store"
)

// backfillCmd represents the backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Extract missing media dimensions from downloaded files",
	Long: `Walk the archive for media messages without pixel dimensions and
extract them from the files already on disk. Useful after upgrading
from an archive built before dimension extraction existed.`,
	RunE: runBackfill,
}

var backfillFlags struct {
	Limit int
}

func init() {
	backfillCmd.Flags().IntVar(&backfillFlags.Limit, "limit", 500, "Maximum records per entity")
	RootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
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

	filled := 0
	for _, entityStats := range stats {
		pending, err := st.MessagesNeedingDimensions(entityStats.Entity, backfillFlags.Limit)
		if err != nil {
			return err
		}
		for _, msg := range pending {
			dims, err := media.ExtractDimensions(msg.MediaFile, msg.Type)
			if err != nil || dims.IsZero() {
				continue
			}
			if err := st.SetDimensions(msg.GroupID, msg.ID, dims); err != nil {
				return err
			}
			filled++
		}
	}

	fmt.Printf("filled dimensions for %d messages\n", filled)
	return nil
}
