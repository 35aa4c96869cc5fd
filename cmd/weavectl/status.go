package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a doc's local store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		st, err := openStore(docIDFlag)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Shutdown(ctx)

		ev, err := st.GetLocalCommitsEvent(ctx, 0)
		if err != nil {
			return fmt.Errorf("read commits: %w", err)
		}
		info, err := st.GetRemoteSyncInfo(ctx)
		if err != nil {
			return fmt.Errorf("read remote-sync info: %w", err)
		}

		unsynced := 0
		for batch, err := range st.CommitsForRemote(ctx) {
			if err != nil {
				return fmt.Errorf("scan unsynced commits: %w", err)
			}
			unsynced += len(batch.Commits)
		}

		fmt.Println(renderHead(fmt.Sprintf("weave store — %s", docIDFlag)))
		fmt.Printf("  commits:          %d\n", len(ev.Commits))
		fmt.Printf("  local sync id:    %d\n", ev.SyncID)
		fmt.Printf("  local store id:   %s\n", info.LocalStoreID)
		fmt.Printf("  last sync cursor: %s\n", nonEmpty(info.LastSyncCursor, renderDim("(none)")))
		fmt.Printf("  unsynced commits: %d\n", unsynced)
		return nil
	},
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
