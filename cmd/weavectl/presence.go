package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/weave-sync/weave/internal/presence"
)

var presenceCmd = &cobra.Command{
	Use:   "presence",
	Short: "Presence-related helpers",
}

var presenceAwayCmd = &cobra.Command{
	Use:   "away <phrase>",
	Short: "Resolve a natural-language away-until phrase to a timestamp",
	Long: `Parses phrases like "in 20 minutes" or "tomorrow at 9am" into the
absolute timestamp a host application would attach to its own
presence.Record.AwayUntil before calling Engine.UpdatePresence — the
engine itself never parses natural language, only this CLI helper does.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		until, err := presence.ParseAwayUntil(args[0], time.Now())
		if err != nil {
			return fmt.Errorf("parse %q: %w", args[0], err)
		}
		fmt.Println(until.Format(time.RFC3339))
		return nil
	},
}

func init() {
	presenceCmd.AddCommand(presenceAwayCmd)
	rootCmd.AddCommand(presenceCmd)
}
