package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset <docId>",
	Short: "Clear a doc's remote-sync cursor, forcing a fresh re-push",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]

		if !resetYes {
			ok, err := confirmReset(docID)
			if err != nil {
				return fmt.Errorf("confirm: %w", err)
			}
			if !ok {
				fmt.Println(renderDim("aborted"))
				return nil
			}
		}

		ctx := context.Background()
		st, err := openStore(docID)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Shutdown(ctx)

		if err := st.ResetDocRemoteSyncData(ctx); err != nil {
			return fmt.Errorf("reset remote-sync data: %w", err)
		}
		fmt.Println(renderPass(fmt.Sprintf("cleared remote-sync data for %s", docID)))
		return nil
	},
}

// confirmReset prompts interactively when stdout is a terminal;
// non-interactive runs (scripts, CI) must pass --yes instead.
func confirmReset(docID string) (bool, error) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return false, fmt.Errorf("not a terminal: pass --yes to reset %q non-interactively", docID)
	}
	var confirmed bool
	err := huh.NewConfirm().
		Title(fmt.Sprintf("Reset remote-sync data for %q?", docID)).
		Description("The next leader election will re-push every commit to the remote.").
		Affirmative("Reset").
		Negative("Cancel").
		Value(&confirmed).
		Run()
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "skip the interactive confirmation")
	rootCmd.AddCommand(resetCmd)
}
