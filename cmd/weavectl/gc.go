package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Garbage-collect unreferenced commits (not supported)",
	Long: `weave does not garbage-collect unreferenced commits: every commit
ever added stays in the local store, per this project's explicit
non-goals. This command exists so scripts that call it get an
explanation (and a successful exit) instead of a "no such command"
error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(renderWarn("gc is not supported: weave never garbage-collects unreferenced commits"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}
