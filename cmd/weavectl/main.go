// Command weavectl is weave's operator CLI: inspecting a local store's
// state (status), sanity-checking its file and pragmas (doctor),
// clearing a stuck remote-sync cursor (reset), and computing an
// away-until timestamp from a natural-language phrase (presence).
//
// Grounded on cmd/bd/turso.go's cobra command-group shape ("open db,
// defer close, act") and internal/turso/daemon.Config's flat-struct
// configuration convention, generalized from a single hardcoded jj-beads
// cache path to weave's internal/config-layered Options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "weavectl",
	Short: "Operate on a weave local store",
	Long: `weavectl inspects and maintains a weave client's local store.

weave itself is a library: the engine, differ, store, broadcast, and
remote packages are wired into a host application. weavectl operates
directly on a store's SQLite file for offline inspection and repair —
it does not run a live engine.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "weave.toml", "path to a weave.toml config file")
	rootCmd.PersistentFlags().StringVar(&docIDFlag, "doc", "default", "docId to operate on")
}

var (
	configPath string
	docIDFlag  string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
