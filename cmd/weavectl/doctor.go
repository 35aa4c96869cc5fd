package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weave-sync/weave/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Sanity-check the configured store file",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := config.Load(nil, configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		fmt.Println(renderHead("weave doctor"))
		checkFile(opts.StorePath)
		checkPragmas(opts.StorePath)
		checkRemoteConfig(opts)
		return nil
	},
}

func checkFile(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		fmt.Println(renderWarn(fmt.Sprintf("store file %s does not exist yet (will be created on first open)", path)))
		return
	}
	fmt.Println(renderPass(fmt.Sprintf("store file %s exists (%d bytes)", path, fi.Size())))
}

func checkPragmas(path string) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		fmt.Println(renderFail(fmt.Sprintf("open %s: %v", path, err)))
		return
	}
	defer conn.Close()

	var mode string
	if err := conn.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode); err != nil {
		fmt.Println(renderFail(fmt.Sprintf("read journal_mode: %v", err)))
		return
	}
	if mode == "wal" {
		fmt.Println(renderPass("journal_mode is WAL"))
	} else {
		fmt.Println(renderWarn(fmt.Sprintf("journal_mode is %s, expected wal (set on next weave open)", mode)))
	}
}

func checkRemoteConfig(opts *config.Options) {
	if opts.RemoteBackend == "" {
		fmt.Println(renderDim("no remote backend configured — running local-only"))
		return
	}
	if opts.RemoteURL == "" {
		fmt.Println(renderFail(fmt.Sprintf("remote backend %q configured but remote.url is empty", opts.RemoteBackend)))
		return
	}
	fmt.Println(renderPass(fmt.Sprintf("remote backend %q configured (%s)", opts.RemoteBackend, opts.RemoteURL)))
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
