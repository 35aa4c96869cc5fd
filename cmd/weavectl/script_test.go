package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
	"rsc.io/script"
)

// weavectlEngine wires the weavectl binary itself into a script.Engine as
// an in-process command, alongside the language's builtin file and
// condition commands. weavectl has no subprocess-visible side effects
// beyond stdout and the sqlite file it opens, so running it in-process
// and capturing os.Stdout through a pipe is enough to drive it the same
// way a shell script invoking the real binary would.
func weavectlEngine() *script.Engine {
	cmds := script.DefaultCmds()
	cmds["weavectl"] = script.Command(
		script.CmdUsage{
			Summary: "run weavectl in-process, capturing its stdout",
			Args:    "arg...",
		},
		runWeavectl,
	)
	return &script.Engine{Cmds: cmds, Conds: script.DefaultConds()}
}

func runWeavectl(s *script.State, args ...string) (script.WaitFunc, error) {
	resolved := make([]string, len(args))
	for i, a := range args {
		resolved[i] = resolveScriptPath(s, a)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	oldStdout := os.Stdout
	os.Stdout = w

	// weavectl's global command tree is reused across every script
	// invocation, so --config and --doc must be reset to their default
	// values each time or a --config from one line would leak into the
	// next.
	configPath = "weave.toml"
	docIDFlag = "default"
	rootCmd.SetArgs(resolved)
	runErr := rootCmd.Execute()

	w.Close()
	os.Stdout = oldStdout
	out, _ := io.ReadAll(r)

	return func(*script.State) (stdout, stderr string, err error) {
		return string(out), "", runErr
	}, nil
}

// resolveScriptPath rewrites a bare relative-looking argument (a config
// path, most commonly) against the script's own working directory, since
// weavectl's os.Open calls run against the test process's real cwd, not
// script.State's virtual one.
func resolveScriptPath(s *script.State, arg string) string {
	if strings.HasPrefix(arg, "-") || filepath.IsAbs(arg) {
		return arg
	}
	if !strings.HasSuffix(arg, ".toml") && !strings.HasSuffix(arg, ".db") {
		return arg
	}
	return filepath.Join(s.Getwd(), arg)
}

func TestWeavectlScripts(t *testing.T) {
	files, err := filepath.Glob("testdata/script/*.txt")
	if err != nil {
		t.Fatalf("glob testdata/script: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no script tests found under testdata/script")
	}

	for _, f := range files {
		f := f
		name := strings.TrimSuffix(filepath.Base(f), ".txt")
		t.Run(name, func(t *testing.T) {
			archive, err := txtar.ParseFile(f)
			if err != nil {
				t.Fatalf("parse %s: %v", f, err)
			}

			dir := t.TempDir()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			st, err := script.NewState(ctx, dir, os.Environ())
			if err != nil {
				t.Fatalf("script.NewState: %v", err)
			}
			if err := st.ExtractFiles(archive); err != nil {
				t.Fatalf("extract files for %s: %v", f, err)
			}

			// weavectl resolves config-relative paths (e.g. a sqlite
			// StorePath) against the process's real cwd, not the
			// script's virtual one, so chdir into the temp dir to keep
			// each script's files isolated from the package directory.
			oldWd, err := os.Getwd()
			if err != nil {
				t.Fatalf("getwd: %v", err)
			}
			if err := os.Chdir(dir); err != nil {
				t.Fatalf("chdir %s: %v", dir, err)
			}
			defer os.Chdir(oldWd)

			var log bytes.Buffer
			engine := weavectlEngine()
			if err := engine.Execute(st, f, bufio.NewReader(bytes.NewReader(archive.Comment)), &log); err != nil {
				t.Fatalf("script %s failed:\n%s\nerror: %v", f, log.String(), err)
			}
			t.Log(log.String())
		})
	}
}
