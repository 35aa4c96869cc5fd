// Package logging provides weave's per-component loggers: a shared,
// size-rotated writer (lumberjack) with a "[component] " prefix per
// caller, generalizing internal/turso/daemon.DefaultConfig's single
// hardcoded log.New(os.Stderr, "[daemon] ", log.LstdFlags) into one
// rotating sink shared across every package that logs.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared rotating writer. A zero Options value
// logs to stderr unrotated.
type Options struct {
	// Dir is the directory log files are written into. Empty disables
	// rotation and writes to stderr instead.
	Dir string

	// MaxSizeMB is the file size lumberjack rotates at.
	MaxSizeMB int

	// MaxBackups is how many rotated files lumberjack retains.
	MaxBackups int

	// MaxAgeDays is how long lumberjack retains rotated files.
	MaxAgeDays int
}

var (
	mu     sync.Mutex
	writer io.Writer = os.Stderr
)

// Configure installs the shared rotating writer every New logger
// subsequently created writes through. Call once at startup, before
// any New call whose output must be rotated.
func Configure(opts Options) {
	mu.Lock()
	defer mu.Unlock()
	if opts.Dir == "" {
		writer = os.Stderr
		return
	}
	writer = &lumberjack.Logger{
		Filename:   opts.Dir + "/weave.log",
		MaxSize:    nonZero(opts.MaxSizeMB, 50),
		MaxBackups: nonZero(opts.MaxBackups, 5),
		MaxAge:     nonZero(opts.MaxAgeDays, 28),
	}
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// New returns a component-prefixed logger over the shared writer, the
// same *log.Logger shape daemon.DefaultConfig returns, generalized from
// a single fixed prefix to one per caller.
func New(component string) *log.Logger {
	mu.Lock()
	w := writer
	mu.Unlock()
	return log.New(w, "["+component+"] ", log.LstdFlags)
}
