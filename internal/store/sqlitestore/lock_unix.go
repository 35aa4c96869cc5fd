//go:build unix

package sqlitestore

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockHandle holds the advisory process-exclusive lock guarding a store
// file. It supplements, but does not replace, SQLite's own WAL-mode
// locking — see DESIGN.md "Non-POSIX store lock".
type lockHandle struct {
	f *os.File
}

func acquireLock(dbPath string) (lockHandle, error) {
	f, err := os.OpenFile(dbPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return lockHandle{}, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return lockHandle{}, err
	}
	return lockHandle{f: f}, nil
}

func (h lockHandle) release() {
	if h.f == nil {
		return
	}
	_ = unix.Flock(int(h.f.Fd()), unix.LOCK_UN)
	_ = h.f.Close()
}
