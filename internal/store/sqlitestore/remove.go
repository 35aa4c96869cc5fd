package sqlitestore

import "os"

// removeFiles deletes the main database file plus its WAL/SHM/lock
// siblings, ignoring "not exist" errors for files SQLite never created.
func removeFiles(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm", ".lock"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
