//go:build unix

package changelog

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Flock locks the inode, so the old file can be replaced while still held.
const renameWhileLocked = true

// lockFile takes a non-blocking advisory lock, shared for readers and
// exclusive for the writer.
func lockFile(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	if err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return fmt.Errorf("%s: %w", f.Name(), ErrResourceBusy)
		}
		return fmt.Errorf("failed to lock %s: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// isBusyError reports whether opening the file failed because another
// process holds it. Unix has no mandatory sharing modes.
func isBusyError(err error) bool {
	return false
}
