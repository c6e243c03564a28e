//go:build windows

package changelog

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// Windows refuses to replace a file that is still open.
const renameWhileLocked = false

func lockFile(f *os.File, exclusive bool) error {
	flags := uint32(windows.LOCKFILE_FAIL_IMMEDIATELY)
	if exclusive {
		flags |= windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	ol := new(windows.Overlapped)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, ol); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("%s: %w", f.Name(), ErrResourceBusy)
		}
		return fmt.Errorf("failed to lock %s: %w", f.Name(), err)
	}
	return nil
}

func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol)
}

// isBusyError reports whether err is a sharing or lock violation, which is
// what Excel causes while it has the workbook open.
func isBusyError(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
