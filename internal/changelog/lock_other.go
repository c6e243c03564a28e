//go:build !unix && !windows

package changelog

import "os"

const renameWhileLocked = false

func lockFile(f *os.File, exclusive bool) error { return nil }

func unlockFile(f *os.File) error { return nil }

func isBusyError(err error) bool { return false }
