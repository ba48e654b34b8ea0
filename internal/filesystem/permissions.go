package filesystem

import (
	"os"
)

// Chmod sets the permission bits of the entry at path. It is best-effort and
// idempotent: setting the same mode twice succeeds silently, and failures
// (e.g. on a filesystem that doesn't support POSIX permission bits) are
// reported to the caller to decide whether they're fatal.
func Chmod(path string, mode Mode) error {
	return os.Chmod(path, os.FileMode(mode&ModePermissionsMask))
}
