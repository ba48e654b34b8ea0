package filesystem

import (
	"golang.org/x/sys/unix"
)

// Mode is an opaque type representing a POSIX file mode, convertible to and
// from a uint32. It mirrors the raw st_mode field of struct stat, as opposed
// to the os package's FileMode representation, so that type and permission
// bits can be manipulated with the same masks the kernel uses.
type Mode uint32

const (
	// ModeTypeMask isolates the type bits of a Mode. The result can be
	// compared against any of the ModeType* constants.
	ModeTypeMask = Mode(unix.S_IFMT)
	// ModeTypeDirectory identifies a directory.
	ModeTypeDirectory = Mode(unix.S_IFDIR)
	// ModeTypeFile identifies a regular file.
	ModeTypeFile = Mode(unix.S_IFREG)
	// ModeTypeSymbolicLink identifies a symbolic link.
	ModeTypeSymbolicLink = Mode(unix.S_IFLNK)

	// ModePermissionsMask isolates the permission bits of a Mode.
	ModePermissionsMask = Mode(0777)

	// ModePermissionUserExecute is the user executable bit.
	ModePermissionUserExecute = Mode(0100)
	// ModePermissionGroupExecute is the group executable bit.
	ModePermissionGroupExecute = Mode(0010)
	// ModePermissionOthersExecute is the others executable bit.
	ModePermissionOthersExecute = Mode(0001)
)

// IsDirectory indicates whether or not the mode's type bits identify a
// directory.
func (m Mode) IsDirectory() bool {
	return m&ModeTypeMask == ModeTypeDirectory
}

// IsRegularFile indicates whether or not the mode's type bits identify a
// regular file.
func (m Mode) IsRegularFile() bool {
	return m&ModeTypeMask == ModeTypeFile
}

// IsSymbolicLink indicates whether or not the mode's type bits identify a
// symbolic link.
func (m Mode) IsSymbolicLink() bool {
	return m&ModeTypeMask == ModeTypeSymbolicLink
}

// AnyExecutableBitSet indicates whether or not any of the three executable
// bits are set in the mode's permission bits.
func (m Mode) AnyExecutableBitSet() bool {
	return m&(ModePermissionUserExecute|ModePermissionGroupExecute|ModePermissionOthersExecute) != 0
}
