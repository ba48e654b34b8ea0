package filesystem

import (
	"errors"
	"syscall"

	"github.com/pkg/xattr"
)

// digestXattrName is the extended attribute under which a filesystem layer
// (e.g. a FUSE-backed remote cache mount) may embed a precomputed content
// digest for a file, as a fast alternative to reading and hashing the whole
// file. It follows the "user." namespace convention used by rclone's local
// backend for user-defined metadata.
const digestXattrName = "user.actionmeta.digest"

// ReadXattrDigest attempts to read a precomputed digest hint from the
// digestXattrName extended attribute of the entry at path. It returns
// (nil, false, nil) if extended attributes aren't supported on this
// filesystem or the attribute simply isn't set — both are routine,
// non-fatal conditions for what is explicitly a fast-path optimization.
func ReadXattrDigest(path string) ([]byte, bool, error) {
	value, err := xattr.LGet(path, digestXattrName)
	if err != nil {
		var xattrErr *xattr.Error
		if errors.As(err, &xattrErr) && (xattrErr.Err == xattr.ENOATTR || xattrErr.Err == syscall.ENOTSUP) {
			// ENOATTR (attribute not set) and ENOTSUP (xattrs unsupported on
			// this filesystem) are both "no hint available", not failures.
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}
