package metadata

import (
	"time"

	"github.com/buildtools/actionmeta/internal/filesystem"
)

// Resolver abstracts the filesystem operations component 4.A requires,
// letting the file-value factory and tree builder be exercised against
// fakes in tests without giving up real disk semantics in production (where
// DefaultResolver is used).
type Resolver interface {
	// Stat returns filesystem metadata for path, or nil if it doesn't
	// exist.
	Stat(path string, followSymlinks bool) (*filesystem.Metadata, error)
	// ReadLink reads the target of a symbolic link without resolving it.
	ReadLink(path string) (string, error)
	// ResolveSymbolicLink fully resolves path, detecting cycles.
	ResolveSymbolicLink(path string) (string, error)
	// Chmod sets the permission bits of the entry at path.
	Chmod(path string, mode filesystem.Mode) error
	// ReadXattrDigest attempts to read a fast digest hint embedded by a
	// filesystem layer, returning (nil, false, nil) if none is available.
	ReadXattrDigest(path string) ([]byte, bool, error)
}

// DefaultResolver implements Resolver against the real local filesystem,
// via internal/filesystem.
type DefaultResolver struct{}

// Stat implements Resolver.Stat.
func (DefaultResolver) Stat(path string, followSymlinks bool) (*filesystem.Metadata, error) {
	return filesystem.Stat(path, followSymlinks)
}

// ReadLink implements Resolver.ReadLink.
func (DefaultResolver) ReadLink(path string) (string, error) {
	return filesystem.ReadLink(path)
}

// ResolveSymbolicLink implements Resolver.ResolveSymbolicLink.
func (DefaultResolver) ResolveSymbolicLink(path string) (string, error) {
	return filesystem.ResolveSymbolicLink(path)
}

// Chmod implements Resolver.Chmod.
func (DefaultResolver) Chmod(path string, mode filesystem.Mode) error {
	return filesystem.Chmod(path, mode)
}

// ReadXattrDigest implements Resolver.ReadXattrDigest.
func (DefaultResolver) ReadXattrDigest(path string) ([]byte, bool, error) {
	return filesystem.ReadXattrDigest(path)
}

// TimestampGranularityMonitor is notified whenever the file-value factory
// derives a contents proxy from a stat it just performed, so that a
// collaborator tracking filesystem timestamp resolution can detect whether
// it's coarse enough to make ModificationTime-based comparisons unsafe.
// Constant-metadata artifacts never trigger a notification.
type TimestampGranularityMonitor interface {
	Notify(path string, modificationTime time.Time)
}
