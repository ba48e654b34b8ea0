package metadata

import (
	"bytes"
	"time"
)

// FileKind classifies the on-disk shape a FileValue was built from.
type FileKind uint8

const (
	// FileKindNonexistent indicates that no entry exists at the path.
	FileKindNonexistent FileKind = iota
	// FileKindRegular indicates an ordinary file.
	FileKindRegular
	// FileKindDirectory indicates a directory.
	FileKindDirectory
	// FileKindSymlink indicates a symbolic link.
	FileKindSymlink
	// FileKindSpecial indicates a socket, device, or named pipe.
	FileKindSpecial
)

// fileSentinel distinguishes a genuinely constructed FileValue from the two
// reserved placeholder values (and the middleman default), so that a
// FileValue can carry "this artifact has no real value yet" state without
// resorting to an out-of-band nil.
type fileSentinel uint8

const (
	fileSentinelNone fileSentinel = iota
	fileSentinelMissing
	fileSentinelOmitted
	fileSentinelDefaultMiddleman
)

// ContentsProxy is a cheap stand-in for a content digest, derived from stat
// fields that change whenever a file's content does (on filesystems where
// this holds): status-change time, device ID, and inode number.
type ContentsProxy struct {
	ChangeTime time.Time
	DeviceID   uint64
	FileID     uint64
}

// Equal reports whether two contents proxies describe the same underlying
// file generation.
func (p ContentsProxy) Equal(other ContentsProxy) bool {
	return p.ChangeTime.Equal(other.ChangeTime) &&
		p.DeviceID == other.DeviceID &&
		p.FileID == other.FileID
}

// FileValue is an immutable record describing a single file's metadata, as
// observed at the moment it was built. Two sentinel values (Missing and
// Omitted) and a third placeholder (DefaultMiddleman) are reserved and
// constructed only via the package-level values below — never by zero-value
// construction of an otherwise-populated FileValue, since the sentinel tag
// is unexported.
type FileValue struct {
	sentinel fileSentinel

	// Kind is the on-disk shape the value was built from.
	Kind FileKind
	// Size is the size in bytes, meaningful only for regular files.
	Size uint64
	// Digest is the content digest, present for regular files and symlinks,
	// absent for directories.
	Digest []byte
	// ContentsProxy is a cheap alternative identity for unchanged-file
	// detection when a digest isn't cheaply available.
	ContentsProxy ContentsProxy
	// ModificationTime is meaningful for directories, which carry no
	// content digest in this model.
	ModificationTime time.Time
	// IsRemote indicates that the content is known only to live in a
	// remote store, surfaced locally via a filesystem layer that embeds a
	// digest hint rather than materializing real content.
	IsRemote bool
	// MaterializationExecPath is populated, relative to the exec root, when
	// IsRemote is true and the underlying stat was a symbolic link pointing
	// at the remote-materialized content.
	MaterializationExecPath string
}

var (
	// Missing represents a declared artifact that is not present on disk.
	Missing = FileValue{sentinel: fileSentinelMissing}
	// Omitted represents a declared artifact the action chose not to
	// produce.
	Omitted = FileValue{sentinel: fileSentinelOmitted}
	// DefaultMiddleman is the value a middleman artifact is given the first
	// time it's requested without ever having been injected. Unlike Missing
	// and Omitted, this is a legitimate, returnable value — a middleman has
	// no filesystem representation to be missing from.
	DefaultMiddleman = FileValue{sentinel: fileSentinelDefaultMiddleman}
)

// IsMissing reports whether the value is the Missing sentinel.
func (v FileValue) IsMissing() bool {
	return v.sentinel == fileSentinelMissing
}

// IsOmitted reports whether the value is the Omitted sentinel.
func (v FileValue) IsOmitted() bool {
	return v.sentinel == fileSentinelOmitted
}

// IsMissingOrOmitted reports whether the value is either reserved sentinel,
// the condition that invariant 7 requires every metadata-returning API to
// translate into ErrNotFound.
func (v FileValue) IsMissingOrOmitted() bool {
	return v.sentinel == fileSentinelMissing || v.sentinel == fileSentinelOmitted
}

// Equal reports whether two file values describe the same metadata. Two
// sentinel values are equal only to themselves; two ordinary values are
// equal when all their fields match.
func (v FileValue) Equal(other FileValue) bool {
	if v.sentinel != other.sentinel {
		return false
	}
	if v.sentinel != fileSentinelNone {
		return true
	}
	return v.Kind == other.Kind &&
		v.Size == other.Size &&
		bytes.Equal(v.Digest, other.Digest) &&
		v.ContentsProxy.Equal(other.ContentsProxy) &&
		v.ModificationTime.Equal(other.ModificationTime) &&
		v.IsRemote == other.IsRemote &&
		v.MaterializationExecPath == other.MaterializationExecPath
}
