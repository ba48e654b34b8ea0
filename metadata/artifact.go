// Package metadata implements the action metadata handler: the subsystem a
// build action's executor and action-cache checker use to resolve, cache,
// produce, and validate filesystem metadata for an action's declared inputs
// and outputs across a read-only cache-check phase and a mutating execution
// phase.
package metadata

// Shape identifies the role an artifact plays, which in turn determines how
// its metadata is resolved and what lifecycle rules apply to it. This models
// the source's shape predicates (isTreeArtifact, isMiddlemanArtifact, ...) as
// a single tagged variant instead of a family of boolean checks.
type Shape uint8

const (
	// ShapePlainFile is an ordinary declared file input or output.
	ShapePlainFile Shape = iota
	// ShapeSymlinkArtifact is an output symlink whose target is not
	// resolved or stat-ed; its value is built purely from its link text.
	ShapeSymlinkArtifact
	// ShapeTreeArtifact is a declared output directory whose file list is
	// discovered by a parallel walk after the action runs.
	ShapeTreeArtifact
	// ShapeTreeChild is a file beneath a tree artifact, identified by the
	// tree's artifact plus a path relative to it.
	ShapeTreeChild
	// ShapeMiddleman is an opaque aggregation marker with no on-disk
	// representation of its own.
	ShapeMiddleman
	// ShapeConstantMetadata is a plain file whose modification time is
	// intentionally excluded from timestamp-granularity monitoring.
	ShapeConstantMetadata
)

// Artifact is a build-system identity for a file or directory. It is a small
// comparable value type, usable directly as a map key, and owns no
// filesystem state of its own.
//
// A tree child's parent is referenced by the parent's ExecPath (a string)
// rather than a pointer to the parent Artifact, per the note in the design
// notes about avoiding pointer cycles between an artifact and its owning
// tree: ParentExecPath is an index into the output set, not a shared
// reference.
type Artifact struct {
	// ExecPath is the artifact's path relative to the build's exec root.
	ExecPath string
	// RootRelativePath is the artifact's path relative to Root.
	RootRelativePath string
	// Root is the root directory under which RootRelativePath is resolved.
	Root string
	// Shape identifies the artifact's role.
	Shape Shape
	// ParentExecPath is the exec path of the owning tree artifact. It is
	// only meaningful when Shape is ShapeTreeChild.
	ParentExecPath string
}

// IsTreeArtifact indicates whether the artifact is a declared directory
// output.
func (a Artifact) IsTreeArtifact() bool {
	return a.Shape == ShapeTreeArtifact
}

// IsTreeChild indicates whether the artifact is a file beneath a tree
// artifact.
func (a Artifact) IsTreeChild() bool {
	return a.Shape == ShapeTreeChild
}

// IsMiddleman indicates whether the artifact is an opaque aggregation
// marker.
func (a Artifact) IsMiddleman() bool {
	return a.Shape == ShapeMiddleman
}

// IsSymlinkArtifact indicates whether the artifact is an unresolved output
// symlink.
func (a Artifact) IsSymlinkArtifact() bool {
	return a.Shape == ShapeSymlinkArtifact
}

// IsConstantMetadata indicates whether the artifact's modification time is
// excluded from timestamp-granularity monitoring.
func (a Artifact) IsConstantMetadata() bool {
	return a.Shape == ShapeConstantMetadata
}
