package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/buildtools/actionmeta/internal/digest"
	"github.com/buildtools/actionmeta/internal/filesystem"
	"github.com/buildtools/actionmeta/internal/logging"
	"github.com/buildtools/actionmeta/internal/state"
)

// ActionInput identifies a value passed to GetInputMetadata: either a
// declared input Artifact, or a raw fileset-entry exec path (when Artifact
// is nil), per spec 4.F.1's "if the input is not an artifact" branch.
type ActionInput struct {
	Artifact *Artifact
	ExecPath string
}

// Config bundles the collaborators and settings a Handler is constructed
// with: the filesystem resolver, digest algorithm, exec root, and the
// optional archived-tree and timestamp-granularity-monitor features.
type Config struct {
	ExecRoot                     string
	Resolver                     Resolver
	Algorithm                    digest.Algorithm
	TSGM                         TimestampGranularityMonitor
	Logger                       *logging.Logger
	ArchivedTreeArtifactsEnabled bool
	// ArchivePathFor computes the canonical single-file archive path to
	// check for a tree artifact, when ArchivedTreeArtifactsEnabled is true.
	ArchivePathFor    func(Artifact) string
	OutputPermissions filesystem.Mode
	TreeWalkWorkers   int
	FilesetWorkers    int
}

// Handler is the top-level action metadata handler (4.F): it holds the
// phase flag, input map, fileset map, output set, and output store, and
// orchestrates the filesystem abstraction, digest utility, file-value
// factory, and tree builder to answer metadata queries across the
// cache-check and execution phases.
type Handler struct {
	config Config

	// id uniquely identifies this handler instance (one per action
	// execution), letting its log lines be correlated when many actions
	// run concurrently. Generated the way the teacher generates session
	// identifiers: a random version-4 UUID.
	id uuid.UUID

	// executionMode is the false->true, exactly-once phase flag.
	executionMode state.Marker

	inputArtifactData map[Artifact]FileValue
	// outputs indexes declared outputs by exec path, which is also how a
	// tree child's ParentExecPath is resolved back to the full parent
	// Artifact (including its Root/RootRelativePath) that was declared.
	outputs        map[string]Artifact
	filesetMapping map[string]FileValue
	outputStore    *Store

	omittedMu sync.RWMutex
	omitted   map[Artifact]struct{}

	archiveNotFoundLimiter *logging.RateLimiter
}

// NewHandler constructs a Handler for one action's execution scope. The
// fileset mapping is built immediately and is immutable thereafter, per
// component 4.G.
func NewHandler(
	ctx context.Context,
	config Config,
	inputArtifactData map[Artifact]FileValue,
	outputs []Artifact,
	filesets map[Artifact][]Artifact,
) (*Handler, error) {
	if config.Resolver == nil {
		config.Resolver = DefaultResolver{}
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("unable to generate handler identifier: %w", err)
	}
	if config.Logger != nil {
		config.Logger = config.Logger.Sublogger(id.String())
	}

	filesetMapping, err := BuildFilesetMapping(
		ctx, filesets, config.ExecRoot, config.Resolver, config.Algorithm, config.FilesetWorkers)
	if err != nil {
		return nil, fmt.Errorf("unable to build fileset mapping: %w", err)
	}

	outputIndex := make(map[string]Artifact, len(outputs))
	for _, output := range outputs {
		outputIndex[output.ExecPath] = output
	}

	return &Handler{
		config:                 config,
		id:                     id,
		inputArtifactData:      inputArtifactData,
		outputs:                outputIndex,
		filesetMapping:         filesetMapping,
		outputStore:            NewStore(),
		omitted:                make(map[Artifact]struct{}),
		archiveNotFoundLimiter: logging.NewRateLimiter(time.Hour),
	}, nil
}

// filesetKey computes the exec-root-relative key used to look up a raw
// fileset-entry exec path in the fileset mapping, per scenario S6: a path
// under execRoot is made relative to it, a path outside execRoot is used
// verbatim.
func (h *Handler) filesetKey(execPath string) string {
	relative, err := filepath.Rel(h.config.ExecRoot, execPath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return execPath
	}
	return relative
}

// GetInputMetadata implements operation 1. It never touches the filesystem.
func (h *Handler) GetInputMetadata(input ActionInput) (FileValue, bool, error) {
	if input.Artifact == nil {
		key := h.filesetKey(input.ExecPath)
		value, ok := h.filesetMapping[key]
		if !ok {
			return FileValue{}, false, nil
		}
		return value, true, nil
	}

	value, ok := h.inputArtifactData[*input.Artifact]
	if !ok {
		return FileValue{}, false, nil
	}
	if value.IsMissingOrOmitted() {
		return FileValue{}, true, fmt.Errorf("%s: %w", input.Artifact.ExecPath, ErrNotFound)
	}
	return value, true, nil
}

// isDeclaredOutput reports whether artifact is directly declared as an
// output, or is a tree-child whose parent tree is.
func (h *Handler) isDeclaredOutput(artifact Artifact) bool {
	if _, ok := h.outputs[artifact.ExecPath]; ok {
		return true
	}
	if artifact.Shape == ShapeTreeChild {
		_, ok := h.outputs[artifact.ParentExecPath]
		return ok
	}
	return false
}

// GetOutputMetadata implements operation 2. The bool result is false only
// when artifact is not a declared output at all (the "None" case); a true
// result with a non-nil error means the artifact is declared but no value
// could be returned: ErrNotFound when it resolved to a missing, omitted or
// nonexistent value, otherwise the underlying filesystem failure.
func (h *Handler) GetOutputMetadata(ctx context.Context, artifact Artifact) (FileValue, bool, error) {
	if !h.isDeclaredOutput(artifact) {
		return FileValue{}, false, nil
	}

	switch {
	case artifact.IsMiddleman():
		value, ok := h.outputStore.GetFile(artifact)
		if !ok {
			value = DefaultMiddleman
			h.outputStore.PutFile(artifact, value)
		}
		if value.IsMissingOrOmitted() {
			return FileValue{}, true, fmt.Errorf("%s: %w", artifact.ExecPath, ErrNotFound)
		}
		return value, true, nil

	case artifact.IsTreeArtifact():
		tree, _, err := h.GetTreeArtifactValue(ctx, artifact)
		if err != nil {
			return FileValue{}, true, err
		}
		return FileValue{
			Kind:                    FileKindDirectory,
			Digest:                  tree.AggregateDigest,
			IsRemote:                tree.MaterializationExecPath != "",
			MaterializationExecPath: tree.MaterializationExecPath,
		}, true, nil

	case artifact.IsTreeChild():
		parent, ok := h.outputs[artifact.ParentExecPath]
		if !ok {
			return FileValue{}, false, nil
		}
		tree, _, err := h.GetTreeArtifactValue(ctx, parent)
		if err != nil {
			return FileValue{}, true, err
		}
		value, ok := tree.Children[artifact]
		if !ok {
			return FileValue{}, true, fmt.Errorf("%s: %w", artifact.ExecPath, ErrNotFound)
		}
		return value, true, nil

	default:
		if value, ok := h.outputStore.GetFile(artifact); ok {
			if value.IsMissingOrOmitted() || value.Kind == FileKindNonexistent {
				return FileValue{}, true, fmt.Errorf("%s: %w", artifact.ExecPath, ErrNotFound)
			}
			return value, true, nil
		}

		path := filepath.Join(h.config.ExecRoot, artifact.ExecPath)
		if h.executionMode.Marked() && artifact.Shape != ShapeSymlinkArtifact {
			// Chmod is best-effort for an output that isn't on disk: the
			// build below reports it as nonexistent, hence ErrNotFound.
			if err := h.config.Resolver.Chmod(path, h.config.OutputPermissions); err != nil && !errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("unable to chmod output: %w", err)
				h.config.Logger.Error(err)
				return FileValue{}, true, err
			}
		}

		result, err := BuildFileValue(
			ctx, artifact, h.config.ExecRoot, h.config.Resolver, nil, nil, h.config.Algorithm, h.config.TSGM)
		if err != nil {
			h.config.Logger.Error(err)
			return FileValue{}, true, err
		}
		h.outputStore.PutFile(artifact, result.Value)
		// A value with no on-disk representation — a Missing/Omitted
		// sentinel, or a fresh FileKindNonexistent from a BuildFileValue
		// that found nothing — is reported to callers as ErrNotFound
		// rather than as a value, per invariant 7.
		if result.Value.IsMissingOrOmitted() || result.Value.Kind == FileKindNonexistent {
			return FileValue{}, true, fmt.Errorf("%s: %w", artifact.ExecPath, ErrNotFound)
		}
		return result.Value, true, nil
	}
}

// SetDigestForVirtualArtifact implements operation 3. Permitted in either
// phase.
func (h *Handler) SetDigestForVirtualArtifact(artifact Artifact, digestBytes []byte) error {
	if !artifact.IsMiddleman() {
		return fmt.Errorf("%s is not a middleman artifact: %w", artifact.ExecPath, ErrInvariantViolation)
	}
	h.outputStore.PutFile(artifact, FileValue{Kind: FileKindRegular, Digest: digestBytes})
	return nil
}

// GetTreeArtifactValue implements operation 4.
func (h *Handler) GetTreeArtifactValue(ctx context.Context, tree Artifact) (TreeValue, bool, error) {
	if !h.isDeclaredOutput(tree) {
		return TreeValue{}, false, nil
	}

	if value, ok := h.outputStore.GetTree(tree); ok {
		if value.IsMissingOrOmitted() {
			return TreeValue{}, true, fmt.Errorf("%s: %w", tree.ExecPath, ErrNotFound)
		}
		return value, true, nil
	}

	var archivePath string
	if h.config.ArchivedTreeArtifactsEnabled && h.config.ArchivePathFor != nil {
		archivePath = h.config.ArchivePathFor(tree)
	}

	built, err := BuildTreeValue(
		ctx,
		tree,
		h.config.ExecRoot,
		h.config.Resolver,
		h.executionMode.Marked(),
		h.config.OutputPermissions,
		h.config.ArchivedTreeArtifactsEnabled,
		archivePath,
		h.config.Algorithm,
		h.config.TSGM,
		h.config.Logger,
		h.archiveNotFoundLimiter,
		h.config.TreeWalkWorkers,
	)
	if err != nil {
		h.config.Logger.Error(err)
		return TreeValue{}, true, err
	}

	h.outputStore.PutTree(tree, built)
	if built.IsMissingOrOmitted() {
		return TreeValue{}, true, fmt.Errorf("%s: %w", tree.ExecPath, ErrNotFound)
	}
	return built, true, nil
}

// GetTreeArtifactChildren implements operation 5: a pure lookup that never
// builds or blocks.
func (h *Handler) GetTreeArtifactChildren(tree Artifact) []Artifact {
	value, ok := h.outputStore.GetTree(tree)
	if !ok {
		return nil
	}
	return value.ChildPaths()
}

// ConstructMetadataForDigest implements operation 6. It does not write to
// the store.
func (h *Handler) ConstructMetadataForDigest(
	ctx context.Context, output Artifact, statNoFollow *filesystem.Metadata, digestBytes []byte,
) (FileValue, error) {
	if !h.executionMode.Marked() {
		return FileValue{}, fmt.Errorf("constructMetadataForDigest outside execution phase: %w", ErrInvariantViolation)
	}
	if output.Shape == ShapeSymlinkArtifact {
		return FileValue{}, fmt.Errorf("%s is a symlink artifact: %w", output.ExecPath, ErrInvariantViolation)
	}
	if statNoFollow == nil || statNoFollow.Mode.IsSymbolicLink() {
		return FileValue{}, fmt.Errorf("%s: stat must be a non-symlink: %w", output.ExecPath, ErrInvariantViolation)
	}
	if len(digestBytes) == 0 {
		return FileValue{}, fmt.Errorf("%s: digest must be present: %w", output.ExecPath, ErrInvariantViolation)
	}

	result, err := BuildFileValue(
		ctx, output, h.config.ExecRoot, h.config.Resolver, statNoFollow, digestBytes, h.config.Algorithm, h.config.TSGM)
	if err != nil {
		return FileValue{}, err
	}
	return result.Value, nil
}

// InjectFile implements operation 7.
func (h *Handler) InjectFile(output Artifact, value FileValue) error {
	if !h.executionMode.Marked() {
		return fmt.Errorf("injectFile outside execution phase: %w", ErrInvariantViolation)
	}
	if output.IsTreeArtifact() || output.IsTreeChild() {
		return fmt.Errorf("%s: injectFile does not accept tree outputs: %w", output.ExecPath, ErrInvariantViolation)
	}
	h.outputStore.PutFile(output, value)
	return nil
}

// InjectTree implements operation 8.
func (h *Handler) InjectTree(output Artifact, tree TreeValue) error {
	if !h.executionMode.Marked() {
		return fmt.Errorf("injectTree outside execution phase: %w", ErrInvariantViolation)
	}
	if !output.IsTreeArtifact() {
		return fmt.Errorf("%s is not a tree artifact: %w", output.ExecPath, ErrInvariantViolation)
	}
	if h.config.ArchivedTreeArtifactsEnabled != tree.HasArchivedRepresentation() {
		return fmt.Errorf(
			"%s: archived-tree-artifacts configuration disagrees with injected tree: %w",
			output.ExecPath, ErrInvariantViolation)
	}
	h.outputStore.PutTree(output, tree)
	return nil
}

// MarkOmitted implements operation 9. Marking a tree omitted is idempotent;
// marking a plain output omitted twice is a fatal invariant violation.
func (h *Handler) MarkOmitted(output Artifact) error {
	if !h.executionMode.Marked() {
		return fmt.Errorf("markOmitted outside execution phase: %w", ErrInvariantViolation)
	}

	h.omittedMu.Lock()
	defer h.omittedMu.Unlock()

	if output.IsTreeArtifact() {
		h.omitted[output] = struct{}{}
		h.outputStore.PutTree(output, OmittedTree)
		return nil
	}

	if _, already := h.omitted[output]; already {
		return fmt.Errorf("%s marked omitted twice: %w", output.ExecPath, ErrInvariantViolation)
	}
	h.omitted[output] = struct{}{}
	h.outputStore.PutFile(output, Omitted)
	return nil
}

// ArtifactOmitted implements operation 10.
func (h *Handler) ArtifactOmitted(artifact Artifact) bool {
	h.omittedMu.RLock()
	defer h.omittedMu.RUnlock()
	_, ok := h.omitted[artifact]
	return ok
}

// ResetOutputs implements operation 11.
func (h *Handler) ResetOutputs(artifacts []Artifact) error {
	if !h.executionMode.Marked() {
		return fmt.Errorf("resetOutputs outside execution phase: %w", ErrInvariantViolation)
	}

	h.omittedMu.Lock()
	for _, artifact := range artifacts {
		delete(h.omitted, artifact)
	}
	h.omittedMu.Unlock()

	for _, artifact := range artifacts {
		h.outputStore.Remove(artifact)
	}
	return nil
}

// PrepareForActionExecution implements operation 12: a false->true,
// exactly-once phase transition that clears the output store.
func (h *Handler) PrepareForActionExecution() error {
	if h.executionMode.Marked() {
		return fmt.Errorf("prepareForActionExecution called more than once: %w", ErrInvariantViolation)
	}
	h.executionMode.Mark()
	h.outputStore.Clear()
	return nil
}

// GetOutputStore implements operation 13.
func (h *Handler) GetOutputStore() *Store {
	return h.outputStore
}

// ID returns the handler's unique identifier, for correlating log output
// across concurrently executing actions.
func (h *Handler) ID() string {
	return h.id.String()
}
