package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/buildtools/actionmeta/internal/digest"
	"github.com/buildtools/actionmeta/internal/filesystem"
	"github.com/buildtools/actionmeta/internal/logging"
)

// BuildTreeValue walks a declared tree artifact's directory and produces its
// aggregate TreeValue, per component 4.E. archivePath names the canonical
// single-file archive location to check when archivedTreeArtifactsEnabled is
// true; its naming convention is the caller's (the handler's) to define.
//
// A missing or non-directory root is not an error: it yields MissingTree, so
// that callers can distinguish "not produced" from "something went wrong",
// matching the limited local recovery the error handling design allows.
func BuildTreeValue(
	ctx context.Context,
	parent Artifact,
	execRoot string,
	resolver Resolver,
	chmodEnabled bool,
	outputPermissions filesystem.Mode,
	archivedTreeArtifactsEnabled bool,
	archivePath string,
	algorithm digest.Algorithm,
	tsgm TimestampGranularityMonitor,
	logger *logging.Logger,
	archiveNotFoundLimiter *logging.RateLimiter,
	workerCount int,
) (TreeValue, error) {
	parentPath := filepath.Join(execRoot, parent.ExecPath)

	rootStat, err := resolver.Stat(parentPath, true)
	if err != nil {
		return TreeValue{}, fmt.Errorf("unable to stat tree root: %w", err)
	}
	if rootStat == nil {
		return MissingTree, nil
	}
	if !rootStat.Mode.IsDirectory() {
		// The declared directory output is occupied by a file. Chmod it
		// defensively (best-effort) and report the tree as not produced
		// rather than erroring.
		_ = resolver.Chmod(parentPath, outputPermissions)
		return MissingTree, nil
	}

	if chmodEnabled {
		if err := resolver.Chmod(parentPath, outputPermissions); err != nil {
			return TreeValue{}, fmt.Errorf("unable to chmod tree root: %w", err)
		}
	}

	builder := NewTreeValueBuilder(parent)

	visit := func(relativePath string, kind filesystem.EntryKind) error {
		entryPath := filepath.Join(parentPath, relativePath)

		if kind != filesystem.EntryKindSymbolicLink && chmodEnabled {
			if err := resolver.Chmod(entryPath, outputPermissions); err != nil {
				return fmt.Errorf("%s: unable to chmod: %w", relativePath, err)
			}
		}

		if kind == filesystem.EntryKindDirectory {
			return nil
		}

		child := Artifact{
			Shape:            ShapeTreeChild,
			ExecPath:         filepath.Join(parent.ExecPath, relativePath),
			RootRelativePath: relativePath,
			Root:             parent.Root,
			ParentExecPath:   parent.ExecPath,
		}

		result, err := BuildFileValue(ctx, child, execRoot, resolver, nil, nil, algorithm, tsgm)
		if err != nil {
			return fmt.Errorf("%s: %w", relativePath, err)
		}

		// A file that the walk observed but that vanished before it could
		// be stat-ed (a race with an external writer) is simply not
		// represented in the tree, rather than being treated as an error.
		if result.Value.Kind == FileKindNonexistent {
			return nil
		}

		builder.Put(child, result.Value)
		return nil
	}

	if err := filesystem.VisitTreeInParallel(ctx, parentPath, workerCount, visit); err != nil {
		if errors.Is(err, filesystem.ErrWalkCancelled) {
			return TreeValue{}, fmt.Errorf("tree walk of %s: %w", parent.ExecPath, ErrInterrupted)
		}
		return TreeValue{}, fmt.Errorf("tree walk of %s failed: %w", parent.ExecPath, err)
	}

	var archived *ArchivedRepresentation
	if archivedTreeArtifactsEnabled {
		archiveStat, err := resolver.Stat(archivePath, false)
		if err != nil {
			return TreeValue{}, fmt.Errorf("unable to stat archived representation: %w", err)
		}
		if archiveStat != nil {
			archiveRelative, relErr := filepath.Rel(execRoot, archivePath)
			if relErr != nil {
				archiveRelative = archivePath
			}
			archiveArtifact := Artifact{
				Shape:            ShapePlainFile,
				ExecPath:         archiveRelative,
				RootRelativePath: archiveRelative,
				Root:             parent.Root,
			}
			result, err := BuildFileValue(ctx, archiveArtifact, execRoot, resolver, archiveStat, nil, algorithm, tsgm)
			if err != nil {
				return TreeValue{}, fmt.Errorf("unable to build archived representation value: %w", err)
			}
			archived = &ArchivedRepresentation{Artifact: archiveArtifact, Value: result.Value}
		} else if logger != nil && archiveNotFoundLimiter != nil {
			if archiveNotFoundLimiter.Allow(archivePath, time.Now()) {
				logger.Info(fmt.Sprintf("no archived representation found for tree %s", parent.ExecPath))
			}
		}
	}

	var materializationExecPath string
	if builder.RemoteSeen() {
		noFollowStat, err := resolver.Stat(parentPath, false)
		if err == nil && noFollowStat != nil && noFollowStat.Mode.IsSymbolicLink() {
			if real, err := resolver.ResolveSymbolicLink(parentPath); err == nil {
				if relative, err := filepath.Rel(execRoot, real); err == nil {
					materializationExecPath = relative
				}
			}
		}
	}

	return builder.Build(archived, materializationExecPath), nil
}
