package metadata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/buildtools/actionmeta/internal/digest"
	"github.com/buildtools/actionmeta/internal/filesystem"
)

// FileValueResult is the full output of BuildFileValue: the value itself,
// plus the paths and stat used to build it, which callers (the tree builder,
// the handler) need for chmod-ing, logging, and digest-cache-path decisions.
type FileValueResult struct {
	// PathNoFollow is the artifact's path under execRoot, unresolved.
	PathNoFollow string
	// RealPath is the fully resolved path, populated only when the no-follow
	// stat reported a symbolic link.
	RealPath string
	// StatNoFollow is the stat performed (or supplied) without following
	// symlinks; nil for symlink artifacts (which are never stat-ed) and when
	// nothing exists at PathNoFollow.
	StatNoFollow *filesystem.Metadata
	// Value is the constructed FileValue.
	Value FileValue
}

// BuildFileValue constructs a FileValue for artifact, following the rules of
// component 4.C. statHint, when non-nil, is used instead of performing a new
// no-follow stat (used by constructMetadataForDigest, which already has one).
// injectedDigest, when non-empty, is merged into the result; if a
// filesystem-derived digest (from an xattr hint) is also found and disagrees,
// BuildFileValue fails with ErrInvariantViolation. tsgm may be nil.
func BuildFileValue(
	ctx context.Context,
	artifact Artifact,
	execRoot string,
	resolver Resolver,
	statHint *filesystem.Metadata,
	injectedDigest []byte,
	algorithm digest.Algorithm,
	tsgm TimestampGranularityMonitor,
) (*FileValueResult, error) {
	pathNoFollow := filepath.Join(execRoot, artifact.ExecPath)

	if artifact.IsSymlinkArtifact() {
		target, err := resolver.ReadLink(pathNoFollow)
		if err != nil {
			return nil, fmt.Errorf("unable to read symlink artifact target: %w", err)
		}
		return &FileValueResult{
			PathNoFollow: pathNoFollow,
			Value: FileValue{
				Kind:   FileKindSymlink,
				Digest: digest.OfBytes([]byte(target), algorithm),
			},
		}, nil
	}

	statNoFollow := statHint
	if statNoFollow == nil {
		s, err := resolver.Stat(pathNoFollow, false)
		if err != nil {
			return nil, fmt.Errorf("unable to stat artifact: %w", err)
		}
		if s == nil {
			return &FileValueResult{
				PathNoFollow: pathNoFollow,
				Value:        FileValue{Kind: FileKindNonexistent},
			}, nil
		}
		statNoFollow = s
	}

	if !statNoFollow.Mode.IsSymbolicLink() {
		value, err := buildFromStat(ctx, artifact, pathNoFollow, statNoFollow, resolver, injectedDigest, algorithm, tsgm)
		if err != nil {
			return nil, err
		}
		return &FileValueResult{
			PathNoFollow: pathNoFollow,
			StatNoFollow: statNoFollow,
			Value:        value,
		}, nil
	}

	realPath, err := resolver.ResolveSymbolicLink(pathNoFollow)
	if err != nil {
		if errors.Is(err, filesystem.ErrSymbolicLinkCycle) {
			return nil, fmt.Errorf("%s: %w", pathNoFollow, ErrSymlinkCycle)
		}
		return nil, fmt.Errorf("unable to resolve symbolic link: %w", err)
	}
	if realPath == pathNoFollow {
		return nil, fmt.Errorf("%s: %w", pathNoFollow, ErrSymlinkCycle)
	}

	realStat, err := resolver.Stat(realPath, false)
	if err != nil {
		return nil, fmt.Errorf("unable to stat symbolic link target: %w", err)
	}

	var value FileValue
	if realStat == nil {
		value = FileValue{Kind: FileKindNonexistent}
	} else {
		value, err = buildFromStat(ctx, artifact, realPath, realStat, resolver, injectedDigest, algorithm, tsgm)
		if err != nil {
			return nil, err
		}
	}

	if value.IsRemote {
		relative, relErr := filepath.Rel(execRoot, realPath)
		if relErr == nil {
			value.MaterializationExecPath = relative
		}
	}

	return &FileValueResult{
		PathNoFollow: pathNoFollow,
		RealPath:     realPath,
		StatNoFollow: statNoFollow,
		Value:        value,
	}, nil
}

// buildFromStat constructs the terminal-shape FileValue for a stat that has
// already been resolved to a concrete (non-symlink) entry at path.
func buildFromStat(
	ctx context.Context,
	artifact Artifact,
	path string,
	stat *filesystem.Metadata,
	resolver Resolver,
	injectedDigest []byte,
	algorithm digest.Algorithm,
	tsgm TimestampGranularityMonitor,
) (FileValue, error) {
	if stat.Mode.IsDirectory() {
		return FileValue{
			Kind:              FileKindDirectory,
			ModificationTime: stat.ModificationTime,
		}, nil
	}

	kind := FileKindSpecial
	if stat.Mode.IsRegularFile() {
		kind = FileKindRegular
	}

	value := FileValue{
		Kind: kind,
		Size: stat.Size,
		ContentsProxy: ContentsProxy{
			ChangeTime: stat.ChangeTime,
			DeviceID:   stat.DeviceID,
			FileID:     stat.FileID,
		},
	}

	xattrDigest, hasXattrDigest, err := resolver.ReadXattrDigest(path)
	if err != nil {
		return FileValue{}, fmt.Errorf("unable to read digest hint: %w", err)
	}
	if hasXattrDigest {
		value.IsRemote = true
		value.Digest = xattrDigest
	}

	if len(injectedDigest) > 0 {
		if hasXattrDigest && !bytes.Equal(xattrDigest, injectedDigest) {
			return FileValue{}, fmt.Errorf(
				"injected digest disagrees with filesystem-derived digest for %s: %w", path, ErrInvariantViolation)
		}
		value.Digest = injectedDigest
	}

	if tsgm != nil && !artifact.IsConstantMetadata() {
		tsgm.Notify(path, stat.ModificationTime)
	}

	if kind == FileKindRegular && len(value.Digest) == 0 {
		computed, err := digest.OfFile(ctx, path, algorithm)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return FileValue{}, fmt.Errorf("%s: %w", path, ErrInterrupted)
			}
			return FileValue{}, fmt.Errorf("unable to digest file: %w", err)
		}
		value.Digest = computed
	}

	return value, nil
}
