package metadata

import (
	"context"
	"fmt"
	"sort"

	"github.com/buildtools/actionmeta/internal/digest"
	"github.com/buildtools/actionmeta/internal/parallelism"
)

// filesetItem is one flattened entry awaiting resolution: an exec-path key
// and the output symlink artifact that should resolve to its value.
type filesetItem struct {
	execPath string
	symlink  Artifact
}

// filesetWork implements parallelism.SIMDWork, resolving a strided slice of
// the flattened item list per worker so that BuildFilesetMapping can use an
// injected SIMDWorkerArray rather than spawning one goroutine per entry.
type filesetWork struct {
	items   []filesetItem
	results []*FileValueResult
	errs    []error
	build   func(item filesetItem) (*FileValueResult, error)
}

// Do implements parallelism.SIMDWork.Do.
func (w filesetWork) Do(index, size int) error {
	for i := index; i < len(w.items); i += size {
		result, err := w.build(w.items[i])
		w.results[i] = result
		w.errs[i] = err
	}
	return nil
}

// BuildFilesetMapping flattens a collection of fileset artifacts, each an
// ordered list of output symlinks, into a single exec-path -> FileValue
// mapping, per component 4.G. It is built once at handler construction and
// is immutable thereafter.
//
// Entries whose resolved value carries no digest (directories, specials) are
// skipped. When two symlinks across filesets share an exec-path key, the
// last one encountered, with filesets taken in order of their exec paths,
// wins — the documented
// "resolve" policy for ambiguous relative overlaps, applied deterministically
// by resolving the whole batch before merging rather than merging
// concurrently.
//
// Resolution is fanned out across an injected parallelism.SIMDWorkerArray:
// flattening a large fileset is an embarrassingly parallel, fixed-size batch
// of independent symlink resolutions, the exact shape SIMDWorkerArray was
// built for, as opposed to the unbounded recursive fan-out a directory walk
// needs.
func BuildFilesetMapping(
	ctx context.Context,
	filesets map[Artifact][]Artifact,
	execRoot string,
	resolver Resolver,
	algorithm digest.Algorithm,
	workers int,
) (map[string]FileValue, error) {
	ordered := make([]Artifact, 0, len(filesets))
	for fileset := range filesets {
		ordered = append(ordered, fileset)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ExecPath < ordered[j].ExecPath })

	var items []filesetItem
	for _, fileset := range ordered {
		for _, symlink := range filesets[fileset] {
			items = append(items, filesetItem{execPath: symlink.ExecPath, symlink: symlink})
		}
	}
	if len(items) == 0 {
		return map[string]FileValue{}, nil
	}

	work := filesetWork{
		items:   items,
		results: make([]*FileValueResult, len(items)),
		errs:    make([]error, len(items)),
		build: func(it filesetItem) (*FileValueResult, error) {
			return BuildFileValue(ctx, it.symlink, execRoot, resolver, nil, nil, algorithm, nil)
		},
	}

	array := parallelism.NewSIMDWorkerArray(workers)
	defer array.Terminate()
	if err := array.Do(work); err != nil {
		return nil, fmt.Errorf("unable to resolve fileset entries: %w", err)
	}

	mapping := make(map[string]FileValue, len(items))
	for i, it := range items {
		if work.errs[i] != nil {
			return nil, fmt.Errorf("fileset entry %s: %w", it.execPath, work.errs[i])
		}
		value := work.results[i].Value
		if len(value.Digest) == 0 {
			continue
		}
		mapping[it.execPath] = value
	}

	return mapping, nil
}
