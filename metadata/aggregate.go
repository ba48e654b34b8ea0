package metadata

import (
	"encoding/binary"
	"sort"

	"github.com/buildtools/actionmeta/internal/digest"
)

// aggregateDigest computes a canonical digest over a tree's children,
// independent of the order in which the parallel walk discovered them:
// children are sorted by their path relative to the tree root before being
// folded into the hash, per spec 4.E.8 ("deterministic child ordering is
// not required internally but the aggregate digest must canonicalize
// order").
func aggregateDigest(children map[Artifact]FileValue) []byte {
	if len(children) == 0 {
		return digest.OfBytes(nil, digest.AlgorithmSHA256)
	}

	paths := make([]string, 0, len(children))
	byPath := make(map[string]FileValue, len(children))
	for child, value := range children {
		paths = append(paths, child.RootRelativePath)
		byPath[child.RootRelativePath] = value
	}
	sort.Strings(paths)

	var buffer []byte
	var sizeBytes [8]byte
	for _, path := range paths {
		value := byPath[path]
		buffer = append(buffer, []byte(path)...)
		buffer = append(buffer, 0)
		buffer = append(buffer, value.Digest...)
		binary.BigEndian.PutUint64(sizeBytes[:], value.Size)
		buffer = append(buffer, sizeBytes[:]...)
	}

	return digest.OfBytes(buffer, digest.AlgorithmSHA256)
}
