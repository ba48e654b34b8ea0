// Package digest computes content digests for regular files, in a manner
// that can be preempted by cancellation rather than running to completion on
// files too large or too slow a filesystem to digest promptly.
package digest

import (
	"context"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/buildtools/actionmeta/internal/stream"
)

// checkInterval controls how many chunks preemptableWriter allows between
// cancellation checks. io.Copy uses a 32 KiB buffer, so this bounds the
// amount of already-in-flight I/O a cancellation has to wait out.
const checkInterval = 4

// OfFile computes the digest of the regular file at path using algorithm,
// returning the raw digest bytes. ctx is checked periodically during the
// read; if it's cancelled before the read completes, OfFile returns an error
// wrapping the context's error (typically context.Canceled), and the partial
// hash state is discarded.
func OfFile(ctx context.Context, path string, algorithm Algorithm) ([]byte, error) {
	if !algorithm.Supported() {
		return nil, fmt.Errorf("unsupported digest algorithm: %s", algorithm.Description())
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open file for digesting: %w", err)
	}
	defer file.Close()

	return digestReader(ctx, file, algorithm.Factory())
}

// OfBytes computes the digest of data using algorithm. It cannot be
// preempted (in-memory hashing of already-resident bytes is assumed to be
// fast enough not to need it) and returns no error; like Factory, it panics
// if the algorithm is unsupported.
func OfBytes(data []byte, algorithm Algorithm) []byte {
	hasher := algorithm.Factory()()
	hasher.Write(data)
	return hasher.Sum(nil)
}

// digestReader hashes all of r's content, honoring ctx cancellation.
func digestReader(ctx context.Context, r io.Reader, newHasher func() hash.Hash) ([]byte, error) {
	hasher := newHasher()

	writer := stream.NewPreemptableWriter(hasher, ctx.Done(), checkInterval)
	if _, err := io.Copy(writer, r); err != nil {
		if err == stream.ErrWritePreempted {
			return nil, fmt.Errorf("digest computation interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("unable to read file content: %w", err)
	}

	return hasher.Sum(nil), nil
}
