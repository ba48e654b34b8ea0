package digest

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
)

// Algorithm identifies a content-digest algorithm. The zero value is not a
// valid algorithm; callers must select SHA1 or SHA256 explicitly.
type Algorithm uint8

const (
	// AlgorithmSHA1 selects SHA-1, retained for compatibility with digest
	// values computed before a cache migrated to SHA-256.
	AlgorithmSHA1 Algorithm = iota + 1
	// AlgorithmSHA256 selects SHA-256, the algorithm for newly computed
	// digests when the caller has no older cache to stay compatible with.
	AlgorithmSHA256
)

// Supported indicates whether or not the algorithm is one this package knows
// how to construct a hasher for.
func (a Algorithm) Supported() bool {
	switch a {
	case AlgorithmSHA1, AlgorithmSHA256:
		return true
	default:
		return false
	}
}

// Description returns a human-readable name for the algorithm, suitable for
// log messages and error text.
func (a Algorithm) Description() string {
	switch a {
	case AlgorithmSHA1:
		return "SHA-1"
	case AlgorithmSHA256:
		return "SHA-256"
	default:
		return "unknown"
	}
}

// Factory returns a constructor for hash.Hash values implementing the
// algorithm. It panics if the algorithm is unsupported; callers should check
// Supported first if the algorithm comes from outside this package (e.g. from
// an injected digest whose algorithm isn't under the caller's control).
func (a Algorithm) Factory() func() hash.Hash {
	switch a {
	case AlgorithmSHA1:
		return sha1.New
	case AlgorithmSHA256:
		return sha256.New
	default:
		panic("unsupported digest algorithm")
	}
}

// MarshalText implements encoding.TextMarshaler, for algorithms that appear
// in configuration or logged state.
func (a Algorithm) MarshalText() ([]byte, error) {
	switch a {
	case AlgorithmSHA1:
		return []byte("sha1"), nil
	case AlgorithmSHA256:
		return []byte("sha256"), nil
	default:
		return nil, fmt.Errorf("unknown digest algorithm: %d", a)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	switch string(text) {
	case "sha1":
		*a = AlgorithmSHA1
	case "sha256":
		*a = AlgorithmSHA256
	default:
		return fmt.Errorf("unknown digest algorithm specification: %s", text)
	}
	return nil
}
