package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildtools/actionmeta/internal/digest"
	"github.com/buildtools/actionmeta/internal/filesystem"
)

var testAlgorithm = digest.AlgorithmSHA256

func testContext() context.Context {
	return context.Background()
}

// xattrResolver wraps DefaultResolver but lets a test pin canned xattr
// digest hints for specific paths, standing in for a remote-materializing
// filesystem layer without needing a real one mounted.
type xattrResolver struct {
	DefaultResolver
	hints map[string][]byte
}

func newXattrResolver() *xattrResolver {
	return &xattrResolver{hints: make(map[string][]byte)}
}

func (r *xattrResolver) ReadXattrDigest(path string) ([]byte, bool, error) {
	if value, ok := r.hints[path]; ok {
		return value, true, nil
	}
	return nil, false, nil
}

func mustWrite(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unable to create parent directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unable to write %q: %v", path, err)
	}
}

func plainFile(execPath string) Artifact {
	return Artifact{Shape: ShapePlainFile, ExecPath: execPath, RootRelativePath: execPath, Root: "root"}
}

func treeArtifact(execPath string) Artifact {
	return Artifact{Shape: ShapeTreeArtifact, ExecPath: execPath, RootRelativePath: execPath, Root: "root"}
}

func middlemanArtifact(execPath string) Artifact {
	return Artifact{Shape: ShapeMiddleman, ExecPath: execPath, RootRelativePath: execPath, Root: "root"}
}

func newTestHandler(t *testing.T, execRoot string, resolver Resolver, outputs []Artifact) *Handler {
	t.Helper()
	if resolver == nil {
		resolver = DefaultResolver{}
	}
	handler, err := NewHandler(testContext(), Config{
		ExecRoot:          execRoot,
		Resolver:          resolver,
		Algorithm:         testAlgorithm,
		OutputPermissions: filesystem.Mode(0644),
		TreeWalkWorkers:   2,
		FilesetWorkers:    2,
	}, nil, outputs, nil)
	if err != nil {
		t.Fatalf("unable to construct handler: %v", err)
	}
	return handler
}
