package metadata

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/buildtools/actionmeta/internal/filesystem"
)

// S1 — cache-check then execute.
func TestScenarioCacheCheckThenExecute(t *testing.T) {
	root := t.TempDir()
	artifact := plainFile("out/a.txt")
	mustWrite(t, filepath.Join(root, artifact.ExecPath), "version one")

	handler := newTestHandler(t, root, nil, []Artifact{artifact})

	value, ok, err := handler.GetOutputMetadata(testContext(), artifact)
	if err != nil || !ok {
		t.Fatalf("GetOutputMetadata failed: ok=%v err=%v", ok, err)
	}
	d1 := sha256.Sum256([]byte("version one"))
	if !bytes.Equal(value.Digest, d1[:]) {
		t.Fatalf("expected digest D1, got %x", value.Digest)
	}

	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}
	mustWrite(t, filepath.Join(root, artifact.ExecPath), "version two")

	value2, ok, err := handler.GetOutputMetadata(testContext(), artifact)
	if err != nil || !ok {
		t.Fatalf("GetOutputMetadata after execution failed: ok=%v err=%v", ok, err)
	}
	d2 := sha256.Sum256([]byte("version two"))
	if !bytes.Equal(value2.Digest, d2[:]) {
		t.Fatalf("expected digest D2, got %x", value2.Digest)
	}
	if bytes.Equal(value.Digest, value2.Digest) {
		t.Fatal("expected D1 != D2")
	}
}

// S2 — middleman default.
func TestScenarioMiddlemanDefault(t *testing.T) {
	root := t.TempDir()
	middleman := middlemanArtifact("m")
	handler := newTestHandler(t, root, nil, []Artifact{middleman})

	first, ok, err := handler.GetOutputMetadata(testContext(), middleman)
	if err != nil || !ok {
		t.Fatalf("GetOutputMetadata failed: ok=%v err=%v", ok, err)
	}
	if !first.Equal(DefaultMiddleman) {
		t.Fatalf("expected DefaultMiddleman, got %#v", first)
	}

	second, ok, err := handler.GetOutputMetadata(testContext(), middleman)
	if err != nil || !ok {
		t.Fatalf("GetOutputMetadata (second call) failed: ok=%v err=%v", ok, err)
	}
	if !second.Equal(first) {
		t.Fatalf("expected the same value on a second call")
	}

	if _, ok := handler.outputStore.GetFile(middleman); !ok {
		t.Fatal("expected exactly one store entry for the middleman")
	}
}

// S3 — tree walk.
func TestScenarioTreeWalk(t *testing.T) {
	root := t.TempDir()
	tree := treeArtifact("out/tree")
	mustWrite(t, filepath.Join(root, tree.ExecPath, "x", "1"), "1")
	mustWrite(t, filepath.Join(root, tree.ExecPath, "x", "2"), "2")
	mustWrite(t, filepath.Join(root, tree.ExecPath, "y", "3"), "3")

	handler := newTestHandler(t, root, nil, []Artifact{tree})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	value, ok, err := handler.GetTreeArtifactValue(testContext(), tree)
	if err != nil || !ok {
		t.Fatalf("GetTreeArtifactValue failed: ok=%v err=%v", ok, err)
	}

	got := make(map[string]bool)
	for child := range value.Children {
		got[child.RootRelativePath] = true
	}
	want := map[string]bool{
		filepath.Join("x", "1"): true,
		filepath.Join("x", "2"): true,
		filepath.Join("y", "3"): true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected children %v, got %v", want, got)
	}
	for path := range want {
		if !got[path] {
			t.Errorf("missing expected child %q", path)
		}
	}
}

// S4 — omitted tree.
func TestScenarioOmittedTree(t *testing.T) {
	root := t.TempDir()
	tree := treeArtifact("out/tree")
	handler := newTestHandler(t, root, nil, []Artifact{tree})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	if err := handler.MarkOmitted(tree); err != nil {
		t.Fatalf("MarkOmitted failed: %v", err)
	}

	_, _, err := handler.GetTreeArtifactValue(testContext(), tree)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// S5 — injected digest mismatch.
func TestScenarioInjectedDigestMismatch(t *testing.T) {
	root := t.TempDir()
	artifact := plainFile("out/a.txt")
	path := filepath.Join(root, artifact.ExecPath)
	mustWrite(t, path, "hello")
	dh := sha256.Sum256([]byte("hello"))

	resolver := newXattrResolver()
	resolver.hints[path] = dh[:]

	handler := newTestHandler(t, root, resolver, []Artifact{artifact})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	stat, err := filesystem.Stat(path, false)
	if err != nil || stat == nil {
		t.Fatalf("unable to stat test file: %v", err)
	}

	wrongDigest := sha256.Sum256([]byte("not hello"))
	_, err = handler.ConstructMetadataForDigest(testContext(), artifact, stat, wrongDigest[:])
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation for mismatched digest, got %v", err)
	}

	value, err := handler.ConstructMetadataForDigest(testContext(), artifact, stat, dh[:])
	if err != nil {
		t.Fatalf("expected success with matching digest, got %v", err)
	}
	if !bytes.Equal(value.Digest, dh[:]) {
		t.Fatalf("expected digest %x, got %x", dh, value.Digest)
	}
}

// S6 — fileset passthrough.
func TestScenarioFilesetPassthrough(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "src", "a")
	mustWrite(t, target, "generated")
	if err := os.MkdirAll(filepath.Join(root, "gen"), 0755); err != nil {
		t.Fatalf("unable to create symlink directory: %v", err)
	}

	symlinkExecPath := "gen/a"
	symlinkPath := filepath.Join(root, symlinkExecPath)
	if err := os.Symlink(target, symlinkPath); err != nil {
		t.Fatalf("unable to create symlink: %v", err)
	}

	fileset := Artifact{Shape: ShapePlainFile, ExecPath: "fileset", Root: "root"}
	symlinks := []Artifact{{Shape: ShapeSymlinkArtifact, ExecPath: symlinkExecPath, Root: "root"}}

	handler, err := NewHandler(testContext(), Config{
		ExecRoot:          root,
		Resolver:          DefaultResolver{},
		Algorithm:         testAlgorithm,
		OutputPermissions: filesystem.Mode(0644),
		TreeWalkWorkers:   2,
		FilesetWorkers:    2,
	}, nil, nil, map[Artifact][]Artifact{fileset: symlinks})
	if err != nil {
		t.Fatalf("unable to construct handler: %v", err)
	}

	value, ok, err := handler.GetInputMetadata(ActionInput{ExecPath: filepath.Join(root, "gen", "a")})
	if err != nil || !ok {
		t.Fatalf("GetInputMetadata failed: ok=%v err=%v", ok, err)
	}
	if len(value.Digest) == 0 {
		t.Fatal("expected a non-empty digest from the fileset passthrough")
	}

	_, ok, err = handler.GetInputMetadata(ActionInput{ExecPath: "outside/execroot/path"})
	if err != nil {
		t.Fatalf("unexpected error for verbatim lookup: %v", err)
	}
	if ok {
		t.Fatal("expected no entry for an unrelated verbatim path")
	}
}

// Invariant 1/3 — input/output partition.
func TestInvariantInputOutputPartition(t *testing.T) {
	root := t.TempDir()
	output := plainFile("out/a.txt")
	mustWrite(t, filepath.Join(root, output.ExecPath), "x")

	input := plainFile("in/b.txt")
	handler, err := NewHandler(testContext(), Config{
		ExecRoot:  root,
		Resolver:  DefaultResolver{},
		Algorithm: testAlgorithm,
	}, map[Artifact]FileValue{input: {Kind: FileKindRegular, Digest: []byte("d")}}, []Artifact{output}, nil)
	if err != nil {
		t.Fatalf("unable to construct handler: %v", err)
	}

	if _, ok, _ := handler.GetInputMetadata(ActionInput{Artifact: &output}); ok {
		t.Error("expected no input metadata for an output-only artifact")
	}
	if _, ok, _ := handler.GetOutputMetadata(testContext(), input); ok {
		t.Error("expected no output metadata for an input-only artifact")
	}
}

// Invariant 2 — at-most-once phase transition.
func TestInvariantPhaseTransitionOnce(t *testing.T) {
	handler := newTestHandler(t, t.TempDir(), nil, nil)
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("first PrepareForActionExecution failed: %v", err)
	}
	if err := handler.PrepareForActionExecution(); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation on second call, got %v", err)
	}
}

// Invariant: phase guard on every mutating API.
func TestInvariantPhaseGuard(t *testing.T) {
	root := t.TempDir()
	output := plainFile("out/a.txt")
	mustWrite(t, filepath.Join(root, output.ExecPath), "x")
	handler := newTestHandler(t, root, nil, []Artifact{output})

	if err := handler.InjectFile(output, FileValue{Kind: FileKindRegular}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation before execution phase, got %v", err)
	}
	if err := handler.MarkOmitted(output); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation before execution phase, got %v", err)
	}
	if err := handler.ResetOutputs([]Artifact{output}); !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation before execution phase, got %v", err)
	}

	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}
	if err := handler.InjectFile(output, FileValue{Kind: FileKindRegular, Digest: []byte("d")}); err != nil {
		t.Errorf("expected InjectFile to succeed after execution phase: %v", err)
	}
}

// Invariant 4 — round-trip for files.
func TestInvariantFileRoundTrip(t *testing.T) {
	root := t.TempDir()
	artifact := plainFile("out/a.txt")
	path := filepath.Join(root, artifact.ExecPath)
	mustWrite(t, path, "content")

	handler := newTestHandler(t, root, nil, []Artifact{artifact})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	injected := FileValue{Kind: FileKindRegular, Digest: []byte("injected-digest"), Size: 42}
	if err := handler.InjectFile(artifact, injected); err != nil {
		t.Fatalf("InjectFile failed: %v", err)
	}
	got, ok, err := handler.GetOutputMetadata(testContext(), artifact)
	if err != nil || !ok || !got.Equal(injected) {
		t.Fatalf("expected injected value back, got %#v ok=%v err=%v", got, ok, err)
	}

	if err := handler.ResetOutputs([]Artifact{artifact}); err != nil {
		t.Fatalf("ResetOutputs failed: %v", err)
	}
	recomputed, ok, err := handler.GetOutputMetadata(testContext(), artifact)
	if err != nil || !ok {
		t.Fatalf("GetOutputMetadata after reset failed: ok=%v err=%v", ok, err)
	}
	if bytes.Equal(recomputed.Digest, injected.Digest) {
		t.Fatal("expected a recomputed digest, not the injected one, after reset")
	}

	// A reset output absent from disk must recompute to ErrNotFound, not a
	// FileKindNonexistent sentinel value (invariant 7, testable property 4).
	if err := os.Remove(path); err != nil {
		t.Fatalf("unable to remove test file: %v", err)
	}
	if err := handler.ResetOutputs([]Artifact{artifact}); err != nil {
		t.Fatalf("second ResetOutputs failed: %v", err)
	}
	_, ok, err = handler.GetOutputMetadata(testContext(), artifact)
	if !ok || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected (ok=true, ErrNotFound) for an absent output, got ok=%v err=%v", ok, err)
	}
}

// Invariant 5 — round-trip for trees.
func TestInvariantTreeRoundTrip(t *testing.T) {
	root := t.TempDir()
	tree := treeArtifact("out/tree")
	handler := newTestHandler(t, root, nil, []Artifact{tree})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	child := Artifact{Shape: ShapeTreeChild, ExecPath: "out/tree/f", RootRelativePath: "f", ParentExecPath: tree.ExecPath}
	injected := TreeValue{
		Parent:   tree,
		Children: map[Artifact]FileValue{child: {Kind: FileKindRegular, Digest: []byte("d")}},
	}
	if err := handler.InjectTree(tree, injected); err != nil {
		t.Fatalf("InjectTree failed: %v", err)
	}

	got, ok, err := handler.GetTreeArtifactValue(testContext(), tree)
	if err != nil || !ok {
		t.Fatalf("GetTreeArtifactValue failed: ok=%v err=%v", ok, err)
	}
	if len(got.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(got.Children))
	}

	children := handler.GetTreeArtifactChildren(tree)
	if len(children) != 1 || children[0] != child {
		t.Fatalf("expected children == [%v], got %v", child, children)
	}
}

// Invariant 6 — omission idempotence.
func TestInvariantOmissionIdempotence(t *testing.T) {
	root := t.TempDir()
	tree := treeArtifact("out/tree")
	plain := plainFile("out/a.txt")
	mustWrite(t, filepath.Join(root, plain.ExecPath), "x")

	handler := newTestHandler(t, root, nil, []Artifact{tree, plain})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	if err := handler.MarkOmitted(tree); err != nil {
		t.Fatalf("first MarkOmitted(tree) failed: %v", err)
	}
	if err := handler.MarkOmitted(tree); err != nil {
		t.Fatalf("second MarkOmitted(tree) should succeed, got %v", err)
	}

	if err := handler.MarkOmitted(plain); err != nil {
		t.Fatalf("first MarkOmitted(plain) failed: %v", err)
	}
	if err := handler.MarkOmitted(plain); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("second MarkOmitted(plain) should fail, got %v", err)
	}
}

// Invariant 8 — symlink-cycle detection.
func TestInvariantSymlinkCycleDetection(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	if err := os.Symlink(b, a); err != nil {
		t.Fatalf("unable to create symlink: %v", err)
	}
	if err := os.Symlink(a, b); err != nil {
		t.Fatalf("unable to create symlink: %v", err)
	}

	artifact := plainFile("a")
	_, err := BuildFileValue(testContext(), artifact, root, DefaultResolver{}, nil, nil, testAlgorithm, nil)
	if !errors.Is(err, ErrSymlinkCycle) {
		t.Fatalf("expected ErrSymlinkCycle, got %v", err)
	}
}

// Invariant 10 — remote symlink preservation.
func TestInvariantRemoteSymlinkPreservation(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "cas", "blob")
	mustWrite(t, target, "blob-content")
	link := filepath.Join(root, "out", "a.txt")
	if err := os.MkdirAll(filepath.Dir(link), 0755); err != nil {
		t.Fatalf("unable to create parent directory: %v", err)
	}
	if err := os.Symlink(target, link); err != nil {
		t.Fatalf("unable to create symlink: %v", err)
	}

	resolver := newXattrResolver()
	resolver.hints[target] = []byte("remote-digest")

	artifact := plainFile("out/a.txt")
	result, err := BuildFileValue(testContext(), artifact, root, resolver, nil, nil, testAlgorithm, nil)
	if err != nil {
		t.Fatalf("BuildFileValue failed: %v", err)
	}
	if !result.Value.IsRemote {
		t.Fatal("expected the value to report remote content")
	}
	wantRelative, err := filepath.Rel(root, target)
	if err != nil {
		t.Fatalf("unable to compute expected relative path: %v", err)
	}
	if result.Value.MaterializationExecPath != wantRelative {
		t.Fatalf("expected materialization exec path %q, got %q", wantRelative, result.Value.MaterializationExecPath)
	}
}

// Open question decision: tree-child lookup caches the parent as a side
// effect.
func TestGetOutputMetadataTreeChildCachesParent(t *testing.T) {
	root := t.TempDir()
	tree := treeArtifact("out/tree")
	mustWrite(t, filepath.Join(root, tree.ExecPath, "f"), "content")

	handler := newTestHandler(t, root, nil, []Artifact{tree})
	if err := handler.PrepareForActionExecution(); err != nil {
		t.Fatalf("PrepareForActionExecution failed: %v", err)
	}

	if _, ok := handler.outputStore.GetTree(tree); ok {
		t.Fatal("expected the tree to be uncached before any lookup")
	}

	child := Artifact{Shape: ShapeTreeChild, ExecPath: "out/tree/f", RootRelativePath: "f", Root: tree.Root, ParentExecPath: tree.ExecPath}
	if _, ok, err := handler.GetOutputMetadata(testContext(), child); err != nil || !ok {
		t.Fatalf("GetOutputMetadata(child) failed: ok=%v err=%v", ok, err)
	}

	if _, ok := handler.outputStore.GetTree(tree); !ok {
		t.Fatal("expected the parent tree to have been cached as a side effect")
	}
}
