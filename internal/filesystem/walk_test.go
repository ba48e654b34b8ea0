package filesystem

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestVisitTreeInParallelVisitsEveryDescendant(t *testing.T) {
	root := t.TempDir()
	mustMkdir(t, filepath.Join(root, "a"))
	mustMkdir(t, filepath.Join(root, "a", "b"))
	mustWriteFile(t, filepath.Join(root, "a", "b", "c.txt"))
	mustWriteFile(t, filepath.Join(root, "a", "d.txt"))
	mustWriteFile(t, filepath.Join(root, "e.txt"))

	var mu sync.Mutex
	var visited []string
	visit := func(relativePath string, kind EntryKind) error {
		mu.Lock()
		defer mu.Unlock()
		visited = append(visited, relativePath)
		return nil
	}

	if err := VisitTreeInParallel(context.Background(), root, 4, visit); err != nil {
		t.Fatalf("VisitTreeInParallel failed: %v", err)
	}

	sort.Strings(visited)
	expected := []string{
		filepath.Join("a"),
		filepath.Join("a", "b"),
		filepath.Join("a", "b", "c.txt"),
		filepath.Join("a", "d.txt"),
		filepath.Join("e.txt"),
	}
	sort.Strings(expected)

	if len(visited) != len(expected) {
		t.Fatalf("expected %d visits, got %d: %v", len(expected), len(visited), visited)
	}
	for i := range expected {
		if visited[i] != expected[i] {
			t.Errorf("expected visit %q at position %d, got %q", expected[i], i, visited[i])
		}
	}
}

func TestVisitTreeInParallelPropagatesVisitorError(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.txt"))
	mustWriteFile(t, filepath.Join(root, "b.txt"))

	sentinel := errors.New("visitor refused")
	visit := func(relativePath string, kind EntryKind) error {
		return sentinel
	}

	err := VisitTreeInParallel(context.Background(), root, 2, visit)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
}

func TestVisitTreeInParallelRespectsCancellation(t *testing.T) {
	root := t.TempDir()
	for i := 0; i < 50; i++ {
		mustMkdir(t, filepath.Join(root, "dir", string(rune('a'+i%26))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	visit := func(relativePath string, kind EntryKind) error {
		cancel()
		time.Sleep(time.Millisecond)
		return nil
	}

	err := VisitTreeInParallel(ctx, root, 2, visit)
	if !errors.Is(err, ErrWalkCancelled) {
		t.Fatalf("expected ErrWalkCancelled, got %v", err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("unable to create directory %q: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("unable to create file %q: %v", path, err)
	}
}
