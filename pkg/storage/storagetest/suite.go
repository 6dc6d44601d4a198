// Package storagetest provides a reusable conformance suite for Backend
// implementations. It tests the interface contract, not implementation
// details, so the same suite runs against any backend with a scratch
// namespace.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &storagetest.BackendTestSuite{
//	        NewBackend: func(t *testing.T) (storage.Backend, string) {
//	            return mybackend.New(...), "test-root"
//	        },
//	    }
//	    suite.Run(t)
//	}
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/polystore/polystore/pkg/storage"
)

// BackendTestSuite exercises the Backend contract against a scratch
// namespace the implementation may write freely.
type BackendTestSuite struct {
	// NewBackend creates a fresh backend and returns it together with
	// the root path of a writable scratch namespace.
	NewBackend func(t *testing.T) (storage.Backend, string)
}

// Run executes all tests in the suite.
func (s *BackendTestSuite) Run(t *testing.T) {
	t.Run("PushStatGet", s.testPushStatGet)
	t.Run("Stream", s.testStream)
	t.Run("ListDir", s.testListDir)
	t.Run("MkdirExists", s.testMkdirExists)
	t.Run("Rename", s.testRename)
	t.Run("Delete", s.testDelete)
}

func testContext() context.Context {
	return context.Background()
}

// writeLocalFile creates a local scratch file with the given content.
func writeLocalFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write local file: %v", err)
	}
	return path
}

func (s *BackendTestSuite) testPushStatGet(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)
	content := []byte("uniform storage access\n")

	local := writeLocalFile(t, content)
	remote := b.Join(root, "data", "sample.txt")

	if err := b.PushFile(ctx, local, remote); err != nil {
		t.Fatalf("PushFile: %v", err)
	}

	stat, err := b.Stat(ctx, remote)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.IsDir {
		t.Error("Stat reported a directory for a file")
	}
	if stat.Size != int64(len(content)) {
		t.Errorf("Stat size = %d, want %d", stat.Size, len(content))
	}

	dest := filepath.Join(t.TempDir(), "out.txt")
	if err := b.GetFileSafe(ctx, remote, dest); err != nil {
		t.Fatalf("GetFileSafe: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("downloaded content = %q, want %q", got, content)
	}

	// A fresh download must be recognized as current.
	match, err := b.CheckExistingFile(ctx, remote, dest)
	if err != nil {
		t.Fatalf("CheckExistingFile: %v", err)
	}
	if !match {
		t.Error("CheckExistingFile = false immediately after download")
	}

	// A missing local file is always stale.
	match, err = b.CheckExistingFile(ctx, remote, filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("CheckExistingFile(absent): %v", err)
	}
	if match {
		t.Error("CheckExistingFile = true for a missing local file")
	}
}

func (s *BackendTestSuite) testStream(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)
	content := []byte("0123456789")

	remote := b.Join(root, "stream.bin")
	if err := b.PushFile(ctx, writeLocalFile(t, content), remote); err != nil {
		t.Fatalf("PushFile: %v", err)
	}

	stream, err := b.Stream(ctx, remote, 4)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer stream.Close()

	var got []byte
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(chunk) > 4 {
			t.Errorf("chunk size %d exceeds buffer size 4", len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("streamed content = %q, want %q", got, content)
	}
}

func (s *BackendTestSuite) testListDir(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)

	files := []string{"a.txt", "sub/b.txt", "sub/deep/c.txt"}
	for _, f := range files {
		local := writeLocalFile(t, []byte(f))
		if err := b.PushFile(ctx, local, b.Join(root, f)); err != nil {
			t.Fatalf("PushFile %s: %v", f, err)
		}
	}

	flat, err := b.ListDir(ctx, root, false, false)
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if _, ok := flat["a.txt"]; !ok {
		t.Errorf("non-recursive listing missing a.txt: %v", flat)
	}
	if entry, ok := flat["sub/"]; !ok || !entry.IsDir {
		t.Errorf("non-recursive listing missing sub/ directory: %v", flat)
	}
	if _, ok := flat["sub/b.txt"]; ok {
		t.Error("non-recursive listing descended into sub/")
	}

	deep, err := b.ListDir(ctx, root, true, false)
	if err != nil {
		t.Fatalf("ListDir recursive: %v", err)
	}
	for _, want := range []string{"a.txt", "sub/b.txt", "sub/deep/c.txt", "sub/", "sub/deep/"} {
		if _, ok := deep[want]; !ok {
			t.Errorf("recursive listing missing %s: %v", want, deep)
		}
	}

	single, err := b.ListDir(ctx, b.Join(root, "a.txt"), false, true)
	if err != nil {
		t.Fatalf("ListDir isFile: %v", err)
	}
	if _, ok := single["a.txt"]; !ok || len(single) != 1 {
		t.Errorf("file listing = %v, want single a.txt entry", single)
	}
}

func (s *BackendTestSuite) testMkdirExists(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)

	dir := b.Join(root, "newdir")
	if err := b.Mkdir(ctx, dir); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	// Creating an existing directory is not an error.
	if err := b.Mkdir(ctx, dir); err != nil {
		t.Fatalf("Mkdir twice: %v", err)
	}

	isDir, err := b.IsDir(ctx, dir)
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if !isDir {
		t.Error("IsDir = false for a created directory")
	}

	exists, err := b.Exists(ctx, b.Join(root, "nowhere"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists = true for a missing path")
	}
}

func (s *BackendTestSuite) testRename(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)

	oldPath := b.Join(root, "old.txt")
	newPath := b.Join(root, "new.txt")
	if err := b.PushFile(ctx, writeLocalFile(t, []byte("x")), oldPath); err != nil {
		t.Fatalf("PushFile: %v", err)
	}

	if err := b.Rename(ctx, oldPath, newPath); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if ok, _ := b.Exists(ctx, oldPath); ok {
		t.Error("old path still exists after rename")
	}
	if ok, _ := b.Exists(ctx, newPath); !ok {
		t.Error("new path missing after rename")
	}
}

func (s *BackendTestSuite) testDelete(t *testing.T) {
	ctx := testContext()
	b, root := s.NewBackend(t)

	file := b.Join(root, "doomed.txt")
	if err := b.PushFile(ctx, writeLocalFile(t, []byte("x")), file); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	if err := b.Delete(ctx, file, false); err != nil {
		t.Fatalf("Delete file: %v", err)
	}
	if ok, _ := b.Exists(ctx, file); ok {
		t.Error("file still exists after delete")
	}

	if err := b.Delete(ctx, b.Join(root, "missing.txt"), false); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete missing = %v, want ErrNotFound", err)
	}

	dir := b.Join(root, "tree")
	if err := b.PushFile(ctx, writeLocalFile(t, []byte("x")), b.Join(dir, "leaf.txt")); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	if err := b.Delete(ctx, dir, false); err == nil {
		t.Error("Delete directory without recursive succeeded")
	}
	if err := b.Delete(ctx, dir, true); err != nil {
		t.Fatalf("Delete directory recursive: %v", err)
	}
	if ok, _ := b.Exists(ctx, dir); ok {
		t.Error("directory still exists after recursive delete")
	}
}
