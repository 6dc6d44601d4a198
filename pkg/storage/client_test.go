package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/local"
)

// newTestClient builds a client with two registered storages backed by
// temporary directories, plus the usual local fallback.
func newTestClient(t *testing.T) (*storage.Client, map[string]string, *int) {
	t.Helper()

	roots := map[string]string{
		"src": t.TempDir(),
		"dst": t.TempDir(),
	}

	factoryCalls := 0
	factory := func(ctx context.Context, storageID string) (storage.Backend, error) {
		factoryCalls++
		root, ok := roots[storageID]
		if !ok {
			return nil, storage.ErrUnknownStorage
		}
		return local.New(storageID, root), nil
	}

	client := storage.NewClient([]string{"src", "dst"}, local.New("local", ""), factory)
	t.Cleanup(func() { client.Close() })
	return client, roots, &factoryCalls
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClientManagedPathRouting(t *testing.T) {
	ctx := context.Background()
	client, roots, _ := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "file.txt"), []byte("hello"))

	stat, err := client.Stat(ctx, "src:/file.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if stat.Size != 5 {
		t.Errorf("Stat size = %d, want 5", stat.Size)
	}

	// Unregistered prefixes resolve against the local filesystem.
	plain := filepath.Join(t.TempDir(), "plain.txt")
	writeFile(t, plain, []byte("local"))
	if _, err := client.Stat(ctx, plain); err != nil {
		t.Errorf("Stat plain path: %v", err)
	}
}

func TestClientBackendCaching(t *testing.T) {
	ctx := context.Background()
	client, roots, calls := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "a.txt"), []byte("a"))

	for i := 0; i < 3; i++ {
		if _, err := client.Stat(ctx, "src:/a.txt"); err != nil {
			t.Fatalf("Stat: %v", err)
		}
	}
	if *calls != 1 {
		t.Errorf("factory called %d times, want 1", *calls)
	}
}

func TestClientRenameSameStorage(t *testing.T) {
	ctx := context.Background()
	client, roots, _ := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "old.txt"), []byte("x"))

	if err := client.Rename(ctx, "src:/old.txt", "src:/new.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(roots["src"], "new.txt")); err != nil {
		t.Error("renamed file missing")
	}
}

func TestClientRenameCrossStorage(t *testing.T) {
	ctx := context.Background()
	client, roots, _ := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "old.txt"), []byte("x"))

	err := client.Rename(ctx, "src:/old.txt", "dst:/new.txt")
	if !errors.Is(err, storage.ErrCrossStorage) {
		t.Errorf("cross-storage rename = %v, want ErrCrossStorage", err)
	}
}

func TestClientList(t *testing.T) {
	ctx := context.Background()
	client, roots, _ := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "dir", "a.txt"), []byte("a"))
	writeFile(t, filepath.Join(roots["src"], "dir", "sub", "b.txt"), []byte("b"))

	listing, err := client.List(ctx, "src:/dir", true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, want := range []string{"a.txt", "sub/", "sub/b.txt"} {
		if _, ok := listing[want]; !ok {
			t.Errorf("listing missing %s: %v", want, listing)
		}
	}

	// Listing a file yields its single entry.
	single, err := client.List(ctx, "src:/dir/a.txt", false)
	if err != nil {
		t.Fatalf("List file: %v", err)
	}
	if len(single) != 1 {
		t.Errorf("file listing = %v, want one entry", single)
	}
}

func TestClientIsManagedPath(t *testing.T) {
	client, _, _ := newTestClient(t)

	if !client.IsManagedPath("src:/x") {
		t.Error("src:/x not recognized as managed")
	}
	if client.IsManagedPath("/plain/path") {
		t.Error("/plain/path recognized as managed")
	}
	if client.IsManagedPath("unknown:/x") {
		t.Error("unregistered prefix recognized as managed")
	}
}

func TestClientSplit(t *testing.T) {
	client, _, _ := newTestClient(t)

	dir, base := client.Split("src:/dir/file.txt")
	if dir != "src:/dir/" || base != "file.txt" {
		t.Errorf("Split = (%q, %q), want (\"src:/dir/\", \"file.txt\")", dir, base)
	}
}

func TestClientJoinSplitWithoutBackend(t *testing.T) {
	client, _, calls := newTestClient(t)

	if got := client.Join("src:/dir", "sub", "file.txt"); got != "src:/dir/sub/file.txt" {
		t.Errorf("Join = %q, want \"src:/dir/sub/file.txt\"", got)
	}
	dir, base := client.Split("src:/dir/file.txt")
	if dir != "src:/dir/" || base != "file.txt" {
		t.Errorf("Split = (%q, %q), want (\"src:/dir/\", \"file.txt\")", dir, base)
	}

	// Path arithmetic must not construct a backend.
	if *calls != 0 {
		t.Errorf("factory called %d times, want 0", *calls)
	}
}

func TestClientExists(t *testing.T) {
	ctx := context.Background()
	client, roots, _ := newTestClient(t)

	writeFile(t, filepath.Join(roots["src"], "here.txt"), []byte("x"))

	if ok, err := client.Exists(ctx, "src:/here.txt"); err != nil || !ok {
		t.Errorf("Exists = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := client.Exists(ctx, "src:/gone.txt"); err != nil || ok {
		t.Errorf("Exists missing = (%v, %v), want (false, nil)", ok, err)
	}
}
