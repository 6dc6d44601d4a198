// Package local provides the local-filesystem storage backend.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/polystore/polystore/pkg/storage"
)

// Backend implements storage.Backend on the local filesystem.
//
// An optional base directory roots every internal path; external paths are
// then relative to it. All operations are plain filesystem calls and safe
// for concurrent use.
type Backend struct {
	id      string
	basedir string
}

// New creates a local backend. basedir may be empty.
func New(storageID, basedir string) *Backend {
	if storageID == "" {
		storageID = "local"
	}
	return &Backend{id: storageID, basedir: basedir}
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "local" }

func (b *Backend) InternalPath(path string) string {
	if b.basedir != "" {
		path = strings.TrimPrefix(path, "/")
		return filepath.Join(b.basedir, path)
	}
	return path
}

func (b *Backend) Join(path string, elem ...string) string {
	return filepath.Join(append([]string{path}, elem...)...)
}

func (b *Backend) Split(path string) (string, string) {
	return filepath.Split(path)
}

// GetFileSafe copies remote into local through a temporary file in the
// destination directory, renamed into place so local is never a partial
// write. The source modification time is preserved for fingerprinting.
func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return copyPreservingTimes(remote, local)
}

// CheckExistingFile compares size and modification time of the two files.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	localInfo, err := os.Stat(local)
	if err != nil {
		return false, nil
	}
	remoteInfo, err := os.Stat(remote)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", remote, err)
	}
	remoteFP := storage.Fingerprint{Size: remoteInfo.Size(), ModTime: remoteInfo.ModTime()}
	localFP := storage.Fingerprint{Size: localInfo.Size(), ModTime: localInfo.ModTime()}
	return remoteFP.Equal(localFP), nil
}

func (b *Backend) Stat(ctx context.Context, path string) (storage.Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Stat{}, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return storage.Stat{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return storage.Stat{IsDir: true}, nil
	}
	return storage.Stat{Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (b *Backend) Stream(ctx context.Context, path string, bufferSize int) (*storage.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return storage.NewStream(f, bufferSize), nil
}

// PushFile copies local to remote, overwriting any existing target.
func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(remote); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return copyPreservingTimes(local, remote)
}

func (b *Backend) ListDir(ctx context.Context, path string, recursive, isFile bool) (storage.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	listing := storage.Listing{}

	if isFile {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		listing[filepath.Base(path)] = storage.Entry{Size: info.Size(), LastModified: info.ModTime()}
		return listing, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", path)
	}

	var walk func(dir, prefix string) error
	walk = func(dir, prefix string) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			rel := prefix + e.Name()
			if e.IsDir() {
				listing[rel+"/"] = storage.Entry{IsDir: true}
				if recursive {
					if err := walk(full, rel+"/"); err != nil {
						return err
					}
				}
				continue
			}
			fi, err := e.Info()
			if err != nil {
				continue
			}
			listing[rel] = storage.Entry{Size: fi.Size(), LastModified: fi.ModTime()}
		}
		return nil
	}

	if err := walk(path, ""); err != nil {
		return nil, err
	}
	return listing, nil
}

// Mkdir creates the directory and any missing parents; an existing
// directory is not an error.
func (b *Backend) Mkdir(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(path, 0o755)
}

func (b *Backend) Delete(ctx context.Context, path string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, storage.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		if !recursive {
			return fmt.Errorf("%s is a directory (use recursive delete)", path)
		}
		return os.RemoveAll(path)
	}
	return os.Remove(path)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return true, nil
}

func (b *Backend) IsDir(ctx context.Context, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

func (b *Backend) Close() error { return nil }

// copyPreservingTimes copies src into dst via a temporary file in dst's
// directory plus an atomic rename, carrying over the source mtime.
func copyPreservingTimes(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", src, storage.ErrNotFound)
		}
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	return storage.WriteFileSafe(dst, in, info.ModTime())
}
