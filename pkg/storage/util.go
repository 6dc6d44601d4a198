package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// WriteFileSafe writes r to local through a temporary file in the
// destination directory, renamed into place so local is never observed
// half-written. A non-zero mtime is applied to the final file.
func WriteFileSafe(local string, r io.Reader, mtime time.Time) error {
	dir := filepath.Dir(local)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(local)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", local, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temporary file: %w", err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(tmpName, mtime, mtime); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("set times on temporary file: %w", err)
		}
	}
	if err := os.Rename(tmpName, local); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}
