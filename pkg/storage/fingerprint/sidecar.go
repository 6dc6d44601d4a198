package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/polystore/polystore/pkg/storage"
)

// sidecarRecord is the on-disk JSON shape of a recorded fingerprint.
type sidecarRecord struct {
	Size     int64  `json:"size,omitempty"`
	ModTime  int64  `json:"mtime,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// SidecarStore records fingerprints in a hidden file next to each
// destination. This is the default store: it needs no shared state, survives
// across runs, and is removed together with its destination directory.
type SidecarStore struct{}

// NewSidecarStore returns a sidecar-file fingerprint store.
func NewSidecarStore() *SidecarStore {
	return &SidecarStore{}
}

// SidecarPath returns the sidecar file path for a destination.
func SidecarPath(local string) string {
	dir, base := filepath.Split(local)
	return filepath.Join(dir, "."+base+".fpr")
}

func (s *SidecarStore) Load(local string) (storage.Fingerprint, bool, error) {
	data, err := os.ReadFile(SidecarPath(local))
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Fingerprint{}, false, nil
		}
		return storage.Fingerprint{}, false, fmt.Errorf("read fingerprint sidecar: %w", err)
	}

	var rec sidecarRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// A corrupt sidecar is treated as a miss: the transfer is redone and
		// the sidecar rewritten.
		return storage.Fingerprint{}, false, nil
	}

	return storage.Fingerprint{
		Size:     rec.Size,
		ModTime:  time.Unix(rec.ModTime, 0),
		Checksum: rec.Checksum,
	}, true, nil
}

func (s *SidecarStore) Save(local string, fp storage.Fingerprint) error {
	rec := sidecarRecord{
		Size:     fp.Size,
		ModTime:  fp.ModTime.Unix(),
		Checksum: fp.Checksum,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	if err := os.WriteFile(SidecarPath(local), data, 0o644); err != nil {
		return fmt.Errorf("write fingerprint sidecar: %w", err)
	}
	return nil
}

func (s *SidecarStore) Remove(local string) error {
	if err := os.Remove(SidecarPath(local)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove fingerprint sidecar: %w", err)
	}
	return nil
}

func (s *SidecarStore) Close() error {
	return nil
}
