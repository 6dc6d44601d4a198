package fingerprint

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/polystore/polystore/pkg/storage"
)

// BadgerStore keeps all recorded fingerprints in a single BadgerDB database
// under a cache directory. Compared to sidecar files it leaves destination
// directories clean and survives destinations being moved around.
//
// Keys are absolute destination paths; values are the same JSON records the
// sidecar store writes.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the fingerprint database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint database at %s: %w", path, err)
	}
	return &BadgerStore{db: db}, nil
}

func badgerKey(local string) ([]byte, error) {
	abs, err := filepath.Abs(local)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", local, err)
	}
	return []byte(abs), nil
}

func (s *BadgerStore) Load(local string) (storage.Fingerprint, bool, error) {
	key, err := badgerKey(local)
	if err != nil {
		return storage.Fingerprint{}, false, err
	}

	var rec sidecarRecord
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return storage.Fingerprint{}, false, nil
		}
		return storage.Fingerprint{}, false, fmt.Errorf("load fingerprint for %s: %w", local, err)
	}

	return storage.Fingerprint{
		Size:     rec.Size,
		ModTime:  time.Unix(rec.ModTime, 0),
		Checksum: rec.Checksum,
	}, true, nil
}

func (s *BadgerStore) Save(local string, fp storage.Fingerprint) error {
	key, err := badgerKey(local)
	if err != nil {
		return err
	}
	data, err := json.Marshal(sidecarRecord{
		Size:     fp.Size,
		ModTime:  fp.ModTime.Unix(),
		Checksum: fp.Checksum,
	})
	if err != nil {
		return fmt.Errorf("encode fingerprint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("save fingerprint for %s: %w", local, err)
	}
	return nil
}

func (s *BadgerStore) Remove(local string) error {
	key, err := badgerKey(local)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("remove fingerprint for %s: %w", local, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
