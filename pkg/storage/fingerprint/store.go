// Package fingerprint persists the fingerprints recorded after successful
// transfers so later synchronizations can skip unchanged files.
//
// Two implementations are provided: a sidecar store writing a hidden file
// next to each downloaded destination, and a BadgerDB store keeping every
// fingerprint in a single local database.
package fingerprint

import "github.com/polystore/polystore/pkg/storage"

// Store records the last-known remote fingerprint per local destination.
//
// The store is best-effort: a Load miss is never an error condition for the
// sync engine, it simply forces a re-transfer.
type Store interface {
	// Load returns the recorded fingerprint for local. The second return
	// value is false when no fingerprint was recorded.
	Load(local string) (storage.Fingerprint, bool, error)

	// Save records the fingerprint for local, replacing any previous record.
	Save(local string, fp storage.Fingerprint) error

	// Remove discards the record for local. Removing an absent record is not
	// an error.
	Remove(local string) error

	// Close releases any resources held by the store.
	Close() error
}
