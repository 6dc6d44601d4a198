package storage

import "time"

// Stat describes a remote file or directory.
//
// For directories only IsDir is meaningful. For files Size and LastModified
// are always set; Checksum is set only by backends that expose a cheap
// content checksum (the S3 and Swift etag, the corpus-manager file checksum).
type Stat struct {
	IsDir        bool
	Size         int64
	LastModified time.Time
	Checksum     string
}

// Entry is a single listing entry.
//
// Directory entries carry IsDir=true and no size. File entries carry the
// size and last-modified time reported by the backend enumeration.
type Entry struct {
	IsDir        bool
	Size         int64
	LastModified time.Time
}

// Listing maps backend-relative paths to their entry descriptors.
// Directory keys end with "/". Go maps are unordered; callers that need a
// stable order sort the keys.
type Listing map[string]Entry

// Fingerprint is a cheap proxy for remote object identity used to decide
// whether a cached local copy is current: size plus modification time, or a
// content checksum/etag when the backend provides one.
type Fingerprint struct {
	Size     int64
	ModTime  time.Time
	Checksum string
}

// Equal reports whether two fingerprints match.
//
// Fingerprints are equal only if every jointly-available field matches.
// A checksum present on one side but absent on the other is inconclusive
// and therefore not a match: the caller must re-transfer. When both sides
// carry a checksum the sizes must match too; modification times are only
// compared when no checksum is available.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Checksum != "" || other.Checksum != "" {
		if f.Checksum == "" || other.Checksum == "" {
			return false
		}
		return f.Checksum == other.Checksum && f.Size == other.Size
	}
	return f.Size == other.Size && f.ModTime.Unix() == other.ModTime.Unix()
}
