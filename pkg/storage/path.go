package storage

import "strings"

// ManagedPath is a parsed "storage_id:path" string. When StorageID is empty
// the path is a plain local filesystem path.
type ManagedPath struct {
	StorageID string
	Path      string
}

// ParseManagedPath splits a path on the first ":" into a storage identifier
// and a backend-relative path. A path with no colon is returned with an
// empty identifier. Single-character prefixes are not treated as storage
// identifiers so that Windows-style drive paths stay local paths.
func ParseManagedPath(path string) ManagedPath {
	id, rest, ok := strings.Cut(path, ":")
	if !ok || len(id) <= 1 {
		return ManagedPath{Path: path}
	}
	return ManagedPath{StorageID: id, Path: rest}
}

// String reassembles the managed path.
func (p ManagedPath) String() string {
	if p.StorageID == "" {
		return p.Path
	}
	return p.StorageID + ":" + p.Path
}
