// Package storage provides a uniform interface over heterogeneous storage
// backends (local disk, S3, SSH/SCP, OpenStack Swift, HTTP endpoints, the
// corpus manager) addressed through managed paths of the form
// "storage_id:path".
//
// The package exposes a Client facade that resolves managed paths, caches
// one backend per storage identifier, and applies the shared
// skip-if-unchanged synchronization policy before transfers.
package storage

import "context"

// Backend is the capability contract every storage implementation fulfils.
//
// A backend owns at most one live connection to its remote system (SSH); the
// HTTP-style backends are stateless per call. Backends are created on first
// use of their storage identifier and live for the lifetime of the owning
// Client.
//
// Failure semantics: transport errors surface as *TransportError carrying
// the backend's status or response detail; backends never silently swallow
// transport failures except where documented (best-effort fingerprint
// checks).
type Backend interface {
	// ID returns the storage identifier this backend was configured under.
	ID() string

	// Type returns the backend type identifier ("local", "s3", "ssh",
	// "swift", "http", "corpus").
	Type() string

	// GetFileSafe fetches one remote object into local. The transfer goes
	// through a temporary file in the same directory as local which is then
	// atomically renamed into place, so local is either absent or a complete
	// file, never a partial write.
	GetFileSafe(ctx context.Context, remote, local string) error

	// CheckExistingFile reports whether local is already an up-to-date copy
	// of remote, based on a cheap fingerprint (size + mtime, or a recorded
	// checksum/etag). It is conservative: whenever fingerprint data is
	// missing or inconclusive it returns false to force a re-transfer.
	CheckExistingFile(ctx context.Context, remote, local string) (bool, error)

	// Stat describes the remote path. It returns ErrNotFound for absent
	// paths.
	Stat(ctx context.Context, path string) (Stat, error)

	// Stream opens the remote file for chunked reading. Chunks are at most
	// bufferSize bytes.
	Stream(ctx context.Context, path string, bufferSize int) (*Stream, error)

	// PushFile uploads local to remote. Overwrite semantics are
	// backend-defined: local, S3, Swift, SSH and HTTP overwrite existing
	// targets; the corpus backend rejects them.
	PushFile(ctx context.Context, local, remote string) error

	// ListDir enumerates path. With recursive=false only immediate children
	// are returned, directories marked by a trailing separator; with
	// recursive=true every descendant file and every intermediate directory
	// is returned. With isFile=true path itself is listed as a single file.
	ListDir(ctx context.Context, path string, recursive, isFile bool) (Listing, error)

	// Mkdir creates a directory. It is idempotent for backends with native
	// directories; object stores create a zero-length marker object.
	Mkdir(ctx context.Context, path string) error

	// Delete removes a file, or a directory when recursive is set.
	Delete(ctx context.Context, path string, recursive bool) error

	// Rename moves a file or directory within the backend. It returns nil on
	// success and an error otherwise; success is never signalled through an
	// absent return value.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Exists reports whether the remote path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// IsDir reports whether the remote path is a directory.
	IsDir(ctx context.Context, path string) (bool, error)

	// InternalPath translates the facade's path representation into the
	// backend's native addressing: stripping the leading separator to form
	// an object key, or prefixing a configured base directory.
	InternalPath(path string) string

	// Join joins path elements using the backend's separator semantics.
	Join(path string, elem ...string) string

	// Split splits a path into directory and base using the backend's
	// separator semantics.
	Split(path string) (string, string)

	// Close releases any resources held by the backend.
	Close() error
}
