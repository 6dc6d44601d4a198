package storage

import (
	"errors"
	"fmt"
)

// These errors provide a consistent way to indicate common failure conditions
// across all backend implementations. Callers should check for them with
// errors.Is and map them to their own error handling.
//
// Implementations wrap these errors with additional context:
//
//	if !found {
//	    return fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
//	}
var (
	// ErrNotFound indicates the requested file or object does not exist.
	//
	// Returned when:
	//   - Stat() is called on an absent path
	//   - Push() is called with a missing local source
	//   - GetFileSafe() targets a remote path that does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnknownStorage indicates a managed path references a storage
	// identifier that is not present in the client configuration.
	// This is a configuration error and is never retried.
	ErrUnknownStorage = errors.New("unknown storage identifier")

	// ErrCrossStorage indicates a rename between two different storage
	// identifiers. It is raised before any remote call is made.
	ErrCrossStorage = errors.New("rename on different storages")

	// ErrSyncIncomplete indicates the local destination does not exist after
	// a get completed without error. It guards against adapters that fail
	// silently.
	ErrSyncIncomplete = errors.New("synchronization did not produce the local file")

	// ErrNotSupported indicates the operation is not supported by the
	// backend (for example delete on a pattern-based HTTP storage).
	// This is a permanent error; retrying will not help.
	ErrNotSupported = errors.New("operation not supported")
)

// TransportError reports a failure of the underlying transport: a non-2xx
// HTTP status, an SSH or SCP channel failure, or an object store client
// error. It carries the backend-supplied detail and is never retried by the
// core; retry policy is a caller concern.
type TransportError struct {
	// Storage is the storage identifier of the failing backend.
	Storage string

	// Op is the operation that failed (for example "get", "push", "listdir").
	Op string

	// Status is the transport status detail when one exists, such as an HTTP
	// status code. Zero when the transport has no status concept.
	Status int

	// Err is the underlying error, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("storage %s: %s failed with status %d", e.Storage, e.Op, e.Status)
	}
	return fmt.Sprintf("storage %s: %s failed: %v", e.Storage, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError builds a TransportError wrapping err. status carries the
// transport status code when one exists and is zero otherwise.
func NewTransportError(storageID, op string, status int, err error) *TransportError {
	return &TransportError{Storage: storageID, Op: op, Status: status, Err: err}
}

// NewHTTPTransportError builds a TransportError from an HTTP status code.
func NewHTTPTransportError(storageID, op string, status int) *TransportError {
	return &TransportError{Storage: storageID, Op: op, Status: status}
}
