package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"github.com/polystore/polystore/internal/throttle"
	"github.com/polystore/polystore/pkg/metrics"
)

// Factory creates the backend for a storage identifier. It is called at most
// once per identifier for the lifetime of a Client; the result is cached.
type Factory func(ctx context.Context, storageID string) (Backend, error)

// Client is the public entry point of the storage layer.
//
// It resolves managed paths ("storage_id:path") to backends, lazily creating
// and caching one backend per storage identifier, and forwards operations.
// Paths without a registered identifier fall back to the local filesystem
// backend.
//
// The backend cache is the only shared mutable state and is guarded by a
// mutex, so a Client is safe for concurrent use as long as the individual
// backends are (the SSH backend is not; see its documentation).
type Client struct {
	factory  Factory
	known    map[string]bool
	local    Backend
	tm       metrics.TransferMetrics
	throttle *throttle.Throttle

	mu       sync.Mutex
	backends map[string]Backend
	closers  []func() error
}

// Option configures a Client.
type Option func(*Client)

// WithTransferMetrics attaches transfer metrics to the client.
func WithTransferMetrics(tm metrics.TransferMetrics) Option {
	return func(c *Client) {
		if tm != nil {
			c.tm = tm
		}
	}
}

// WithThrottle caps the rate of file transfers started by the sync
// engine. Unthrottled operations remain unthrottled.
func WithThrottle(t *throttle.Throttle) Option {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithCloser registers extra cleanup to run when the client is closed,
// after every backend has been released.
func WithCloser(fn func() error) Option {
	return func(c *Client) {
		if fn != nil {
			c.closers = append(c.closers, fn)
		}
	}
}

// NewClient creates a client over the given storage identifiers.
//
// local is the fallback backend used for plain filesystem paths; factory is
// invoked on first use of each registered identifier.
func NewClient(storageIDs []string, local Backend, factory Factory, opts ...Option) *Client {
	known := make(map[string]bool, len(storageIDs))
	for _, id := range storageIDs {
		known[id] = true
	}
	c := &Client{
		factory:  factory,
		known:    known,
		local:    local,
		tm:       metrics.NewNoopTransferMetrics(),
		backends: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// throttleWait blocks until the next transfer may start.
func (c *Client) throttleWait(ctx context.Context) error {
	if c.throttle == nil {
		return nil
	}
	return c.throttle.Wait(ctx)
}

// IsManagedPath reports whether path references a storage registered with
// this client.
func (c *Client) IsManagedPath(path string) bool {
	mp := ParseManagedPath(path)
	return mp.StorageID != "" && c.known[mp.StorageID]
}

// resolve returns the backend for path together with the backend-internal
// path. Paths without a registered identifier resolve to the local backend.
func (c *Client) resolve(ctx context.Context, path string) (Backend, string, error) {
	mp := ParseManagedPath(path)
	if mp.StorageID == "" || !c.known[mp.StorageID] {
		return c.local, c.local.InternalPath(path), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.backends[mp.StorageID]
	if !ok {
		var err error
		b, err = c.factory(ctx, mp.StorageID)
		if err != nil {
			return nil, "", fmt.Errorf("storage %s: %w", mp.StorageID, err)
		}
		c.backends[mp.StorageID] = b
	}
	return b, b.InternalPath(mp.Path), nil
}

// Stat describes a remote file or directory.
func (c *Client) Stat(ctx context.Context, remote string) (Stat, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return Stat{}, err
	}
	return b.Stat(ctx, path)
}

// Stream opens a remote file for chunked reading. bufferSize is the maximum
// size of each chunk; zero selects DefaultBufferSize.
func (c *Client) Stream(ctx context.Context, remote string, bufferSize int) (*Stream, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return nil, err
	}
	return b.Stream(ctx, path, bufferSize)
}

// ListDir lists the files on a storage. Without recursive only the first
// level is returned, directories indicated by a trailing "/"; with recursive
// every descendant file and intermediate directory is returned. Keys are
// relative to the listed path.
func (c *Client) ListDir(ctx context.Context, remote string, recursive bool) (Listing, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return nil, err
	}
	return b.ListDir(ctx, path, recursive, false)
}

// List behaves like ListDir but also accepts a path naming a single file,
// which is then listed as that one file.
func (c *Client) List(ctx context.Context, remote string, recursive bool) (Listing, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return nil, err
	}
	isDir, err := b.IsDir(ctx, path)
	if err != nil {
		return nil, err
	}
	return b.ListDir(ctx, path, recursive, !isDir)
}

// Delete removes a file, or a directory when recursive is set.
func (c *Client) Delete(ctx context.Context, remote string, recursive bool) error {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return err
	}
	return b.Delete(ctx, path, recursive)
}

// Rename moves a file or directory within a single storage. Renames across
// two different storage identifiers fail with ErrCrossStorage before any
// remote call is made.
func (c *Client) Rename(ctx context.Context, oldRemote, newRemote string) error {
	oldB, oldPath, err := c.resolve(ctx, oldRemote)
	if err != nil {
		return err
	}
	newB, newPath, err := c.resolve(ctx, newRemote)
	if err != nil {
		return err
	}
	if oldB.ID() != newB.ID() {
		return fmt.Errorf("%s -> %s: %w", oldRemote, newRemote, ErrCrossStorage)
	}
	return oldB.Rename(ctx, oldPath, newPath)
}

// Exists reports whether the remote path exists.
func (c *Client) Exists(ctx context.Context, remote string) (bool, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return false, err
	}
	return b.Exists(ctx, path)
}

// IsDir reports whether the remote path is a directory.
func (c *Client) IsDir(ctx context.Context, remote string) (bool, error) {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return false, err
	}
	return b.IsDir(ctx, path)
}

// Mkdir creates a directory (or a directory marker on object stores).
func (c *Client) Mkdir(ctx context.Context, remote string) error {
	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return err
	}
	return b.Mkdir(ctx, path)
}

// cached returns the already-constructed backend for id, or nil.
func (c *Client) cached(id string) Backend {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backends[id]
}

// Join joins paths according to the storage implementation. Plain local
// paths use filesystem semantics. Managed paths use the slash-separated
// semantics every remote backend shares; the backend itself is consulted
// only when it already exists, never constructed for path arithmetic.
func (c *Client) Join(p string, elem ...string) string {
	if !c.IsManagedPath(p) {
		return filepath.Join(append([]string{p}, elem...)...)
	}
	mp := ParseManagedPath(p)
	if b := c.cached(mp.StorageID); b != nil {
		return mp.StorageID + ":" + b.Join(mp.Path, elem...)
	}
	return mp.StorageID + ":" + path.Join(append([]string{mp.Path}, elem...)...)
}

// Split splits a path according to the storage implementation. For managed
// paths the returned directory keeps the "storage_id:" prefix.
func (c *Client) Split(p string) (string, string) {
	if !c.IsManagedPath(p) {
		return filepath.Split(p)
	}
	mp := ParseManagedPath(p)
	if b := c.cached(mp.StorageID); b != nil {
		dir, base := b.Split(mp.Path)
		return mp.StorageID + ":" + dir, base
	}
	dir, base := path.Split(mp.Path)
	return mp.StorageID + ":" + dir, base
}

// Close releases every cached backend.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, b := range c.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close storage %s: %w", id, err)
		}
		delete(c.backends, id)
	}
	if err := c.local.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, fn := range c.closers {
		if err := fn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
