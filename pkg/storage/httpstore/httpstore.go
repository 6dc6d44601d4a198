// Package httpstore provides a minimal file-only storage backend over
// plain HTTP endpoints.
//
// Paths are substituted into configured URL patterns with a single %s
// placeholder. The backend is read-mostly: push and list each require
// their own pattern, and delete and rename are not supported at all.
package httpstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/polystore/polystore/pkg/storage"
)

// Options configures an HTTP backend.
type Options struct {
	// GetPattern is the download URL pattern with a %s placeholder for
	// the path (required).
	GetPattern string

	// PostPattern enables uploads when set.
	PostPattern string

	// ListPattern enables directory listings when set. The endpoint
	// must return a JSON array of {"path": "..."} objects relative to
	// the listed path.
	ListPattern string

	// Timeout bounds each request (default 60s).
	Timeout time.Duration
}

// Backend implements storage.Backend over pattern-substituted HTTP URLs.
type Backend struct {
	id     string
	opts   Options
	client *http.Client
}

func New(storageID string, opts Options) (*Backend, error) {
	if opts.GetPattern == "" {
		return nil, fmt.Errorf("storage %s: get_pattern is required", storageID)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Backend{
		id:     storageID,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "http" }

func (b *Backend) InternalPath(p string) string { return p }

func (b *Backend) Join(p string, elem ...string) string {
	return path.Join(append([]string{p}, elem...)...)
}

func (b *Backend) Split(p string) (string, string) {
	return path.Split(p)
}

func (b *Backend) getURL(p string) string {
	return fmt.Sprintf(b.opts.GetPattern, p)
}

func (b *Backend) open(ctx context.Context, p string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.getURL(p), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", p, err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return nil, storage.NewTransportError(b.id, "get", 0, err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		if res.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return nil, storage.NewHTTPTransportError(b.id, "get", res.StatusCode)
	}
	return res, nil
}

func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	res, err := b.open(ctx, remote)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return storage.WriteFileSafe(local, res.Body, time.Time{})
}

// CheckExistingFile always reports a stale copy; HTTP endpoints expose
// no checksum to compare against.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	return false, nil
}

func (b *Backend) Stream(ctx context.Context, p string, bufferSize int) (*storage.Stream, error) {
	res, err := b.open(ctx, p)
	if err != nil {
		return nil, err
	}
	return storage.NewStream(res.Body, bufferSize), nil
}

func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	if b.opts.PostPattern == "" {
		return fmt.Errorf("storage %s cannot handle post requests: %w", b.id, storage.ErrNotSupported)
	}

	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(b.opts.PostPattern, remote), f)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", remote, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	res, err := b.client.Do(req)
	if err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return storage.NewHTTPTransportError(b.id, "push", res.StatusCode)
	}
	return nil
}

type listEntry struct {
	Path string `json:"path"`
}

func (b *Backend) ListDir(ctx context.Context, p string, recursive, isFile bool) (storage.Listing, error) {
	if b.opts.ListPattern == "" {
		return nil, fmt.Errorf("storage %s cannot handle list requests: %w", b.id, storage.ErrNotSupported)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(b.opts.ListPattern, p), nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", p, err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return nil, storage.NewTransportError(b.id, "list", 0, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, storage.NewHTTPTransportError(b.id, "list", res.StatusCode)
	}

	var entries []listEntry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", p, err)
	}

	listing := storage.Listing{}
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		if strings.HasSuffix(e.Path, "/") {
			listing[e.Path] = storage.Entry{IsDir: true}
		} else {
			listing[e.Path] = storage.Entry{}
		}
	}
	return listing, nil
}

// Mkdir is a no-op; pattern endpoints have no directory structure to
// create.
func (b *Backend) Mkdir(ctx context.Context, p string) error { return nil }

func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	return fmt.Errorf("storage %s: delete: %w", b.id, storage.ErrNotSupported)
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	return fmt.Errorf("storage %s: rename: %w", b.id, storage.ErrNotSupported)
}

// Exists probes the download URL with a HEAD request.
func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.getURL(p), nil)
	if err != nil {
		return false, fmt.Errorf("build request for %s: %w", p, err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return false, storage.NewTransportError(b.id, "exists", 0, err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// IsDir goes by the path shape alone; the endpoints expose no metadata.
func (b *Backend) IsDir(ctx context.Context, p string) (bool, error) {
	return strings.HasSuffix(p, "/"), nil
}

func (b *Backend) Stat(ctx context.Context, p string) (storage.Stat, error) {
	if strings.HasSuffix(p, "/") {
		return storage.Stat{IsDir: true}, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.getURL(p), nil)
	if err != nil {
		return storage.Stat{}, fmt.Errorf("build request for %s: %w", p, err)
	}
	res, err := b.client.Do(req)
	if err != nil {
		return storage.Stat{}, storage.NewTransportError(b.id, "stat", 0, err)
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return storage.Stat{}, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
	}
	if res.StatusCode != http.StatusOK {
		return storage.Stat{}, storage.NewHTTPTransportError(b.id, "stat", res.StatusCode)
	}

	stat := storage.Stat{Size: res.ContentLength}
	if lm := res.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			stat.LastModified = t
		}
	}
	return stat, nil
}

func (b *Backend) Close() error { return nil }
