// Package swift provides a storage backend for OpenStack Swift object
// storage.
package swift

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ncw/swift/v2"

	"github.com/polystore/polystore/pkg/storage"
	"github.com/polystore/polystore/pkg/storage/fingerprint"
)

// Options configures a Swift backend.
type Options struct {
	// Container is the Swift container name (required).
	Container string

	// AuthURL is the Keystone authentication endpoint (required).
	AuthURL string

	// User and Key are the credentials (required).
	User string
	Key  string

	// Tenant, Domain and Region select the project for v2/v3 auth.
	Tenant string
	Domain string
	Region string

	// Basedir is an optional object name prefix for every path.
	Basedir string

	// Timeout bounds each request (default 60s).
	Timeout time.Duration
}

// Backend implements storage.Backend on a Swift container. Object names
// mirror external paths the same way the S3 backend maps keys, and the
// object MD5 hash feeds the fingerprint store for skip detection.
type Backend struct {
	id        string
	conn      *swift.Connection
	container string
	base      string
	fps       fingerprint.Store
}

// New creates a Swift backend and authenticates against the endpoint.
// fps may be nil to disable checksum-based skip detection.
func New(ctx context.Context, storageID string, opts Options, fps fingerprint.Store) (*Backend, error) {
	if opts.Container == "" {
		return nil, fmt.Errorf("storage %s: container is required", storageID)
	}
	if opts.AuthURL == "" {
		return nil, fmt.Errorf("storage %s: auth_url is required", storageID)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}

	conn := &swift.Connection{
		UserName: opts.User,
		ApiKey:   opts.Key,
		AuthUrl:  opts.AuthURL,
		Tenant:   opts.Tenant,
		Domain:   opts.Domain,
		Region:   opts.Region,
		Timeout:  opts.Timeout,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, storage.NewTransportError(storageID, "connect", 0, err)
	}

	return &Backend{
		id:        storageID,
		conn:      conn,
		container: opts.Container,
		base:      strings.Trim(opts.Basedir, "/"),
		fps:       fps,
	}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "swift" }

func (b *Backend) InternalPath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if b.base != "" {
		return path.Join(b.base, p)
	}
	return p
}

func (b *Backend) Join(p string, elem ...string) string {
	return path.Join(append([]string{p}, elem...)...)
}

func (b *Backend) Split(p string) (string, string) {
	return path.Split(p)
}

func (b *Backend) Stat(ctx context.Context, p string) (storage.Stat, error) {
	if p == "" {
		return storage.Stat{IsDir: true}, nil
	}

	obj, _, err := b.conn.Object(ctx, b.container, p)
	if err == nil {
		return storage.Stat{
			Size:         obj.Bytes,
			LastModified: obj.LastModified,
			Checksum:     obj.Hash,
		}, nil
	}
	if !errors.Is(err, swift.ObjectNotFound) {
		return storage.Stat{}, storage.NewTransportError(b.id, "stat", 0, err)
	}

	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return storage.Stat{}, err
	}
	if isDir {
		return storage.Stat{IsDir: true}, nil
	}
	return storage.Stat{}, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
}

// GetFileSafe downloads the object through a temporary file renamed into
// place, records its MD5 hash for skip detection and stamps the remote
// modification time on the local file.
func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	file, _, err := b.conn.ObjectOpen(ctx, b.container, remote, false, nil)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return fmt.Errorf("%s: %w", remote, storage.ErrNotFound)
		}
		return storage.NewTransportError(b.id, "get", 0, err)
	}
	defer file.Close()

	obj, _, err := b.conn.Object(ctx, b.container, remote)
	if err != nil {
		return storage.NewTransportError(b.id, "get", 0, err)
	}

	if err := storage.WriteFileSafe(local, file, obj.LastModified); err != nil {
		return err
	}

	if b.fps != nil {
		if info, err := os.Stat(local); err == nil {
			_ = b.fps.Save(local, storage.Fingerprint{
				Size:     info.Size(),
				ModTime:  info.ModTime(),
				Checksum: obj.Hash,
			})
		}
	}
	return nil
}

// CheckExistingFile reports whether local already matches the remote
// object, using the recorded hash when a fingerprint store is present.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	info, err := os.Stat(local)
	if err != nil {
		return false, nil
	}

	obj, _, err := b.conn.Object(ctx, b.container, remote)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return false, fmt.Errorf("%s: %w", remote, storage.ErrNotFound)
		}
		return false, storage.NewTransportError(b.id, "stat", 0, err)
	}

	localFP := storage.Fingerprint{Size: info.Size(), ModTime: info.ModTime()}
	remoteFP := storage.Fingerprint{Size: obj.Bytes, ModTime: obj.LastModified, Checksum: obj.Hash}

	if b.fps != nil {
		fp, ok, err := b.fps.Load(local)
		if err != nil || !ok {
			return false, nil
		}
		untouched := storage.Fingerprint{Size: fp.Size, ModTime: fp.ModTime}
		return fp.Equal(remoteFP) && untouched.Equal(localFP), nil
	}

	remoteFP.Checksum = ""
	return remoteFP.Equal(localFP), nil
}

func (b *Backend) Stream(ctx context.Context, p string, bufferSize int) (*storage.Stream, error) {
	file, _, err := b.conn.ObjectOpen(ctx, b.container, p, false, nil)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return nil, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return nil, storage.NewTransportError(b.id, "stream", 0, err)
	}
	return storage.NewStream(file, bufferSize), nil
}

func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer f.Close()

	_, err = b.conn.ObjectPut(ctx, b.container, remote, f, false, "", "", nil)
	if err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	return nil
}

func (b *Backend) ListDir(ctx context.Context, p string, recursive, isFile bool) (storage.Listing, error) {
	listing := storage.Listing{}

	if isFile {
		obj, _, err := b.conn.Object(ctx, b.container, p)
		if err != nil {
			if errors.Is(err, swift.ObjectNotFound) {
				return nil, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
			}
			return nil, storage.NewTransportError(b.id, "list", 0, err)
		}
		listing[path.Base(p)] = storage.Entry{Size: obj.Bytes, LastModified: obj.LastModified}
		return listing, nil
	}

	prefix := p
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	opts := &swift.ObjectsOpts{Prefix: prefix}
	if !recursive {
		opts.Delimiter = '/'
	}

	objects, err := b.conn.ObjectsAll(ctx, b.container, opts)
	if err != nil {
		return nil, storage.NewTransportError(b.id, "list", 0, err)
	}

	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Name, prefix)
		if rel == "" {
			continue
		}
		if obj.PseudoDirectory || strings.HasSuffix(rel, "/") {
			listing[strings.TrimSuffix(rel, "/")+"/"] = storage.Entry{IsDir: true}
			continue
		}
		if recursive {
			parts := strings.Split(rel, "/")
			for i := 1; i < len(parts); i++ {
				listing[strings.Join(parts[:i], "/")+"/"] = storage.Entry{IsDir: true}
			}
		}
		listing[rel] = storage.Entry{Size: obj.Bytes, LastModified: obj.LastModified}
	}

	return listing, nil
}

// Mkdir writes a zero-byte directory marker object.
func (b *Backend) Mkdir(ctx context.Context, p string) error {
	if p == "" {
		return nil
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	_, err := b.conn.ObjectPut(ctx, b.container, p, strings.NewReader(""), false, "", "application/directory", nil)
	if err != nil {
		return storage.NewTransportError(b.id, "mkdir", 0, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	if recursive {
		names, err := b.listNames(ctx, p)
		if err != nil {
			return err
		}
		if len(names) == 0 {
			return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		// Delete leaves before their parents.
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names {
			if err := b.conn.ObjectDelete(ctx, b.container, name); err != nil && !errors.Is(err, swift.ObjectNotFound) {
				return storage.NewTransportError(b.id, "delete", 0, err)
			}
		}
		return nil
	}

	isDir, err := b.IsDir(ctx, p)
	if err != nil {
		return err
	}
	if isDir {
		return fmt.Errorf("%s is a directory (use recursive delete)", p)
	}

	if err := b.conn.ObjectDelete(ctx, b.container, p); err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return storage.NewTransportError(b.id, "delete", 0, err)
	}
	return nil
}

// Rename moves objects server side. Directories are moved object by
// object since Swift has no recursive move.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	isDir, err := b.IsDir(ctx, oldPath)
	if err != nil {
		return err
	}

	if !isDir {
		if err := b.conn.ObjectMove(ctx, b.container, oldPath, b.container, newPath); err != nil {
			if errors.Is(err, swift.ObjectNotFound) {
				return fmt.Errorf("%s: %w", oldPath, storage.ErrNotFound)
			}
			return storage.NewTransportError(b.id, "rename", 0, err)
		}
		return nil
	}

	names, err := b.listNames(ctx, oldPath)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("%s: %w", oldPath, storage.ErrNotFound)
	}
	sort.Strings(names)

	oldPrefix := strings.TrimSuffix(oldPath, "/") + "/"
	newPrefix := strings.TrimSuffix(newPath, "/") + "/"
	for _, name := range names {
		target := newPrefix + strings.TrimPrefix(name, oldPrefix)
		if err := b.conn.ObjectMove(ctx, b.container, name, b.container, target); err != nil {
			return storage.NewTransportError(b.id, "rename", 0, err)
		}
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}
	_, _, err := b.conn.Object(ctx, b.container, p)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, swift.ObjectNotFound) {
		return false, storage.NewTransportError(b.id, "exists", 0, err)
	}
	return b.IsDir(ctx, p)
}

func (b *Backend) IsDir(ctx context.Context, p string) (bool, error) {
	if p == "" {
		return true, nil
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	names, err := b.conn.ObjectNames(ctx, b.container, &swift.ObjectsOpts{Prefix: prefix, Limit: 1})
	if err != nil {
		return false, storage.NewTransportError(b.id, "stat", 0, err)
	}
	return len(names) > 0, nil
}

func (b *Backend) Close() error {
	b.conn.UnAuthenticate()
	return nil
}

// listNames returns every object name under p, plus p itself when it
// names an object.
func (b *Backend) listNames(ctx context.Context, p string) ([]string, error) {
	var names []string
	seen := map[string]bool{}

	if _, _, err := b.conn.Object(ctx, b.container, p); err == nil {
		names = append(names, p)
		seen[p] = true
	} else if !errors.Is(err, swift.ObjectNotFound) {
		return nil, storage.NewTransportError(b.id, "list", 0, err)
	}

	prefix := strings.TrimSuffix(p, "/") + "/"
	all, err := b.conn.ObjectNamesAll(ctx, b.container, &swift.ObjectsOpts{Prefix: prefix})
	if err != nil {
		return nil, storage.NewTransportError(b.id, "list", 0, err)
	}
	for _, name := range all {
		if !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	return names, nil
}
