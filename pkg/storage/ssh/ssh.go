// Package ssh provides a storage backend over SSH, using SFTP for
// metadata and uploads and the scp source protocol for downloads.
package ssh

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/polystore/polystore/pkg/storage"
)

// Options configures an SSH backend.
type Options struct {
	// Server is the remote host name or address (required).
	Server string

	// Port is the SSH port (default 22).
	Port int

	// User is the login user (required).
	User string

	// Password enables password authentication when set.
	Password string

	// PKey is a PEM-encoded private key. PKeyPath points at a key file.
	// At least one authentication method must be configured.
	PKey     string
	PKeyPath string

	// Basedir is an optional remote directory prefix for every path.
	Basedir string

	// Timeout bounds connection setup and each transfer (default 60s).
	Timeout time.Duration
}

// Backend implements storage.Backend against a remote host over SSH.
//
// The connection is established lazily on first use and reused until it
// fails; a transfer timeout tears the whole connection down since an scp
// session cannot be cancelled independently.
type Backend struct {
	id   string
	opts Options

	mu     sync.Mutex
	client *ssh.Client
	sftpc  *sftp.Client
}

// New creates an SSH backend. No connection is made until the first
// operation.
func New(storageID string, opts Options) (*Backend, error) {
	if opts.Server == "" {
		return nil, fmt.Errorf("storage %s: server is required", storageID)
	}
	if opts.User == "" {
		return nil, fmt.Errorf("storage %s: user is required", storageID)
	}
	if opts.Password == "" && opts.PKey == "" && opts.PKeyPath == "" {
		return nil, fmt.Errorf("storage %s: password or private key is required", storageID)
	}
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	return &Backend{id: storageID, opts: opts}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return "ssh" }

func (b *Backend) InternalPath(p string) string {
	if b.opts.Basedir != "" {
		return path.Join(b.opts.Basedir, strings.TrimPrefix(p, "/"))
	}
	return p
}

func (b *Backend) Join(p string, elem ...string) string {
	return path.Join(append([]string{p}, elem...)...)
}

func (b *Backend) Split(p string) (string, string) {
	return path.Split(p)
}

// connect returns the live SFTP client, dialing if needed.
func (b *Backend) connect(ctx context.Context) (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sftpc != nil {
		return b.sftpc, nil
	}

	var auth []ssh.AuthMethod
	if key, err := b.privateKey(); err != nil {
		return nil, err
	} else if key != nil {
		auth = append(auth, ssh.PublicKeys(key))
	}
	if b.opts.Password != "" {
		auth = append(auth, ssh.Password(b.opts.Password))
	}

	config := &ssh.ClientConfig{
		User:            b.opts.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         b.opts.Timeout,
	}

	addr := net.JoinHostPort(b.opts.Server, fmt.Sprintf("%d", b.opts.Port))
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, storage.NewTransportError(b.id, "connect", 0, err)
	}

	sftpc, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, storage.NewTransportError(b.id, "connect", 0, err)
	}

	b.client = client
	b.sftpc = sftpc
	return sftpc, nil
}

func (b *Backend) privateKey() (ssh.Signer, error) {
	pem := []byte(b.opts.PKey)
	if len(pem) == 0 && b.opts.PKeyPath != "" {
		data, err := os.ReadFile(b.opts.PKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		pem = data
	}
	if len(pem) == 0 {
		return nil, nil
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// invalidate drops the cached connection so the next operation redials.
func (b *Backend) invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sftpc != nil {
		b.sftpc.Close()
		b.sftpc = nil
	}
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

// openSCP starts "scp -f" for remote and returns a receiver positioned
// just before the file header. The returned cleanup closes the session;
// invalidate must be called instead when the transfer timed out, since
// the session is then in an unknown state.
func (b *Backend) openSCP(ctx context.Context, remote string) (*scpReceiver, fileHeader, func(), error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil {
		if _, err := b.connect(ctx); err != nil {
			return nil, fileHeader{}, nil, err
		}
		b.mu.Lock()
		client = b.client
		b.mu.Unlock()
	}

	session, err := client.NewSession()
	if err != nil {
		b.invalidate()
		return nil, fileHeader{}, nil, storage.NewTransportError(b.id, "get", 0, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fileHeader{}, nil, storage.NewTransportError(b.id, "get", 0, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fileHeader{}, nil, storage.NewTransportError(b.id, "get", 0, err)
	}

	if err := session.Start("scp -f " + shellQuote(remote)); err != nil {
		session.Close()
		return nil, fileHeader{}, nil, storage.NewTransportError(b.id, "get", 0, err)
	}

	recv := newSCPReceiver(sessionChannel{r: stdout, w: stdin})

	done := make(chan struct{})
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			close(timedOut)
			session.Close()
			b.invalidate()
		case <-done:
		}
	}()

	cleanup := func() {
		close(done)
		select {
		case <-timedOut:
		default:
			session.Close()
		}
	}

	header, err := recv.Start()
	if err != nil {
		cleanup()
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		if strings.Contains(err.Error(), "No such file") || strings.Contains(err.Error(), "not found") {
			err = fmt.Errorf("%s: %w", remote, storage.ErrNotFound)
		}
		return nil, fileHeader{}, nil, err
	}

	return recv, header, cleanup, nil
}

type sessionChannel struct {
	r io.Reader
	w io.Writer
}

func (c sessionChannel) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c sessionChannel) Write(p []byte) (int, error) { return c.w.Write(p) }

// GetFileSafe downloads remote over scp into a temporary file next to
// local, renamed into place on success.
func (b *Backend) GetFileSafe(ctx context.Context, remote, local string) error {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	recv, _, cleanup, err := b.openSCP(ctx, remote)
	if err != nil {
		return err
	}
	defer cleanup()

	mtime, _ := b.remoteModTime(ctx, remote)
	if err := storage.WriteFileSafe(local, recv, mtime); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (b *Backend) remoteModTime(ctx context.Context, remote string) (time.Time, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return time.Time{}, err
	}
	info, err := c.Stat(remote)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Stream downloads remote over scp as a chunked stream. Closing the
// stream closes the underlying session.
func (b *Backend) Stream(ctx context.Context, p string, bufferSize int) (*storage.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	recv, _, cleanup, err := b.openSCP(ctx, p)
	if err != nil {
		cancel()
		return nil, err
	}
	closer := func() {
		cleanup()
		cancel()
	}
	return storage.NewStream(&scpStreamReader{recv: recv, cleanup: closer}, bufferSize), nil
}

type scpStreamReader struct {
	recv    *scpReceiver
	cleanup func()
	once    sync.Once
}

func (r *scpStreamReader) Read(p []byte) (int, error) { return r.recv.Read(p) }

func (r *scpStreamReader) Close() error {
	r.once.Do(r.cleanup)
	return nil
}

// CheckExistingFile compares size and modification time via SFTP.
func (b *Backend) CheckExistingFile(ctx context.Context, remote, local string) (bool, error) {
	localInfo, err := os.Stat(local)
	if err != nil {
		return false, nil
	}
	c, err := b.connect(ctx)
	if err != nil {
		return false, err
	}
	remoteInfo, err := c.Stat(remote)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", remote, err)
	}
	remoteFP := storage.Fingerprint{Size: remoteInfo.Size(), ModTime: remoteInfo.ModTime()}
	localFP := storage.Fingerprint{Size: localInfo.Size(), ModTime: localInfo.ModTime()}
	return remoteFP.Equal(localFP), nil
}

func (b *Backend) Stat(ctx context.Context, p string) (storage.Stat, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return storage.Stat{}, err
	}
	info, err := c.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.Stat{}, fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return storage.Stat{}, storage.NewTransportError(b.id, "stat", 0, err)
	}
	if info.IsDir() {
		return storage.Stat{IsDir: true}, nil
	}
	return storage.Stat{Size: info.Size(), LastModified: info.ModTime()}, nil
}

// PushFile uploads local over SFTP, creating parent directories and
// preserving the local modification time.
func (b *Backend) PushFile(ctx context.Context, local, remote string) error {
	c, err := b.connect(ctx)
	if err != nil {
		return err
	}

	in, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("open %s: %w", local, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", local, err)
	}

	if dir := path.Dir(remote); dir != "" && dir != "." {
		if err := c.MkdirAll(dir); err != nil {
			return storage.NewTransportError(b.id, "push", 0, err)
		}
	}

	out, err := c.Create(remote)
	if err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return storage.NewTransportError(b.id, "push", 0, err)
	}
	if err := out.Close(); err != nil {
		return storage.NewTransportError(b.id, "push", 0, err)
	}

	_ = c.Chtimes(remote, info.ModTime(), info.ModTime())
	return nil
}

func (b *Backend) ListDir(ctx context.Context, p string, recursive, isFile bool) (storage.Listing, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return nil, err
	}

	listing := storage.Listing{}

	if isFile {
		info, err := c.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		listing[path.Base(p)] = storage.Entry{Size: info.Size(), LastModified: info.ModTime()}
		return listing, nil
	}

	var walk func(dir, prefix string) error
	walk = func(dir, prefix string) error {
		entries, err := c.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			full := path.Join(dir, e.Name())
			rel := prefix + e.Name()
			if e.IsDir() {
				listing[rel+"/"] = storage.Entry{IsDir: true}
				if recursive {
					if err := walk(full, rel+"/"); err != nil {
						return err
					}
				}
				continue
			}
			listing[rel] = storage.Entry{Size: e.Size(), LastModified: e.ModTime()}
		}
		return nil
	}

	if err := walk(p, ""); err != nil {
		return nil, err
	}
	return listing, nil
}

func (b *Backend) Mkdir(ctx context.Context, p string) error {
	c, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if err := c.MkdirAll(p); err != nil {
		return storage.NewTransportError(b.id, "mkdir", 0, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, p string, recursive bool) error {
	c, err := b.connect(ctx)
	if err != nil {
		return err
	}

	info, err := c.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", p, storage.ErrNotFound)
		}
		return storage.NewTransportError(b.id, "delete", 0, err)
	}

	if info.IsDir() {
		if !recursive {
			return fmt.Errorf("%s is a directory (use recursive delete)", p)
		}
		if err := c.RemoveAll(p); err != nil {
			return storage.NewTransportError(b.id, "delete", 0, err)
		}
		return nil
	}

	if err := c.Remove(p); err != nil {
		return storage.NewTransportError(b.id, "delete", 0, err)
	}
	return nil
}

func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	c, err := b.connect(ctx)
	if err != nil {
		return err
	}
	if err := c.PosixRename(oldPath, newPath); err != nil {
		return storage.NewTransportError(b.id, "rename", 0, err)
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, p string) (bool, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return false, err
	}
	if _, err := c.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.NewTransportError(b.id, "exists", 0, err)
	}
	return true, nil
}

func (b *Backend) IsDir(ctx context.Context, p string) (bool, error) {
	c, err := b.connect(ctx)
	if err != nil {
		return false, err
	}
	info, err := c.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.NewTransportError(b.id, "stat", 0, err)
	}
	return info.IsDir(), nil
}

func (b *Backend) Close() error {
	b.invalidate()
	return nil
}

// shellQuote single-quotes a path for the remote shell.
func shellQuote(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
