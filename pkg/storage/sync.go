package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/polystore/polystore/internal/logging"
)

// This file implements the skip-if-unchanged synchronization policy shared
// by every backend: before transferring a file the backend's fingerprint
// check decides whether the cached local copy is still current, and only
// stale or missing files are fetched. The policy is best-effort and not
// atomic with respect to the transfer: a remote mutation between the check
// and the transfer is picked up on the next call. The system targets batch
// synchronization, not live consistency.

// Get retrieves a file or directory from remote into local.
//
// With directory=true the whole remote tree is mirrored under local. The
// call fails with ErrSyncIncomplete if local does not exist once the
// transfer finished, guarding against adapters that fail silently.
func (c *Client) Get(ctx context.Context, remote, local string, directory bool) error {
	logging.Info("synchronizing",
		zap.String("remote", remote),
		zap.String("local", local))

	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return err
	}

	if directory {
		err = c.getDirectory(ctx, b, path, local)
	} else {
		err = c.getFile(ctx, b, path, local)
	}
	if err != nil {
		return err
	}

	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("%s: %w", local, ErrSyncIncomplete)
	}
	return nil
}

// GetFile retrieves a single file from remote to local.
func (c *Client) GetFile(ctx context.Context, remote, local string) error {
	return c.Get(ctx, remote, local, false)
}

// GetDirectory retrieves a full directory from remote to local.
func (c *Client) GetDirectory(ctx context.Context, remote, local string) error {
	return c.Get(ctx, remote, local, true)
}

func (c *Client) getFile(ctx context.Context, b Backend, remote, local string) error {
	// A destination naming a directory receives the remote base name.
	if strings.HasSuffix(local, string(os.PathSeparator)) || isLocalDir(local) {
		_, base := b.Split(remote)
		local = filepath.Join(local, base)
	}
	if dir := filepath.Dir(local); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	current, err := b.CheckExistingFile(ctx, remote, local)
	if err != nil {
		// Fingerprint checks are best-effort: log and re-transfer.
		logging.Debug("fingerprint check failed",
			zap.String("remote", remote), zap.Error(err))
		current = false
	}
	if current {
		logging.Debug("skipping unchanged file", zap.String("local", local))
		c.tm.RecordSkip(b.Type())
		return nil
	}

	if err := c.throttleWait(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := b.GetFileSafe(ctx, remote, local); err != nil {
		c.tm.RecordError(b.Type(), "get")
		return err
	}
	c.tm.RecordTransfer(b.Type(), "get", localSize(local), time.Since(start))
	return nil
}

func (c *Client) getDirectory(ctx context.Context, b Backend, remote, local string) error {
	listing, err := b.ListDir(ctx, remote, true, false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(local, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}

	// Stable order keeps intermediate directories ahead of their files.
	keys := make([]string, 0, len(listing))
	for k := range listing {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, rel := range keys {
		target := filepath.Join(local, filepath.FromSlash(rel))
		if listing[rel].IsDir {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", target, err)
			}
			continue
		}
		if err := c.getFile(ctx, b, b.Join(remote, strings.Split(rel, "/")...), target); err != nil {
			return err
		}
	}
	return nil
}

// Push uploads a local file or directory to remote.
//
// A missing local source fails with ErrNotFound. When local and remote are
// the same string (interpreted literally, not path equivalence) the call is
// a no-op.
func (c *Client) Push(ctx context.Context, local, remote string) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("%s: %w", local, ErrNotFound)
	}
	if local == remote {
		return nil
	}

	logging.Info("uploading",
		zap.String("local", local),
		zap.String("remote", remote))

	b, path, err := c.resolve(ctx, remote)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return c.pushDirectory(ctx, b, local, path)
	}
	return c.pushFile(ctx, b, local, path)
}

func (c *Client) pushFile(ctx context.Context, b Backend, local, remote string) error {
	if err := c.throttleWait(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := b.PushFile(ctx, local, remote); err != nil {
		c.tm.RecordError(b.Type(), "push")
		return err
	}
	c.tm.RecordTransfer(b.Type(), "push", localSize(local), time.Since(start))
	return nil
}

func (c *Client) pushDirectory(ctx context.Context, b Backend, local, remote string) error {
	return filepath.Walk(local, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(local, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return b.Mkdir(ctx, remote)
		}
		target := b.Join(remote, strings.Split(filepath.ToSlash(rel), "/")...)
		if info.IsDir() {
			return b.Mkdir(ctx, target)
		}
		return c.pushFile(ctx, b, p, target)
	})
}

func isLocalDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func localSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
