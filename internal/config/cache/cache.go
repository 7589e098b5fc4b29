// Package cache stores the last known content of configuration files that
// may be unavailable at startup, such as remote user settings and workspace
// files, so the engine can initialize from them and reconcile later.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dshills/layerconf/internal/project/vfs"
)

// ErrNotFound is returned when no content is cached for a key.
var ErrNotFound = errors.New("cache entry not found")

// Key identifies a cached entry.
type Key struct {
	// Type groups entries, e.g. "user" or "workspaces".
	Type string
	// Key identifies the entry within its type, e.g. a remote authority or
	// a workspace id.
	Key string
}

func (k Key) String() string {
	return k.Type + "/" + k.Key
}

// Cache is a configuration content cache.
type Cache interface {
	// Read returns cached content or ErrNotFound.
	Read(ctx context.Context, key Key) ([]byte, error)
	// Write stores content. Empty content removes the entry.
	Write(ctx context.Context, key Key, content []byte) error
	// Remove deletes an entry. Missing entries are not an error.
	Remove(ctx context.Context, key Key) error
	// Close releases resources.
	Close() error
}

// DirCache stores entries as files under a directory.
type DirCache struct {
	fs   vfs.VFS
	root string
}

// NewDirCache creates a directory cache rooted at root.
func NewDirCache(fs vfs.VFS, root string) *DirCache {
	return &DirCache{fs: fs, root: root}
}

var _ Cache = (*DirCache)(nil)

// Read returns cached content or ErrNotFound.
func (c *DirCache) Read(ctx context.Context, key Key) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.fs.ReadFile(c.path(key))
	if vfs.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache %s: %w", key, err)
	}
	return data, nil
}

// Write stores content. Empty content removes the entry.
func (c *DirCache) Write(ctx context.Context, key Key, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(content) == 0 {
		return c.Remove(ctx, key)
	}
	p := c.path(key)
	if err := c.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := c.fs.WriteFile(p, content, 0o600); err != nil {
		return fmt.Errorf("writing cache %s: %w", key, err)
	}
	return nil
}

// Remove deletes an entry. Missing entries are not an error.
func (c *DirCache) Remove(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.fs.Remove(c.path(key)); err != nil && !vfs.IsNotExist(err) {
		return fmt.Errorf("removing cache %s: %w", key, err)
	}
	return nil
}

// Close implements Cache.
func (c *DirCache) Close() error {
	return nil
}

func (c *DirCache) path(key Key) string {
	return filepath.Join(c.root, sanitize(key.Type), sanitize(key.Key)+".json")
}

// sanitize makes a key safe as a single path element.
func sanitize(s string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	s = r.Replace(s)
	if s == "" {
		return "_"
	}
	return s
}
