package source

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/dshills/layerconf/internal/config/cache"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
)

// User is the local user settings file.
type User struct {
	file    *settingsFile
	changes *notify.Emitter[Update]
}

var _ FileSource = (*User)(nil)

// NewUser creates the local user source for path. scopes limits the
// admitted settings; when a remote is connected the local file only holds
// LocalMachineScopes settings.
func NewUser(o Options, path string, scopes []registry.Scope) *User {
	return &User{
		file:    newSettingsFile("source.user", path, o, model.ParseOptions{Scopes: scopes}),
		changes: notify.NewEmitter[Update](),
	}
}

// Initialize reads the settings file.
func (u *User) Initialize(ctx context.Context) (*model.Model, error) {
	return u.Reload(ctx)
}

// Reload re-reads the settings file.
func (u *User) Reload(ctx context.Context) (*model.Model, error) {
	return u.file.load(ctx)
}

// Model returns the current model.
func (u *User) Model() *model.Model { return u.file.current() }

// Restricted returns the restricted keys in the file.
func (u *User) Restricted() []string { return u.file.restricted() }

// Reparse re-derives the model against the current registry.
func (u *User) Reparse() *model.Model {
	return u.file.reparse(func(*model.ParseOptions) {})
}

// OnDidChange fires after a file change was handled.
func (u *User) OnDidChange() notify.Event[Update] { return u.changes }

// FilePaths returns the settings file path.
func (u *User) FilePaths() []string { return []string{u.file.path} }

// Path returns the settings file path.
func (u *User) Path() string { return u.file.path }

// HandleFileChange reloads and fires OnDidChange.
func (u *User) HandleFileChange(ctx context.Context) {
	m, _ := u.Reload(ctx)
	u.changes.Fire(Update{Model: m})
}

// Close releases listeners.
func (u *User) Close() { u.changes.Close() }

// RemoteUser is the user settings file on a remote machine. Until the
// remote file system is reachable it serves the last content stored in the
// configuration cache.
type RemoteUser struct {
	file     *settingsFile
	cache    cache.Cache
	cacheKey cache.Key
	logger   logging.Logger
	changes  *notify.Emitter[Update]

	mu        sync.Mutex
	fromCache bool
}

var _ FileSource = (*RemoteUser)(nil)

// NewRemoteUser creates the remote user source for the remote authority.
// c may be nil to disable caching.
func NewRemoteUser(o Options, path, authority string, c cache.Cache) *RemoteUser {
	return &RemoteUser{
		file:     newSettingsFile("source.remote", path, o, model.ParseOptions{Scopes: registry.RemoteMachineScopes}),
		cache:    c,
		cacheKey: cache.Key{Type: "user", Key: authority},
		logger:   o.logger("source.remote"),
		changes:  notify.NewEmitter[Update](),
	}
}

// Initialize loads from the remote file when reachable, otherwise from the
// cache.
func (r *RemoteUser) Initialize(ctx context.Context) (*model.Model, error) {
	if r.reachable() {
		return r.Reload(ctx)
	}

	r.mu.Lock()
	r.fromCache = true
	r.mu.Unlock()

	if r.cache == nil {
		return r.file.current(), nil
	}
	content, err := r.cache.Read(ctx, r.cacheKey)
	if errors.Is(err, cache.ErrNotFound) {
		return r.file.current(), nil
	}
	if err != nil {
		r.logger.Warn("failed to read cached remote settings", "error", err)
		return r.file.current(), nil
	}
	r.logger.Debug("initialized remote settings from cache", "authority", r.cacheKey.Key)
	return r.file.parse(content), nil
}

// Reload re-reads the remote file. While the remote is unreachable the
// cached model is kept.
func (r *RemoteUser) Reload(ctx context.Context) (*model.Model, error) {
	if !r.reachable() {
		return r.file.current(), nil
	}

	content, exists, err := r.file.read(ctx)
	if err != nil {
		return r.file.current(), err
	}

	r.mu.Lock()
	r.fromCache = false
	r.mu.Unlock()

	m := r.file.parse(content)
	r.updateCache(ctx, content, exists)
	return m, nil
}

// FromCache reports whether the current model came from the cache.
func (r *RemoteUser) FromCache() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fromCache
}

// Model returns the current model.
func (r *RemoteUser) Model() *model.Model { return r.file.current() }

// Restricted returns the restricted keys in the file.
func (r *RemoteUser) Restricted() []string { return r.file.restricted() }

// Reparse re-derives the model against the current registry.
func (r *RemoteUser) Reparse() *model.Model {
	return r.file.reparse(func(*model.ParseOptions) {})
}

// OnDidChange fires after a file change was handled.
func (r *RemoteUser) OnDidChange() notify.Event[Update] { return r.changes }

// FilePaths returns the settings file path.
func (r *RemoteUser) FilePaths() []string { return []string{r.file.path} }

// Path returns the settings file path.
func (r *RemoteUser) Path() string { return r.file.path }

// HandleFileChange reloads and fires OnDidChange.
func (r *RemoteUser) HandleFileChange(ctx context.Context) {
	m, _ := r.Reload(ctx)
	r.changes.Fire(Update{Model: m})
}

// Close releases listeners.
func (r *RemoteUser) Close() { r.changes.Close() }

// reachable reports whether the directory holding the remote settings file
// exists.
func (r *RemoteUser) reachable() bool {
	return vfs.IsDir(r.file.fs, filepath.Dir(r.file.path))
}

func (r *RemoteUser) updateCache(ctx context.Context, content []byte, exists bool) {
	if r.cache == nil {
		return
	}
	var err error
	if exists {
		err = r.cache.Write(ctx, r.cacheKey, content)
	} else {
		err = r.cache.Remove(ctx, r.cacheKey)
	}
	if err != nil {
		r.logger.Warn("failed to update remote settings cache", "error", err)
	}
}
