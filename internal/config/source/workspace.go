package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dshills/layerconf/internal/config/cache"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// Workspace is the multi-root workspace file: the folder list plus an
// embedded settings block. The last content read is kept in the
// configuration cache so a workspace whose file is briefly unreadable
// still opens with its folders.
type Workspace struct {
	fs       vfs.VFS
	path     string
	registry *registry.Registry
	cache    cache.Cache
	cacheKey cache.Key
	logger   logging.Logger
	changes  *notify.Emitter[Update]

	mu          sync.Mutex
	opts        model.ParseOptions
	parser      *model.Parser
	model       *model.Model
	folders     []workspace.StoredFolder
	initialized bool
}

var _ FileSource = (*Workspace)(nil)

// NewWorkspace creates the source for the workspace file at path. id keys
// the cache entry; c may be nil.
func NewWorkspace(o Options, path, id string, trusted bool, c cache.Cache) *Workspace {
	return &Workspace{
		fs:       o.FS,
		path:     path,
		registry: o.Registry,
		cache:    c,
		cacheKey: cache.Key{Type: "workspaces", Key: id},
		logger:   o.logger("source.workspace"),
		changes:  notify.NewEmitter[Update](),
		opts: model.ParseOptions{
			Scopes:                  registry.WorkspaceScopes,
			SkipRestricted:          !trusted,
			SkipUnknownOverrideKeys: o.StrictOverrides,
		},
		parser: model.NewParser(path, o.Registry),
		model:  model.Empty(),
	}
}

// Initialize reads the workspace file, falling back to the cache when the
// file cannot be read.
func (w *Workspace) Initialize(ctx context.Context) (*model.Model, error) {
	content, err := w.fs.ReadFile(w.path)
	if err != nil && !vfs.IsNotExist(err) {
		w.logger.Warn("failed to read workspace file", "path", w.path, "error", err)
		if cached, ok := w.readCache(ctx); ok {
			return w.apply(cached, false), nil
		}
		return w.Model(), err
	}
	m := w.apply(content, true)
	w.writeCache(ctx, content)
	return m, nil
}

// Reload re-reads the workspace file.
func (w *Workspace) Reload(ctx context.Context) (*model.Model, error) {
	if err := ctx.Err(); err != nil {
		return w.Model(), err
	}
	content, err := w.fs.ReadFile(w.path)
	if err != nil && !vfs.IsNotExist(err) {
		w.logger.Warn("failed to read workspace file", "path", w.path, "error", err)
		return w.Model(), fmt.Errorf("reading %s: %w", w.path, err)
	}
	m := w.apply(content, true)
	w.writeCache(ctx, content)
	return m, nil
}

// apply parses content. Malformed content keeps the previous state.
func (w *Workspace) apply(content []byte, fromFile bool) *model.Model {
	file, err := workspace.ParseFile(content)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.initialized = w.initialized || fromFile
	if err != nil {
		w.logger.Error("invalid workspace file, keeping last good state", "path", w.path, "error", err)
		return w.model
	}

	w.folders = file.Folders
	w.parser.ParseRaw(file.Settings, w.opts)
	if errs := w.parser.Errors(); len(errs) > 0 {
		w.logger.Warn("ignored conflicting workspace settings", "errors", errs)
	}
	w.model = w.parser.Model()
	return w.model
}

// Model returns the settings model.
func (w *Workspace) Model() *model.Model {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// Folders returns the stored folder entries.
func (w *Workspace) Folders() []workspace.StoredFolder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]workspace.StoredFolder(nil), w.folders...)
}

// Initialized reports whether the workspace file has been read at least
// once.
func (w *Workspace) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.initialized
}

// Restricted returns the restricted keys in the settings block.
func (w *Workspace) Restricted() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.parser.Restricted()
}

// UpdateWorkspaceTrust reparses the settings with restricted settings
// admitted or dropped.
func (w *Workspace) UpdateWorkspaceTrust(trusted bool) *model.Model {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.opts.SkipRestricted = !trusted
	w.parser.Reparse(w.opts)
	w.model = w.parser.Model()
	return w.model
}

// Reparse re-derives the model against the current registry.
func (w *Workspace) Reparse() *model.Model {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.parser.Reparse(w.opts)
	w.model = w.parser.Model()
	return w.model
}

// FolderWriter persists the folders array of a workspace file.
// *editing.ConfigurationEditor satisfies it.
type FolderWriter interface {
	SetFolders(ctx context.Context, workspaceFile string, folders []workspace.StoredFolder) error
}

// SetFolders writes the folder list to the workspace file and reloads. It
// does not fire OnDidChange; the caller applies the reloaded state.
func (w *Workspace) SetFolders(ctx context.Context, folders []workspace.StoredFolder, writer FolderWriter) error {
	if err := writer.SetFolders(ctx, w.path, folders); err != nil {
		return err
	}
	_, err := w.Reload(ctx)
	return err
}

// OnDidChange fires after a file change was handled.
func (w *Workspace) OnDidChange() notify.Event[Update] { return w.changes }

// FilePaths returns the workspace file path.
func (w *Workspace) FilePaths() []string { return []string{w.path} }

// Path returns the workspace file path.
func (w *Workspace) Path() string { return w.path }

// HandleFileChange reloads and fires OnDidChange.
func (w *Workspace) HandleFileChange(ctx context.Context) {
	m, _ := w.Reload(ctx)
	w.changes.Fire(Update{Model: m})
}

// Close releases listeners.
func (w *Workspace) Close() { w.changes.Close() }

func (w *Workspace) readCache(ctx context.Context) ([]byte, bool) {
	if w.cache == nil {
		return nil, false
	}
	content, err := w.cache.Read(ctx, w.cacheKey)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.Warn("failed to read cached workspace", "error", err)
		}
		return nil, false
	}
	return content, true
}

func (w *Workspace) writeCache(ctx context.Context, content []byte) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Write(ctx, w.cacheKey, content); err != nil {
		w.logger.Warn("failed to cache workspace file", "error", err)
	}
}
