package config

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dshills/layerconf/internal/config/cache"
	"github.com/dshills/layerconf/internal/config/editing"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/config/service"
	"github.com/dshills/layerconf/internal/config/watcher"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// Engine wires the configuration service to its collaborators: the file
// system, the cache, the file watcher and the settings editor.
type Engine struct {
	opts     Options
	logger   logging.Logger
	fs       vfs.VFS
	registry *registry.Registry

	cache   cache.Cache
	watcher *watcher.Watcher
	editor  *editing.ConfigurationEditor
	service *service.WorkspaceService
}

// New builds an engine. Nothing is read until Open.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	policy, _ := parseFolderPolicy(o.Workspace.FolderPolicy)

	e := &Engine{
		opts:     o,
		logger:   o.Logger,
		fs:       o.FS,
		registry: o.Registry,
	}
	if e.logger == nil {
		e.logger = logging.New(logging.Config{
			Level:  o.LogLevel,
			Output: os.Stderr,
			Prefix: "layerconf",
			Format: logging.Format(o.LogFormat),
		})
	}
	if e.fs == nil {
		e.fs = vfs.NewOSFS()
	}
	if e.registry == nil {
		e.registry = registry.NewWithDefaults()
	}

	var err error
	if e.cache, err = openCache(ctx, e.fs, o.Cache); err != nil {
		return nil, err
	}
	if o.Watch.Enabled {
		e.watcher, err = watcher.New(
			watcher.WithDebounce(o.Watch.Debounce()),
			watcher.WithErrorHandler(func(err error) {
				e.logger.Warn("file watcher error", "error", err)
			}),
		)
		if err != nil {
			e.closeCache()
			return nil, fmt.Errorf("starting file watcher: %w", err)
		}
	}

	e.service = service.New(service.Options{
		FS:                 e.fs,
		Registry:           e.registry,
		Logger:             e.logger,
		UserSettingsPath:   o.User.Settings,
		RemoteAuthority:    o.Remote.Authority,
		RemoteSettingsPath: o.Remote.Settings,
		Cache:              e.cache,
		Watcher:            e.watcher,
		Trusted:            o.Workspace.Trusted,
		FolderPolicy:       policy,
		StrictOverrides:    o.Workspace.StrictOverrides,
	})

	paths := editing.Paths{UserLocal: o.User.Settings}
	if o.Remote.Authority != "" {
		paths.UserRemote = o.Remote.Settings
	}
	e.editor = editing.NewConfigurationEditor(editing.NewJSONEditor(e.fs), e.registry, e.service, paths, e.logger)
	e.service.AttachWriteBackend(e.editor)

	return e, nil
}

func openCache(ctx context.Context, fs vfs.VFS, o CacheOptions) (cache.Cache, error) {
	switch o.Backend {
	case CacheDir:
		if o.Path == "" {
			return nil, nil
		}
		return cache.NewDirCache(fs, o.Path), nil
	case CacheSQLite:
		c, err := cache.OpenSQLite(ctx, o.Path)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		return c, nil
	}
	return nil, nil
}

// Open initializes the service for the workspace named by id.
func (e *Engine) Open(ctx context.Context, id workspace.Identifier) error {
	return e.service.Initialize(ctx, id)
}

// Service returns the configuration service.
func (e *Engine) Service() *service.WorkspaceService {
	return e.service
}

// Registry returns the settings registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options {
	return e.opts
}

// Logger returns the engine logger.
func (e *Engine) Logger() logging.Logger {
	return e.logger
}

// Close stops the service, the watcher and the cache.
func (e *Engine) Close() error {
	var errs []error
	if err := e.service.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.closeCache(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) closeCache() error {
	if e.cache == nil {
		return nil
	}
	return e.cache.Close()
}

// Get returns the resolved value of key.
func (e *Engine) Get(key string, overrides model.Overrides) (any, error) {
	v := e.service.GetValue(key, overrides)
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrSettingNotFound, key)
	}
	return v, nil
}

// GetString returns a string setting.
func (e *Engine) GetString(key string, overrides model.Overrides) (string, error) {
	v, err := e.Get(key, overrides)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: key, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// GetInt returns an integer setting. Integral floats are accepted.
func (e *Engine) GetInt(key string, overrides model.Overrides) (int, error) {
	v, err := e.Get(key, overrides)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, &TypeError{Path: key, Expected: "int", Actual: typeName(v)}
}

// GetBool returns a boolean setting.
func (e *Engine) GetBool(key string, overrides model.Overrides) (bool, error) {
	v, err := e.Get(key, overrides)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: key, Expected: "bool", Actual: typeName(v)}
	}
	return b, nil
}

// GetFloat returns a numeric setting.
func (e *Engine) GetFloat(key string, overrides model.Overrides) (float64, error) {
	v, err := e.Get(key, overrides)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, &TypeError{Path: key, Expected: "float", Actual: typeName(v)}
}

// GetStringSlice returns a string array setting.
func (e *Engine) GetStringSlice(key string, overrides model.Overrides) ([]string, error) {
	v, err := e.Get(key, overrides)
	if err != nil {
		return nil, err
	}
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, &TypeError{Path: fmt.Sprintf("%s[%d]", key, i), Expected: "string", Actual: typeName(item)}
			}
			out[i] = str
		}
		return out, nil
	}
	return nil, &TypeError{Path: key, Expected: "[]string", Actual: typeName(v)}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
