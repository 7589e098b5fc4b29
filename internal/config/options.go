package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/layerconf/internal/config/loader"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/config/service"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
)

// EnvPrefix prefixes the environment variables that override options.
const EnvPrefix = "LAYERCONF_"

// Cache backends.
const (
	CacheNone   = "none"
	CacheDir    = "dir"
	CacheSQLite = "sqlite"
)

// Options configures an Engine. The exported fields with toml tags can be
// set from an options file and the environment; see LoadOptions.
type Options struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	User      UserOptions      `toml:"user"`
	Remote    RemoteOptions    `toml:"remote"`
	Cache     CacheOptions     `toml:"cache"`
	Watch     WatchOptions     `toml:"watch"`
	Workspace WorkspaceOptions `toml:"workspace"`

	// FS, Registry and Logger are only set programmatically.
	FS       vfs.VFS            `toml:"-"`
	Registry *registry.Registry `toml:"-"`
	Logger   logging.Logger     `toml:"-"`
}

// UserOptions locates the local user settings file.
type UserOptions struct {
	Settings string `toml:"settings"`
}

// RemoteOptions enables the remote user layer when Authority is set.
type RemoteOptions struct {
	Authority string `toml:"authority"`
	Settings  string `toml:"settings"`
}

// CacheOptions selects the store behind the remote user and workspace
// layers.
type CacheOptions struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// WatchOptions controls live reload of settings files.
type WatchOptions struct {
	Enabled    bool `toml:"enabled"`
	DebounceMS int  `toml:"debounce_ms"`
}

// WorkspaceOptions holds the workspace policies.
type WorkspaceOptions struct {
	Trusted         bool   `toml:"trusted"`
	FolderPolicy    string `toml:"folder_policy"`
	StrictOverrides bool   `toml:"strict_overrides"`
}

// Debounce returns the watch debounce as a duration.
func (w WatchOptions) Debounce() time.Duration {
	return time.Duration(w.DebounceMS) * time.Millisecond
}

// DefaultOptions returns the options used when nothing overrides them.
func DefaultOptions() Options {
	return Options{
		LogLevel:  "info",
		LogFormat: string(logging.FormatText),
		User: UserOptions{
			Settings: filepath.Join(defaultUserConfigDir(), "settings.json"),
		},
		Cache: CacheOptions{
			Backend: CacheDir,
			Path:    defaultCacheDir(),
		},
		Watch: WatchOptions{
			Enabled:    true,
			DebounceMS: 100,
		},
		Workspace: WorkspaceOptions{
			Trusted:      true,
			FolderPolicy: "drop",
		},
	}
}

// envMapping covers the variables whose names do not follow the
// section_field convention.
var envMapping = map[string]string{
	EnvPrefix + "CONFIG":           "",
	EnvPrefix + "LOG_LEVEL":        "log_level",
	EnvPrefix + "LOG_FORMAT":       "log_format",
	EnvPrefix + "TRUSTED":          "workspace.trusted",
	EnvPrefix + "FOLDER_POLICY":    "workspace.folder_policy",
	EnvPrefix + "STRICT_OVERRIDES": "workspace.strict_overrides",
}

// LoadOptions reads the options file at path, applies LAYERCONF_*
// environment overrides and decodes the result over DefaultOptions. A
// missing file is not an error.
func LoadOptions(fs vfs.VFS, path string) (Options, error) {
	if fs == nil {
		fs = vfs.NewOSFS()
	}
	merged, err := loader.LoadAll(
		loader.NewTOMLLoaderWithFS(fs, path),
		loader.NewEnvLoader(EnvPrefix, envMapping),
	)
	if err != nil {
		return Options{}, err
	}

	opts := DefaultOptions()
	if len(merged) > 0 {
		if err := loader.Decode(merged, &opts); err != nil {
			return Options{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks the enumerated fields.
func (o Options) Validate() error {
	switch o.Cache.Backend {
	case "", CacheNone, CacheDir, CacheSQLite:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidOptions, o.Cache.Backend)
	}
	if _, err := parseFolderPolicy(o.Workspace.FolderPolicy); err != nil {
		return err
	}
	if o.Watch.DebounceMS < 0 {
		return fmt.Errorf("%w: negative debounce %d", ErrInvalidOptions, o.Watch.DebounceMS)
	}
	if o.Remote.Authority != "" && o.Remote.Settings == "" {
		return fmt.Errorf("%w: remote authority %q has no settings path", ErrInvalidOptions, o.Remote.Authority)
	}
	return nil
}

func parseFolderPolicy(s string) (service.FolderPolicy, error) {
	switch strings.ToLower(s) {
	case "", "drop":
		return service.DropInvalidFolders, nil
	case "strict":
		return service.StrictFolders, nil
	}
	return 0, fmt.Errorf("%w: unknown folder policy %q", ErrInvalidOptions, s)
}

// Option adjusts Options before an Engine is built.
type Option func(*Options)

// WithOptions replaces the options wholesale, typically with the result of
// LoadOptions. Later options still apply on top.
func WithOptions(o Options) Option {
	return func(opts *Options) {
		*opts = o
	}
}

// WithFS sets the file system settings are read from and written to.
func WithFS(fs vfs.VFS) Option {
	return func(o *Options) {
		o.FS = fs
	}
}

// WithRegistry sets the settings registry.
func WithRegistry(reg *registry.Registry) Option {
	return func(o *Options) {
		o.Registry = reg
	}
}

// WithLogger sets the logger. It takes precedence over the log level.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithLogLevel sets the level of the logger built by the engine.
func WithLogLevel(level string) Option {
	return func(o *Options) {
		o.LogLevel = level
	}
}

// WithUserSettings sets the local user settings file.
func WithUserSettings(path string) Option {
	return func(o *Options) {
		o.User.Settings = path
	}
}

// WithRemote enables the remote user layer.
func WithRemote(authority, settingsPath string) Option {
	return func(o *Options) {
		o.Remote = RemoteOptions{Authority: authority, Settings: settingsPath}
	}
}

// WithCache selects the cache backend and its location.
func WithCache(backend, path string) Option {
	return func(o *Options) {
		o.Cache = CacheOptions{Backend: backend, Path: path}
	}
}

// WithWatch enables or disables live reload.
func WithWatch(enabled bool, debounce time.Duration) Option {
	return func(o *Options) {
		o.Watch = WatchOptions{Enabled: enabled, DebounceMS: int(debounce / time.Millisecond)}
	}
}

// WithTrust sets the initial workspace trust.
func WithTrust(trusted bool) Option {
	return func(o *Options) {
		o.Workspace.Trusted = trusted
	}
}

// WithFolderPolicy sets how invalid folders are handled: "drop" or
// "strict".
func WithFolderPolicy(policy string) Option {
	return func(o *Options) {
		o.Workspace.FolderPolicy = policy
	}
}

// WithStrictOverrides drops unregistered keys inside override sections.
func WithStrictOverrides(strict bool) Option {
	return func(o *Options) {
		o.Workspace.StrictOverrides = strict
	}
}

func defaultUserConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "layerconf")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "layerconf")
	}
	return ".layerconf"
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "layerconf")
	}
	return filepath.Join(defaultUserConfigDir(), "cache")
}
