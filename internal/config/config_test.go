package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/config/service"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
	"github.com/dshills/layerconf/internal/project/workspace"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(
		registry.Setting{Key: "editor.tabSize", Type: registry.TypeInt, Default: float64(4), Scope: registry.ScopeLanguageOverridable},
		registry.Setting{Key: "editor.fontFamily", Type: registry.TypeString, Default: "mono", Scope: registry.ScopeWindow},
		registry.Setting{Key: "files.trim", Type: registry.TypeBool, Default: false, Scope: registry.ScopeResource},
		registry.Setting{Key: "files.exclude", Type: registry.TypeArray, Default: []any{".git"}, Scope: registry.ScopeResource},
	)
	return reg
}

func newMemEngine(t *testing.T, fs *vfs.MemFS, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithFS(fs),
		WithRegistry(testRegistry()),
		WithLogger(logging.Nop()),
		WithUserSettings("/home/u/settings.json"),
		WithCache(CacheNone, ""),
		WithWatch(false, 0),
	}
	e, err := New(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestLoadOptions_Defaults(t *testing.T) {
	opts, err := LoadOptions(vfs.NewMemFS(), "/missing.toml")
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	want := DefaultOptions()
	if diff := cmp.Diff(want, opts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
	if !opts.Workspace.Trusted {
		t.Error("workspace should be trusted by default")
	}
}

func TestLoadOptions_FileAndEnv(t *testing.T) {
	fs := vfs.NewMemFS()
	fs.AddFile("/etc/layerconf.toml", `
log_level = "debug"

[user]
settings = "/home/u/settings.json"

[cache]
backend = "sqlite"
path = "/var/cache/layerconf.db"

[watch]
debounce_ms = 250

[workspace]
folder_policy = "strict"
`)
	t.Setenv("LAYERCONF_TRUSTED", "false")
	t.Setenv("LAYERCONF_CACHE_PATH", "/env/cache.db")
	t.Setenv("LAYERCONF_CONFIG", "/etc/layerconf.toml")

	opts, err := LoadOptions(fs, "/etc/layerconf.toml")
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}

	if opts.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", opts.LogLevel)
	}
	if opts.User.Settings != "/home/u/settings.json" {
		t.Errorf("User.Settings = %q", opts.User.Settings)
	}
	want := CacheOptions{Backend: CacheSQLite, Path: "/env/cache.db"}
	if diff := cmp.Diff(want, opts.Cache); diff != "" {
		t.Errorf("cache mismatch (-want +got):\n%s", diff)
	}
	if opts.Watch.Debounce() != 250*time.Millisecond {
		t.Errorf("Debounce = %v, want 250ms", opts.Watch.Debounce())
	}
	if !opts.Watch.Enabled {
		t.Error("watch should stay enabled when the file does not mention it")
	}
	if opts.Workspace.Trusted {
		t.Error("LAYERCONF_TRUSTED=false should disable trust")
	}
	if opts.Workspace.FolderPolicy != "strict" {
		t.Errorf("FolderPolicy = %q, want strict", opts.Workspace.FolderPolicy)
	}
}

func TestLoadOptions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "[cache]\nbackend = \"redis\"\n"},
		{"unknown policy", "[workspace]\nfolder_policy = \"maybe\"\n"},
		{"unknown field", "colour = \"blue\"\n"},
		{"negative debounce", "[watch]\ndebounce_ms = -1\n"},
		{"remote without settings", "[remote]\nauthority = \"ssh-remote+box\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := vfs.NewMemFS()
			fs.AddFile("/layerconf.toml", tt.content)
			_, err := LoadOptions(fs, "/layerconf.toml")
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("LoadOptions error = %v, want ErrInvalidOptions", err)
			}
		})
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(context.Background(), WithLogger(logging.Nop()), WithFolderPolicy("sometimes"))
	if !errors.Is(err, ErrInvalidOptions) {
		t.Errorf("New error = %v, want ErrInvalidOptions", err)
	}
}

func TestEngine_SingleFolder(t *testing.T) {
	fs := vfs.NewMemFS()
	fs.AddFile("/home/u/settings.json", `{
		// comments are allowed
		"editor.tabSize": 2,
		"editor.fontFamily": "fira",
		"[go]": {"editor.tabSize": 8}
	}`)
	fs.AddFile("/proj/.layerconf/settings.json", `{"editor.fontFamily": "iosevka", "files.exclude": ["bin", "obj"]}`)

	e := newMemEngine(t, fs)
	ctx := context.Background()
	if err := e.Open(ctx, workspace.NewSingleFolderIdentifier("/proj")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := e.Service().GetWorkbenchState(); got != workspace.StateFolder {
		t.Fatalf("state = %v, want folder", got)
	}

	tabSize, err := e.GetInt("editor.tabSize", model.Overrides{})
	if err != nil || tabSize != 2 {
		t.Errorf("GetInt(editor.tabSize) = %d, %v; want 2", tabSize, err)
	}
	goTab, err := e.GetInt("editor.tabSize", model.Overrides{OverrideIdentifier: "go"})
	if err != nil || goTab != 8 {
		t.Errorf("GetInt(editor.tabSize, go) = %d, %v; want 8", goTab, err)
	}
	font, err := e.GetString("editor.fontFamily", model.Overrides{Resource: "/proj/main.go"})
	if err != nil || font != "iosevka" {
		t.Errorf("GetString(editor.fontFamily) = %q, %v; want iosevka", font, err)
	}
	exclude, err := e.GetStringSlice("files.exclude", model.Overrides{})
	if err != nil {
		t.Fatalf("GetStringSlice: %v", err)
	}
	if diff := cmp.Diff([]string{"bin", "obj"}, exclude); diff != "" {
		t.Errorf("files.exclude mismatch (-want +got):\n%s", diff)
	}
	trim, err := e.GetBool("files.trim", model.Overrides{})
	if err != nil || trim {
		t.Errorf("GetBool(files.trim) = %v, %v; want false", trim, err)
	}
}

func TestEngine_GetErrors(t *testing.T) {
	fs := vfs.NewMemFS()
	e := newMemEngine(t, fs)
	if err := e.Open(context.Background(), workspace.NewEmptyIdentifier()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := e.Get("no.such.key", model.Overrides{}); !errors.Is(err, ErrSettingNotFound) {
		t.Errorf("Get(no.such.key) error = %v, want ErrSettingNotFound", err)
	}
	if _, err := e.GetBool("editor.fontFamily", model.Overrides{}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetBool(editor.fontFamily) error = %v, want ErrTypeMismatch", err)
	}
	var terr *TypeError
	if _, err := e.GetString("editor.tabSize", model.Overrides{}); !errors.As(err, &terr) {
		t.Errorf("GetString(editor.tabSize) error = %v, want *TypeError", err)
	} else if terr.Actual != "number" {
		t.Errorf("TypeError.Actual = %q, want number", terr.Actual)
	}
}

func TestEngine_WriteThroughEditor(t *testing.T) {
	fs := vfs.NewMemFS()
	fs.AddFile("/home/u/settings.json", `{}`)
	fs.MkdirAll("/proj", 0o755)

	e := newMemEngine(t, fs)
	ctx := context.Background()
	if err := e.Open(ctx, workspace.NewSingleFolderIdentifier("/proj")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := e.Service().UpdateValue(ctx, "editor.tabSize", 3, model.Overrides{}, service.TargetWorkspace); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if got, _ := e.GetInt("editor.tabSize", model.Overrides{}); got != 3 {
		t.Errorf("editor.tabSize = %d, want 3", got)
	}
	if _, err := fs.ReadFile("/proj/.layerconf/settings.json"); err != nil {
		t.Errorf("folder settings file not written: %v", err)
	}
}

func TestEngine_SQLiteCache(t *testing.T) {
	dir := t.TempDir()
	e, err := New(context.Background(),
		WithFS(vfs.NewMemFS()),
		WithRegistry(testRegistry()),
		WithLogger(logging.Nop()),
		WithUserSettings("/home/u/settings.json"),
		WithCache(CacheSQLite, filepath.Join(dir, "cache.db")),
		WithWatch(false, 0),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.cache == nil {
		t.Fatal("sqlite cache not opened")
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
		t.Errorf("cache database not created: %v", err)
	}
}

func TestEngine_LiveReload(t *testing.T) {
	dir := t.TempDir()
	userFile := filepath.Join(dir, "settings.json")
	if err := os.WriteFile(userFile, []byte(`{"editor.tabSize": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	e, err := New(context.Background(),
		WithRegistry(testRegistry()),
		WithLogger(logging.Nop()),
		WithUserSettings(userFile),
		WithCache(CacheDir, filepath.Join(dir, "cache")),
		WithWatch(true, 10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	changed := make(chan service.ChangeEvent, 8)
	e.Service().OnDidChangeConfiguration().Subscribe(func(ev service.ChangeEvent) {
		changed <- ev
	})
	if err := e.Open(context.Background(), workspace.NewEmptyIdentifier()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	<-changed

	if err := os.WriteFile(userFile, []byte(`{"editor.tabSize": 6}`), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-changed:
			if !ev.AffectsConfiguration("editor.tabSize", model.Overrides{}) {
				continue
			}
			if got, _ := e.GetInt("editor.tabSize", model.Overrides{}); got != 6 {
				t.Errorf("editor.tabSize = %d after reload, want 6", got)
			}
			return
		case <-deadline:
			t.Fatal("no change event after editing the user settings file")
		}
	}
}
