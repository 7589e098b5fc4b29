package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/layerconf/internal/config/editing"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/config/watcher"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/vfs"
	"github.com/dshills/layerconf/internal/project/workspace"
)

const (
	userPath      = "/home/u/settings.json"
	workspacePath = "/ws/test.code-workspace"
)

func testRegistry() *registry.Registry {
	reg := registry.New()
	reg.MustRegister(
		registry.Setting{Key: "x", Type: registry.TypeNumber, Default: float64(0), Scope: registry.ScopeResource},
		registry.Setting{Key: "y", Type: registry.TypeString, Default: "def", Scope: registry.ScopeWindow},
		registry.Setting{Key: "r", Type: registry.TypeBool, Default: false, Scope: registry.ScopeResource, Restricted: true},
		registry.Setting{Key: "editor.tabSize", Type: registry.TypeInt, Default: float64(4), Scope: registry.ScopeLanguageOverridable},
	)
	return reg
}

type harness struct {
	t   *testing.T
	fs  *vfs.MemFS
	reg *registry.Registry
	svc *WorkspaceService

	mu     sync.Mutex
	events []ChangeEvent
}

func newHarness(t *testing.T, fs *vfs.MemFS, modify func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, fs: fs, reg: testRegistry()}
	opts := Options{
		FS:               fs,
		Registry:         h.reg,
		Logger:           logging.Nop(),
		UserSettingsPath: userPath,
		Trusted:          true,
	}
	if modify != nil {
		modify(&opts)
	}
	h.svc = New(opts)
	t.Cleanup(func() { h.svc.Close() })

	editor := editing.NewConfigurationEditor(editing.NewJSONEditor(fs), h.reg, h.svc,
		editing.Paths{UserLocal: opts.UserSettingsPath, UserRemote: opts.RemoteSettingsPath}, logging.Nop())
	h.svc.AttachWriteBackend(editor)

	h.svc.OnDidChangeConfiguration().Subscribe(func(e ChangeEvent) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	return h
}

func (h *harness) init(id workspace.Identifier) {
	h.t.Helper()
	if err := h.svc.Initialize(context.Background(), id); err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	h.reset()
}

func (h *harness) reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}

// keys returns the keys of every event since the last reset.
func (h *harness) keys() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out [][]string
	for _, e := range h.events {
		out = append(out, e.Keys)
	}
	return out
}

func multiRootFS() *vfs.MemFS {
	fs := vfs.NewMemFS()
	fs.AddFile(userPath, `{"x": 1, "y": "user"}`)
	fs.AddFile(workspacePath, `{
		"folders": [{"path": "a"}, {"path": "b"}],
		"settings": {"x": 2},
	}`)
	fs.AddFile("/ws/a/.layerconf/settings.json", `{"x": 3}`)
	_ = fs.MkdirAll("/ws/b", 0o755)
	return fs
}

func TestInitialize_MultiRoot(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)

	var initial []ChangeEvent
	h.svc.OnDidChangeConfiguration().Subscribe(func(e ChangeEvent) { initial = append(initial, e) })
	if err := h.svc.Initialize(context.Background(), workspace.NewMultiRootIdentifier(workspacePath)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := h.svc.State(); got != StateReady {
		t.Errorf("State() = %v, want ready", got)
	}
	if got := h.svc.GetWorkbenchState(); got != workspace.StateWorkspace {
		t.Errorf("GetWorkbenchState() = %v, want workspace", got)
	}
	if len(initial) != 1 {
		t.Fatalf("got %d initial events, want 1", len(initial))
	}
	if diff := cmp.Diff([]string{"editor.tabSize", "r", "x", "y"}, initial[0].Keys); diff != "" {
		t.Errorf("initial keys mismatch (-want +got):\n%s", diff)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ws, err := h.svc.GetCompleteWorkspace(ctx)
	if err != nil {
		t.Fatalf("GetCompleteWorkspace: %v", err)
	}
	var paths []string
	for _, f := range ws.Folders() {
		paths = append(paths, f.Path)
	}
	if diff := cmp.Diff([]string{"/ws/a", "/ws/b"}, paths); diff != "" {
		t.Errorf("folders mismatch (-want +got):\n%s", diff)
	}
	if err := h.svc.WhenRemoteConfigurationLoaded(ctx); err != nil {
		t.Errorf("WhenRemoteConfigurationLoaded: %v", err)
	}
	if !h.svc.IsCurrentWorkspace(workspace.NewMultiRootIdentifier(workspacePath)) {
		t.Error("IsCurrentWorkspace(own identifier) = false")
	}
	if !h.svc.IsInsideWorkspace("/ws/a/main.go") || h.svc.IsInsideWorkspace("/elsewhere") {
		t.Error("IsInsideWorkspace mismatch")
	}
}

func TestPrecedence(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	tests := []struct {
		name      string
		key       string
		overrides model.Overrides
		want      any
	}{
		{"default only", "editor.tabSize", model.Overrides{}, float64(4)},
		{"user over default", "y", model.Overrides{}, "user"},
		{"workspace over user", "x", model.Overrides{}, float64(2)},
		{"folder over workspace", "x", model.Overrides{Resource: "/ws/a/main.go"}, float64(3)},
		{"folder without settings", "x", model.Overrides{Resource: "/ws/b/main.go"}, float64(2)},
		{"folder uri", "x", model.Overrides{Resource: workspace.PathToURI("/ws/a")}, float64(3)},
		{"outside folders", "x", model.Overrides{Resource: "/tmp/file"}, float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, h.svc.GetValue(tt.key, tt.overrides)); diff != "" {
				t.Errorf("GetValue(%q) mismatch (-want +got):\n%s", tt.key, diff)
			}
		})
	}

	inspect := h.svc.Inspect("x", model.Overrides{Resource: "/ws/a"})
	want := []any{float64(0), float64(1), float64(2), float64(3), float64(3)}
	got := []any{inspect.DefaultValue, inspect.UserLocalValue, inspect.WorkspaceValue, inspect.WorkspaceFolderValue, inspect.Value}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Inspect(x) mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateValue_RoundTrip(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	if err := h.svc.UpdateValue(ctx, "y", "new", model.Overrides{}, 0); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if err := h.svc.ReloadConfiguration(ctx, 0); err != nil {
		t.Fatalf("ReloadConfiguration: %v", err)
	}
	if got := h.svc.GetValue("y", model.Overrides{}); got != "new" {
		t.Errorf("y = %v, want new", got)
	}

	// The default value at user scope removes the key.
	if err := h.svc.UpdateValue(ctx, "y", "def", model.Overrides{}, 0); err != nil {
		t.Fatalf("UpdateValue(default): %v", err)
	}
	if got := h.svc.Inspect("y", model.Overrides{}).UserLocalValue; got != nil {
		t.Errorf("user value after default write = %v, want nil", got)
	}
	if got := h.svc.GetValue("y", model.Overrides{}); got != "def" {
		t.Errorf("y = %v, want def", got)
	}
	content, _ := h.fs.ReadFile(userPath)
	if strings.Contains(string(content), `"y"`) {
		t.Errorf("user file still holds y: %s", content)
	}
}

func TestUpdateValue_Targets(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     any
		overrides model.Overrides
		target    Target
		file      string
		want      any
	}{
		{"derived most specific layer", "x", float64(7), model.Overrides{Resource: "/ws/a/f"}, 0, "/ws/a/.layerconf/settings.json", float64(7)},
		{"derived workspace", "x", float64(8), model.Overrides{}, 0, workspacePath, float64(8)},
		{"explicit folder", "x", float64(9), model.Overrides{Resource: "/ws/b/f"}, TargetWorkspaceFolder, "/ws/b/.layerconf/settings.json", float64(9)},
		{"language override", "editor.tabSize", float64(2), model.Overrides{OverrideIdentifier: "go"}, TargetUserLocal, userPath, float64(2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, multiRootFS(), nil)
			h.init(workspace.NewMultiRootIdentifier(workspacePath))

			if err := h.svc.UpdateValue(context.Background(), tt.key, tt.value, tt.overrides, tt.target); err != nil {
				t.Fatalf("UpdateValue: %v", err)
			}
			if got := h.svc.GetValue(tt.key, tt.overrides); !model.Equal(got, tt.want) {
				t.Errorf("GetValue = %v, want %v", got, tt.want)
			}
			if !vfs.Exists(h.fs, tt.file) {
				t.Errorf("%s not written", tt.file)
			}
			if len(h.keys()) != 1 {
				t.Errorf("got %d events, want 1", len(h.keys()))
			}
		})
	}
}

func TestUpdateValue_OverrideIdentifier(t *testing.T) {
	goOverrides := model.Overrides{OverrideIdentifier: "go"}
	tests := []struct {
		name      string
		setup     func(fs *vfs.MemFS)
		overrides model.Overrides
		target    Target
		file      string
	}{
		{
			name:      "existing user section",
			setup:     func(fs *vfs.MemFS) { fs.AddFile(userPath, `{"[go]": {"editor.tabSize": 2}}`) },
			overrides: goOverrides,
			target:    TargetUserLocal,
			file:      userPath,
		},
		{
			name:      "new user section",
			overrides: goOverrides,
			target:    TargetUserLocal,
			file:      userPath,
		},
		{
			name: "workspace section",
			setup: func(fs *vfs.MemFS) {
				fs.AddFile(workspacePath, `{"folders": [{"path": "a"}], "settings": {"[go]": {"editor.tabSize": 2}}}`)
			},
			overrides: goOverrides,
			target:    TargetWorkspace,
			file:      workspacePath,
		},
		{
			name:   "nested user value",
			setup:  func(fs *vfs.MemFS) { fs.AddFile(userPath, `{"editor": {"tabSize": 2}}`) },
			target: TargetUserLocal,
			file:   userPath,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := multiRootFS()
			if tt.setup != nil {
				tt.setup(fs)
			}
			h := newHarness(t, fs, nil)
			h.init(workspace.NewMultiRootIdentifier(workspacePath))
			ctx := context.Background()

			if err := h.svc.UpdateValue(ctx, "editor.tabSize", 8, tt.overrides, tt.target); err != nil {
				t.Fatalf("UpdateValue: %v", err)
			}
			if err := h.svc.ReloadConfiguration(ctx, 0); err != nil {
				t.Fatalf("ReloadConfiguration: %v", err)
			}
			if got := h.svc.GetValue("editor.tabSize", tt.overrides); !model.Equal(got, float64(8)) {
				t.Errorf("editor.tabSize = %v after write, want 8", got)
			}
			content, _ := h.fs.ReadFile(tt.file)
			if tt.overrides.OverrideIdentifier != "" {
				if n := strings.Count(string(content), `"[go]"`); n != 1 {
					t.Errorf("%s holds %d [go] sections, want 1: %s", tt.file, n, content)
				}
			}

			if err := h.svc.UpdateValue(ctx, "editor.tabSize", nil, tt.overrides, tt.target); err != nil {
				t.Fatalf("UpdateValue(nil): %v", err)
			}
			if err := h.svc.ReloadConfiguration(ctx, 0); err != nil {
				t.Fatalf("ReloadConfiguration: %v", err)
			}
			if got := h.svc.GetValue("editor.tabSize", tt.overrides); !model.Equal(got, float64(4)) {
				t.Errorf("editor.tabSize = %v after removal, want the default 4", got)
			}
			content, _ = h.fs.ReadFile(tt.file)
			if strings.Contains(string(content), "tabSize") {
				t.Errorf("%s still holds tabSize: %s", tt.file, content)
			}
		})
	}
}

func TestUpdateValue_RemoveFromAllLayers(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	overrides := model.Overrides{Resource: "/ws/a/f"}
	if err := h.svc.UpdateValue(context.Background(), "x", nil, overrides, 0); err != nil {
		t.Fatalf("UpdateValue(nil): %v", err)
	}
	inspect := h.svc.Inspect("x", overrides)
	if inspect.UserLocalValue != nil || inspect.WorkspaceValue != nil || inspect.WorkspaceFolderValue != nil {
		t.Errorf("layers still define x: %+v", inspect)
	}
	if got := h.svc.GetValue("x", overrides); got != float64(0) {
		t.Errorf("x = %v, want default 0", got)
	}
}

func TestUpdateValue_Errors(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	for _, target := range []Target{TargetDefault, TargetUserRemote} {
		if err := h.svc.UpdateValue(ctx, "x", float64(1), model.Overrides{}, target); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("UpdateValue(%s) error = %v, want ErrInvalidTarget", target, err)
		}
	}

	err := h.svc.UpdateValue(ctx, "unknown.key", 1, model.Overrides{}, TargetUserLocal)
	var editErr *editing.EditError
	if !errors.As(err, &editErr) || editErr.Code != editing.CodeUnknownKey {
		t.Errorf("UpdateValue(unknown) error = %v, want CodeUnknownKey", err)
	}
	if len(h.keys()) != 0 {
		t.Errorf("failed writes fired events: %v", h.keys())
	}
}

type failingBackend struct{ err error }

func (b failingBackend) WriteConfiguration(context.Context, editing.Target, string, any, model.Overrides) error {
	return b.err
}

func (b failingBackend) SetFolders(context.Context, string, []workspace.StoredFolder) error {
	return b.err
}

func TestUpdateValue_WriteFailureLeavesState(t *testing.T) {
	fs := multiRootFS()
	svc := New(Options{FS: fs, Registry: testRegistry(), UserSettingsPath: userPath, Trusted: true})
	defer svc.Close()
	if err := svc.Initialize(context.Background(), workspace.NewMultiRootIdentifier(workspacePath)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	errDisk := errors.New("disk full")
	svc.AttachWriteBackend(failingBackend{err: errDisk})

	if err := svc.UpdateValue(context.Background(), "y", "new", model.Overrides{}, 0); !errors.Is(err, errDisk) {
		t.Fatalf("UpdateValue error = %v, want %v", err, errDisk)
	}
	if got := svc.GetValue("y", model.Overrides{}); got != "user" {
		t.Errorf("y = %v, want user", got)
	}
}

func TestUpdateValue_WaitsForBackend(t *testing.T) {
	fs := multiRootFS()
	svc := New(Options{FS: fs, Registry: testRegistry(), UserSettingsPath: userPath})
	defer svc.Close()
	if err := svc.Initialize(context.Background(), workspace.NewMultiRootIdentifier(workspacePath)); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if got := svc.GetValue("y", model.Overrides{}); got != "user" {
		t.Errorf("reads blocked or wrong before backend: y = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := svc.UpdateValue(ctx, "y", "new", model.Overrides{}, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("UpdateValue before backend = %v, want deadline exceeded", err)
	}
}

func TestUpdateValue_Memory(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	if err := h.svc.UpdateValue(ctx, "x", float64(10), model.Overrides{}, TargetMemory); err != nil {
		t.Fatalf("UpdateValue(memory): %v", err)
	}
	if got := h.svc.GetValue("x", model.Overrides{}); got != float64(10) {
		t.Errorf("x = %v, want 10", got)
	}
	if got := h.svc.GetValue("x", model.Overrides{Resource: "/ws/a/f"}); got != float64(10) {
		t.Errorf("x in folder a = %v, want memory value 10", got)
	}
	content, _ := h.fs.ReadFile(userPath)
	if strings.Contains(string(content), "10") {
		t.Errorf("memory write reached user file: %s", content)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Source != TargetMemory {
		t.Fatalf("events = %+v, want one memory event", h.events)
	}
	if !h.events[0].AffectsConfiguration("x", model.Overrides{Resource: "/ws/b/f"}) {
		t.Error("memory event does not affect x in folder b")
	}
}

func TestChangeEvents_NetEffect(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	// Shadowed by the workspace value.
	h.fs.AddFile(userPath, `{"x": 5, "y": "user"}`)
	if err := h.svc.ReloadConfiguration(ctx, TargetUserLocal); err != nil {
		t.Fatal(err)
	}
	if got := h.keys(); len(got) != 0 {
		t.Errorf("shadowed change fired %v", got)
	}

	// Change at the winning layer.
	h.fs.AddFile(workspacePath, `{"folders": [{"path": "a"}, {"path": "b"}], "settings": {"x": 6}}`)
	if err := h.svc.ReloadConfiguration(ctx, TargetWorkspace); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]string{{"x"}}, h.keys()); diff != "" {
		t.Errorf("winning change mismatch (-want +got):\n%s", diff)
	}

	// Removal exposes the shadowed user value.
	h.reset()
	h.fs.AddFile(workspacePath, `{"folders": [{"path": "a"}, {"path": "b"}], "settings": {}}`)
	if err := h.svc.ReloadConfiguration(ctx, TargetWorkspace); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]string{{"x"}}, h.keys()); diff != "" {
		t.Errorf("exposing change mismatch (-want +got):\n%s", diff)
	}
	if got := h.svc.GetValue("x", model.Overrides{}); got != float64(5) {
		t.Errorf("x = %v, want 5", got)
	}
}

func TestReloadConfiguration_Idempotent(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	var restricted int
	h.svc.OnDidChangeRestrictedSettings().Subscribe(func(RestrictedSettings) { restricted++ })

	for i := 0; i < 2; i++ {
		if err := h.svc.ReloadConfiguration(ctx, 0); err != nil {
			t.Fatalf("ReloadConfiguration #%d: %v", i, err)
		}
	}
	if got := h.keys(); len(got) != 0 {
		t.Errorf("reload without changes fired %v", got)
	}
	if restricted != 0 {
		t.Errorf("restricted settings fired %d times", restricted)
	}
}

func TestReloadConfiguration_Targets(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	if err := h.svc.ReloadConfiguration(ctx, TargetMemory); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("ReloadConfiguration(memory) = %v, want ErrInvalidTarget", err)
	}
	if err := h.svc.ReloadConfiguration(ctx, TargetUserRemote); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("ReloadConfiguration(userRemote) = %v, want ErrInvalidTarget", err)
	}
	if err := h.svc.ReloadFolder(ctx, "/nope"); !errors.Is(err, workspace.ErrFolderNotFound) {
		t.Errorf("ReloadFolder(/nope) = %v, want ErrFolderNotFound", err)
	}

	h.fs.AddFile("/ws/b/.layerconf/settings.json", `{"x": 4}`)
	if err := h.svc.ReloadFolder(ctx, workspace.PathToURI("/ws/b")); err != nil {
		t.Fatalf("ReloadFolder: %v", err)
	}
	if got := h.svc.GetValue("x", model.Overrides{Resource: "/ws/b/f"}); got != float64(4) {
		t.Errorf("x in b = %v, want 4", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Source != TargetWorkspaceFolder {
		t.Fatalf("events = %+v, want one folder event", h.events)
	}
	e := h.events[0]
	if !e.AffectsConfiguration("x", model.Overrides{Resource: "/ws/b/f"}) {
		t.Error("event does not affect x in b")
	}
	if e.AffectsConfiguration("x", model.Overrides{Resource: "/ws/a/f"}) {
		t.Error("event affects x in a")
	}
}

func TestDefaultsChanged(t *testing.T) {
	fs := multiRootFS()
	fs.AddFile(workspacePath, `{"folders": [{"path": "a"}], "settings": {"x": 2, "late.machine": 1}}`)
	h := newHarness(t, fs, nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	// Unregistered keys are kept as written.
	if got := h.svc.GetValue("late.machine", model.Overrides{}); got != float64(1) {
		t.Fatalf("late.machine = %v, want 1", got)
	}

	h.reg.MustRegister(
		registry.Setting{Key: "late.flag", Type: registry.TypeBool, Default: true},
		registry.Setting{Key: "late.machine", Type: registry.TypeNumber, Default: float64(0), Scope: registry.ScopeMachine},
	)

	if got := h.svc.GetValue("late.flag", model.Overrides{}); got != true {
		t.Errorf("late.flag = %v, want true", got)
	}
	// Machine settings are not read from workspace settings.
	if got := h.svc.GetValue("late.machine", model.Overrides{}); got != float64(0) {
		t.Errorf("late.machine = %v, want default 0", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Source != TargetDefault {
		t.Fatalf("events = %+v, want one default event", h.events)
	}
	if diff := cmp.Diff([]string{"late.flag", "late.machine"}, h.events[0].Keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkspaceTrust(t *testing.T) {
	tests := []struct {
		name     string
		settings string
		want     any
	}{
		{"value changes", `{"r": true}`, true},
		{"value equals default", `{"r": false}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := vfs.NewMemFS()
			fs.AddFile("/ws/a/.layerconf/settings.json", tt.settings)
			h := newHarness(t, fs, func(o *Options) { o.Trusted = false })
			h.init(workspace.NewSingleFolderIdentifier("/ws/a"))

			if got := h.svc.Inspect("r", model.Overrides{Resource: "/ws/a"}).WorkspaceFolderValue; got != nil {
				t.Errorf("untrusted folder value = %v, want nil", got)
			}
			restricted := h.svc.RestrictedSettings()
			if diff := cmp.Diff([]string{"r"}, restricted.Workspace); diff != "" {
				t.Errorf("restricted workspace mismatch (-want +got):\n%s", diff)
			}

			h.svc.UpdateWorkspaceTrust(true)

			if got := h.svc.GetValue("r", model.Overrides{Resource: "/ws/a"}); got != tt.want {
				t.Errorf("r = %v, want %v", got, tt.want)
			}
			if diff := cmp.Diff([][]string{{"r"}}, h.keys()); diff != "" {
				t.Errorf("trust event mismatch (-want +got):\n%s", diff)
			}

			h.reset()
			h.svc.UpdateWorkspaceTrust(true)
			if got := h.keys(); len(got) != 0 {
				t.Errorf("unchanged trust fired %v", got)
			}
		})
	}
}

func TestEmptyToFolder(t *testing.T) {
	fs := vfs.NewMemFS()
	fs.AddFile("/ws/a/.layerconf/settings.json", `{"x": 1}`)
	h := newHarness(t, fs, nil)
	h.init(workspace.NewEmptyIdentifier())

	var states []workspace.WorkbenchState
	h.svc.OnDidChangeWorkbenchState().Subscribe(func(s workspace.WorkbenchState) { states = append(states, s) })

	if got := h.svc.GetWorkbenchState(); got != workspace.StateEmpty {
		t.Fatalf("initial state = %v, want empty", got)
	}
	if err := h.svc.AddFolders(context.Background(), []workspace.FolderCreationData{{Path: "/ws/a"}}, -1); err != nil {
		t.Fatalf("AddFolders: %v", err)
	}
	if got := h.svc.GetWorkbenchState(); got != workspace.StateFolder {
		t.Errorf("state = %v, want folder", got)
	}
	if got := h.svc.GetValue("x", model.Overrides{}); got != float64(1) {
		t.Errorf("x = %v, want 1", got)
	}
	if diff := cmp.Diff([]workspace.WorkbenchState{workspace.StateFolder}, states); diff != "" {
		t.Errorf("state events mismatch (-want +got):\n%s", diff)
	}
	if !h.svc.IsCurrentWorkspace(workspace.NewSingleFolderIdentifier("/ws/a")) {
		t.Error("IsCurrentWorkspace(folder) = false")
	}
}

func TestSingleFolder_WorkspaceWrite(t *testing.T) {
	fs := vfs.NewMemFS()
	_ = fs.MkdirAll("/ws/a", 0o755)
	h := newHarness(t, fs, nil)
	h.init(workspace.NewSingleFolderIdentifier("/ws/a"))

	if err := h.svc.UpdateValue(context.Background(), "y", "ws", model.Overrides{}, TargetWorkspace); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	if got := h.svc.Inspect("y", model.Overrides{}).WorkspaceValue; got != "ws" {
		t.Errorf("workspace value = %v, want ws", got)
	}
	if !vfs.Exists(fs, "/ws/a/.layerconf/settings.json") {
		t.Error("folder settings not written")
	}
}

func folderPaths(ws *workspace.Workspace) []string {
	var paths []string
	for _, f := range ws.Folders() {
		paths = append(paths, f.Path)
	}
	return paths
}

func TestUpdateFolders(t *testing.T) {
	tests := []struct {
		name    string
		add     []workspace.FolderCreationData
		remove  []string
		index   int
		want    []string
		changes bool
	}{
		{"append", []workspace.FolderCreationData{{Path: "/ws/c"}}, nil, -1, []string{"/ws/a", "/ws/b", "/ws/c"}, true},
		{"insert", []workspace.FolderCreationData{{Path: "/ws/c"}}, nil, 0, []string{"/ws/c", "/ws/a", "/ws/b"}, true},
		{"remove by uri", nil, []string{workspace.PathToURI("/ws/a")}, -1, []string{"/ws/b"}, true},
		{"remove and add", []workspace.FolderCreationData{{Path: "/ws/c"}}, []string{"/ws/b"}, -1, []string{"/ws/a", "/ws/c"}, true},
		{"existing folder", []workspace.FolderCreationData{{Path: "/ws/a"}}, nil, -1, []string{"/ws/a", "/ws/b"}, false},
		{"file dropped", []workspace.FolderCreationData{{Path: "/ws/file.txt"}}, nil, -1, []string{"/ws/a", "/ws/b"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := multiRootFS()
			_ = fs.MkdirAll("/ws/c", 0o755)
			fs.AddFile("/ws/file.txt", "")
			h := newHarness(t, fs, nil)
			h.init(workspace.NewMultiRootIdentifier(workspacePath))

			var changes []workspace.FoldersChange
			h.svc.OnDidChangeWorkspaceFolders().Subscribe(func(c workspace.FoldersChange) { changes = append(changes, c) })

			if err := h.svc.UpdateFolders(context.Background(), tt.add, tt.remove, tt.index); err != nil {
				t.Fatalf("UpdateFolders: %v", err)
			}
			if diff := cmp.Diff(tt.want, folderPaths(h.svc.GetWorkspace())); diff != "" {
				t.Errorf("folders mismatch (-want +got):\n%s", diff)
			}
			if got := len(changes) > 0; got != tt.changes {
				t.Errorf("folder change fired = %v, want %v", got, tt.changes)
			}
			if !tt.changes && len(h.keys()) != 0 {
				t.Errorf("no-op update fired %v", h.keys())
			}
		})
	}
}

func TestUpdateFolders_Strict(t *testing.T) {
	fs := multiRootFS()
	fs.AddFile("/ws/file.txt", "")
	h := newHarness(t, fs, func(o *Options) { o.FolderPolicy = StrictFolders })
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	err := h.svc.AddFolders(context.Background(), []workspace.FolderCreationData{{Path: "/ws/file.txt"}}, -1)
	if !errors.Is(err, ErrNotADirectory) {
		t.Errorf("AddFolders(file) = %v, want ErrNotADirectory", err)
	}
}

func TestUpdateFolders_RemovedFolderLayer(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	if err := h.svc.RemoveFolders(context.Background(), []string{"/ws/a"}); err != nil {
		t.Fatalf("RemoveFolders: %v", err)
	}
	if got := h.svc.GetValue("x", model.Overrides{Resource: "/ws/a/f"}); got != float64(2) {
		t.Errorf("x under removed folder = %v, want workspace value 2", got)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Source != TargetWorkspaceFolder {
		t.Fatalf("events = %+v, want one folder event", h.events)
	}
	if diff := cmp.Diff([]string{"x"}, h.events[0].Keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateFolders_Serialized(t *testing.T) {
	fs := vfs.NewMemFS()
	fs.AddFile(workspacePath, `{"folders": [{"path": "a"}]}`)
	for _, dir := range []string{"/ws/a", "/ws/b", "/ws/d"} {
		_ = fs.MkdirAll(dir, 0o755)
	}
	h := newHarness(t, fs, nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.svc.OnWillChangeWorkspaceFolders().Subscribe(func(e WillChangeFoldersEvent) {
		once.Do(func() {
			close(entered)
			e.Join(func(context.Context) error {
				<-release
				return nil
			})
		})
	})

	errs := make(chan error, 2)
	go func() {
		errs <- h.svc.UpdateFolders(ctx, []workspace.FolderCreationData{{Path: "/ws/b"}}, []string{"/ws/a"}, -1)
	}()
	<-entered
	go func() {
		errs <- h.svc.UpdateFolders(ctx, []workspace.FolderCreationData{{Path: "/ws/d"}}, []string{"/ws/b"}, -1)
	}()
	close(release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("UpdateFolders: %v", err)
		}
	}

	if diff := cmp.Diff([]string{"/ws/d"}, folderPaths(h.svc.GetWorkspace())); diff != "" {
		t.Errorf("folders mismatch (-want +got):\n%s", diff)
	}
	content, err := fs.ReadFile(workspacePath)
	if err != nil {
		t.Fatal(err)
	}
	file, err := workspace.ParseFile(content)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]workspace.StoredFolder{{Path: "d"}}, file.Folders); diff != "" {
		t.Errorf("stored folders mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkspaceFileChange(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	var changes []workspace.FoldersChange
	h.svc.OnDidChangeWorkspaceFolders().Subscribe(func(c workspace.FoldersChange) { changes = append(changes, c) })

	h.fs.AddFile(workspacePath, `{"folders": [{"path": "b"}], "settings": {"x": 2}}`)
	h.svc.handleFileEvent(watcher.Event{Path: workspacePath, Op: watcher.OpWrite})

	if diff := cmp.Diff([]string{"/ws/b"}, folderPaths(h.svc.GetWorkspace())); diff != "" {
		t.Errorf("folders mismatch (-want +got):\n%s", diff)
	}
	if len(changes) != 1 || len(changes[0].Removed) != 1 {
		t.Errorf("folder changes = %+v, want one removal", changes)
	}
	if got := h.svc.GetValue("x", model.Overrides{Resource: "/ws/a/f"}); got != float64(2) {
		t.Errorf("x = %v, want 2", got)
	}
}

func TestUserFileChange(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	h.fs.AddFile(userPath, `{"x": 1, "y": "edited"}`)
	h.svc.handleFileEvent(watcher.Event{Path: userPath, Op: watcher.OpWrite})

	if got := h.svc.GetValue("y", model.Overrides{}); got != "edited" {
		t.Errorf("y = %v, want edited", got)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) != 1 || h.events[0].Source != TargetUser {
		t.Fatalf("events = %+v, want one user event", h.events)
	}
	if got := h.events[0].SourceConfig["y"]; got != "edited" {
		t.Errorf("SourceConfig[y] = %v, want edited", got)
	}
	if got := h.events[0].Previous.Configuration().GetValue("y", model.Overrides{}); got != "user" {
		t.Errorf("previous y = %v, want user", got)
	}
}

func TestRemoteUser(t *testing.T) {
	fs := multiRootFS()
	fs.AddFile("/remote/settings.json", `{"y": "remote"}`)
	h := newHarness(t, fs, func(o *Options) {
		o.RemoteAuthority = "ssh-host"
		o.RemoteSettingsPath = "/remote/settings.json"
	})
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	if got := h.svc.GetValue("y", model.Overrides{}); got != "remote" {
		t.Errorf("y = %v, want remote", got)
	}

	// y is set remotely, so a user write goes to the remote file.
	if err := h.svc.UpdateValue(context.Background(), "y", "again", model.Overrides{}, TargetUser); err != nil {
		t.Fatalf("UpdateValue: %v", err)
	}
	inspect := h.svc.Inspect("y", model.Overrides{})
	if inspect.UserRemoteValue != "again" || inspect.UserLocalValue != "user" {
		t.Errorf("inspect = %+v", inspect)
	}
}

func TestRestrictedSettingsEvent(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	var got []RestrictedSettings
	h.svc.OnDidChangeRestrictedSettings().Subscribe(func(r RestrictedSettings) { got = append(got, r) })

	h.fs.AddFile("/ws/a/.layerconf/settings.json", `{"x": 3, "r": true}`)
	if err := h.svc.ReloadFolder(context.Background(), "/ws/a"); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d restricted events, want 1", len(got))
	}
	want := map[string][]string{workspace.PathToURI("/ws/a"): {"r"}}
	if diff := cmp.Diff(want, got[0].WorkspaceFolder); diff != "" {
		t.Errorf("WorkspaceFolder mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"r"}, got[0].Keys()); diff != "" {
		t.Errorf("Keys mismatch (-want +got):\n%s", diff)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, multiRootFS(), nil)
	h.init(workspace.NewMultiRootIdentifier(workspacePath))

	if err := h.svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.svc.UpdateValue(context.Background(), "y", "z", model.Overrides{}, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("UpdateValue after Close = %v, want ErrClosed", err)
	}
	if err := h.svc.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"", 0, false},
		{"auto", 0, false},
		{"User", TargetUser, false},
		{"workspaceFolder", TargetWorkspaceFolder, false},
		{"memory", TargetMemory, false},
		{"nowhere", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseTarget(%q) = %v, %v", tt.in, got, err)
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("ParseTarget(%q) error = %v, want ErrInvalidTarget", tt.in, err)
		}
	}
}
