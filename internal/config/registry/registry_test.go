package registry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistry_Register(t *testing.T) {
	r := New()

	err := r.Register(Setting{
		Key:     "editor.tabSize",
		Type:    TypeInt,
		Default: 4,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err = r.Register(Setting{Key: "editor.tabSize", Type: TypeInt})
	if !errors.Is(err, ErrSettingAlreadyRegistered) {
		t.Errorf("Register duplicate = %v, want ErrSettingAlreadyRegistered", err)
	}
}

func TestRegistry_RegisterAtomic(t *testing.T) {
	r := New()

	err := r.Register(
		Setting{Key: "a.one"},
		Setting{Key: "a..two"},
	)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("Register = %v, want ErrInvalidKey", err)
	}
	if r.Has("a.one") {
		t.Error("partial registration left a.one behind")
	}
}

func TestRegistry_InvalidKeys(t *testing.T) {
	r := New()
	for _, key := range []string{"", ".a", "a.", "[go]"} {
		if err := r.Register(Setting{Key: key}); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Register(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestRegistry_MustRegister_Panics(t *testing.T) {
	r := New()
	r.MustRegister(Setting{Key: "test.setting"})

	defer func() {
		if recover() == nil {
			t.Error("expected panic for duplicate MustRegister")
		}
	}()
	r.MustRegister(Setting{Key: "test.setting"})
}

func TestRegistry_OnDidUpdate(t *testing.T) {
	r := New()

	var updates [][]string
	r.OnDidUpdate().Subscribe(func(keys []string) {
		updates = append(updates, keys)
	})

	r.MustRegister(Setting{Key: "b.x"}, Setting{Key: "a.x"})
	r.Deregister("a.x", "missing")
	r.Deregister("missing")
	r.RegisterDefaultOverrides(map[string]any{"[go]": map[string]any{"b.x": 1}})

	want := [][]string{{"a.x", "b.x"}, {"a.x"}, {"[go]"}}
	if diff := cmp.Diff(want, updates); diff != "" {
		t.Errorf("updates mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_Deregister(t *testing.T) {
	r := New()
	r.MustRegister(Setting{Key: "editor.a"}, Setting{Key: "editor.b"})
	r.Deregister("editor.a")

	if r.Has("editor.a") {
		t.Error("editor.a still registered")
	}
	if got := len(r.Section("editor")); got != 1 {
		t.Errorf("len(Section(editor)) = %d, want 1", got)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewWithDefaults()

	tests := []struct {
		key  string
		want string
	}{
		{"files.exclude", "files.exclude"},
		{"files.exclude.**/node_modules", "files.exclude"},
		{"editor.tabSize", "editor.tabSize"},
		{"unknown.key", ""},
	}

	for _, tt := range tests {
		s := r.Lookup(tt.key)
		got := ""
		if s != nil {
			got = s.Key
		}
		if got != tt.want {
			t.Errorf("Lookup(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestRegistry_RestrictedKeys(t *testing.T) {
	r := New()
	r.MustRegister(
		Setting{Key: "z.secret", Restricted: true},
		Setting{Key: "a.secret", Restricted: true},
		Setting{Key: "plain"},
	)

	want := []string{"a.secret", "z.secret"}
	if diff := cmp.Diff(want, r.RestrictedKeys()); diff != "" {
		t.Errorf("RestrictedKeys() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := New()
	r.MustRegister(
		Setting{Key: "a.x", Default: 1},
		Setting{Key: "a.y"},
	)
	r.RegisterDefaultOverrides(map[string]any{
		"a.x":  2,
		"[go]": map[string]any{"a.x": 3},
	})

	if diff := cmp.Diff(map[string]any{"a.x": 2}, r.Defaults()); diff != "" {
		t.Errorf("Defaults() mismatch (-want +got):\n%s", diff)
	}
	if got := r.Default("a.x"); got != 2 {
		t.Errorf("Default(a.x) = %v, want 2", got)
	}
	want := map[string]map[string]any{"[go]": {"a.x": 3}}
	if diff := cmp.Diff(want, r.DefaultOverrides()); diff != "" {
		t.Errorf("DefaultOverrides() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"go"}, r.OverrideIdentifiers()); diff != "" {
		t.Errorf("OverrideIdentifiers() mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistry_ScopeOf(t *testing.T) {
	r := New()
	r.MustRegister(Setting{Key: "a"}, Setting{Key: "b", Scope: ScopeMachine})

	if s, _ := r.ScopeOf("a"); s != ScopeWindow {
		t.Errorf("ScopeOf(a) = %v, want window", s)
	}
	if s, _ := r.ScopeOf("b"); s != ScopeMachine {
		t.Errorf("ScopeOf(b) = %v, want machine", s)
	}
	if _, ok := r.ScopeOf("c"); ok {
		t.Error("ScopeOf(c) ok = true, want false")
	}
}

func TestRegistry_Search(t *testing.T) {
	r := NewWithDefaults()

	results := r.Search("proxy")
	if len(results) != 1 || results[0].Key != "http.proxy" {
		t.Errorf("Search(proxy) = %v, want [http.proxy]", results)
	}
}

func TestRegistry_Validate(t *testing.T) {
	r := NewWithDefaults()

	if err := r.Validate("editor.tabSize", float64(4)); err != nil {
		t.Errorf("Validate(tabSize, 4) = %v", err)
	}
	if err := r.Validate("editor.tabSize", float64(40)); err == nil {
		t.Error("Validate(tabSize, 40) should fail")
	}
	if err := r.Validate("unknown.setting", "anything"); err != nil {
		t.Errorf("Validate(unknown) = %v, want nil", err)
	}
}

func TestSplitOverrideHeader(t *testing.T) {
	tests := []struct {
		header string
		want   []string
	}{
		{"[go]", []string{"go"}},
		{"[go][markdown]", []string{"go", "markdown"}},
		{"[ go ]", []string{"go"}},
		{"[]", nil},
		{"go", nil},
		{"[go", nil},
		{"[go]x", nil},
	}

	for _, tt := range tests {
		got := SplitOverrideHeader(tt.header)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("SplitOverrideHeader(%q) mismatch (-want +got):\n%s", tt.header, diff)
		}
	}

	if got := OverrideHeader("go", "markdown"); got != "[go][markdown]" {
		t.Errorf("OverrideHeader() = %q", got)
	}
	if !IsOverrideHeader("[go]") || IsOverrideHeader("editor") {
		t.Error("IsOverrideHeader misclassified")
	}
}
