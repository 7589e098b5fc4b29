package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/layerconf/internal/project/vfs"
)

func testCaches(t *testing.T) map[string]Cache {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Cache{
		"dir":    NewDirCache(vfs.NewMemFS(), "/cache"),
		"sqlite": sqlite,
	}
}

func TestCache_ReadWriteRemove(t *testing.T) {
	ctx := context.Background()
	key := Key{Type: "user", Key: "ssh-remote+box"}

	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := c.Read(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Read(empty) = %v, want ErrNotFound", err)
			}

			if err := c.Write(ctx, key, []byte(`{"a":1}`)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := c.Write(ctx, key, []byte(`{"a":2}`)); err != nil {
				t.Fatalf("Write overwrite: %v", err)
			}

			got, err := c.Read(ctx, key)
			if err != nil || string(got) != `{"a":2}` {
				t.Errorf("Read() = %q, %v", got, err)
			}

			if err := c.Write(ctx, key, nil); err != nil {
				t.Fatalf("Write(nil): %v", err)
			}
			if _, err := c.Read(ctx, key); !errors.Is(err, ErrNotFound) {
				t.Errorf("Read after empty write = %v, want ErrNotFound", err)
			}
			if err := c.Remove(ctx, key); err != nil {
				t.Errorf("Remove(missing) = %v", err)
			}
		})
	}
}

func TestCache_KeysAreIsolated(t *testing.T) {
	ctx := context.Background()

	for name, c := range testCaches(t) {
		t.Run(name, func(t *testing.T) {
			a := Key{Type: "user", Key: "x"}
			b := Key{Type: "workspaces", Key: "x"}
			_ = c.Write(ctx, a, []byte("A"))
			_ = c.Write(ctx, b, []byte("B"))

			got, _ := c.Read(ctx, a)
			if string(got) != "A" {
				t.Errorf("Read(a) = %q, want A", got)
			}
			got, _ = c.Read(ctx, b)
			if string(got) != "B" {
				t.Errorf("Read(b) = %q, want B", got)
			}
		})
	}
}

func TestDirCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewDirCache(vfs.NewMemFS(), "/cache")
	if _, err := c.Read(ctx, Key{Type: "t", Key: "k"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() = %v, want context.Canceled", err)
	}
}

func TestDirCache_SanitizesKeys(t *testing.T) {
	c := NewDirCache(vfs.NewMemFS(), "/cache")
	got := c.path(Key{Type: "user", Key: "../../etc/passwd"})
	if filepath.Dir(got) != filepath.Join("/cache", "user") {
		t.Errorf("path() = %q escapes the cache directory", got)
	}
}

func TestSQLiteCache_Keys(t *testing.T) {
	ctx := context.Background()
	c, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer c.Close()

	_ = c.Write(ctx, Key{Type: "workspaces", Key: "b"}, []byte("1"))
	_ = c.Write(ctx, Key{Type: "workspaces", Key: "a"}, []byte("1"))
	_ = c.Write(ctx, Key{Type: "user", Key: "c"}, []byte("1"))

	keys, err := c.Keys(ctx, "workspaces")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	want := []Key{{Type: "workspaces", Key: "a"}, {Type: "workspaces", Key: "b"}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}
