// Package editing writes configuration values into settings and workspace
// files.
//
// JSONEditor performs a single set or delete at a JSON path and rewrites
// the file formatted. ConfigurationEditor maps a write target to the file
// and path to edit and rejects writes the target cannot hold.
package editing

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"

	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/project/vfs"
)

// Errors returned by JSONEditor.
var (
	// ErrInvalidFile indicates the file to edit does not hold a JSON object.
	ErrInvalidFile = errors.New("file is not a valid JSON object")

	// ErrEmptyPath indicates an edit without a JSON path.
	ErrEmptyPath = errors.New("empty JSON path")
)

var prettyOptions = &pretty.Options{
	Width:    80,
	Prefix:   "",
	Indent:   "\t",
	SortKeys: false,
}

// JSONEditor edits JSON files in place. Edits to the same editor are
// serialized.
type JSONEditor struct {
	mu sync.Mutex
	fs vfs.VFS
}

// NewJSONEditor creates an editor over fs.
func NewJSONEditor(fs vfs.VFS) *JSONEditor {
	return &JSONEditor{fs: fs}
}

// Write sets value at jsonPath in the file at path. A nil value removes the
// property. Missing files and directories are created. Comments in the
// existing content are not preserved.
func (e *JSONEditor) Write(ctx context.Context, path string, jsonPath []string, value any) error {
	if len(jsonPath) == 0 {
		return ErrEmptyPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	content, err := vfs.ReadFileIfExists(e.fs, path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	content, err = normalizeContent(content)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	edited, err := apply(content, jsonPath, value)
	if err != nil {
		return fmt.Errorf("editing %s: %w", path, err)
	}

	if err := e.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}
	if err := e.fs.WriteFile(path, edited, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// normalizeContent returns plain JSON for content, which may be empty or
// contain comments and trailing commas.
func normalizeContent(content []byte) ([]byte, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(content) {
		content = pretty.Ugly(pretty.Spec(content))
		if !gjson.ValidBytes(content) {
			return nil, ErrInvalidFile
		}
	}
	if !gjson.ParseBytes(content).IsObject() {
		return nil, ErrInvalidFile
	}
	return content, nil
}

func apply(content []byte, jsonPath []string, value any) ([]byte, error) {
	elems := resolvePath(content, jsonPath)
	path := joinPath(elems)

	var (
		out []byte
		err error
	)
	if value == nil {
		out, err = sjson.DeleteBytes(content, path)
		if err == nil {
			out, err = pruneEmptyParents(out, elems, len(jsonPath)-1)
		}
		if err == nil {
			out, err = pruneEmptyOverride(out, jsonPath)
		}
	} else {
		out, err = sjson.SetBytes(content, path, value)
	}
	if err != nil {
		return nil, err
	}
	return pretty.PrettyOptions(out, prettyOptions), nil
}

// resolvePath returns the elements to edit for jsonPath. A dotted key is
// edited as written unless only its nested form ({"a": {"b": 1}} for "a.b")
// exists in content.
func resolvePath(content []byte, jsonPath []string) []string {
	last := jsonPath[len(jsonPath)-1]
	if !strings.Contains(last, ".") || gjson.GetBytes(content, joinPath(jsonPath)).Exists() {
		return jsonPath
	}
	nested := append(slices.Clone(jsonPath[:len(jsonPath)-1]), strings.Split(last, ".")...)
	if gjson.GetBytes(content, joinPath(nested)).Exists() {
		return nested
	}
	return jsonPath
}

// pruneEmptyParents removes the objects of a nested key left empty by a
// delete. The first keep elements are never removed.
func pruneEmptyParents(content []byte, elems []string, keep int) ([]byte, error) {
	for n := len(elems) - 1; n > keep; n-- {
		parent := joinPath(elems[:n])
		section := gjson.GetBytes(content, parent)
		if !section.IsObject() || len(section.Map()) > 0 {
			break
		}
		var err error
		if content, err = sjson.DeleteBytes(content, parent); err != nil {
			return nil, err
		}
	}
	return content, nil
}

// pruneEmptyOverride removes a "[lang]" section left empty by a delete.
func pruneEmptyOverride(content []byte, jsonPath []string) ([]byte, error) {
	if len(jsonPath) < 2 {
		return content, nil
	}
	parent := jsonPath[:len(jsonPath)-1]
	if !registry.IsOverrideHeader(parent[len(parent)-1]) {
		return content, nil
	}
	section := gjson.GetBytes(content, joinPath(parent))
	if section.IsObject() && len(section.Map()) == 0 {
		return sjson.DeleteBytes(content, joinPath(parent))
	}
	return content, nil
}

// joinPath builds an sjson path in which every element is a literal key.
func joinPath(elems []string) string {
	escaped := make([]string, len(elems))
	for i, e := range elems {
		escaped[i] = escapeKey(e)
	}
	return strings.Join(escaped, ".")
}

func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '\\', ':', '=', '<', '>', '%', '[', ']':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
