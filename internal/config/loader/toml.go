package loader

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/layerconf/internal/project/vfs"
)

// TOMLLoader loads options from a TOML file.
type TOMLLoader struct {
	fs   vfs.VFS
	path string
}

// NewTOMLLoader creates a TOML loader that reads path from the OS.
func NewTOMLLoader(path string) *TOMLLoader {
	return NewTOMLLoaderWithFS(vfs.NewOSFS(), path)
}

// NewTOMLLoaderWithFS creates a TOML loader with a custom file system.
func NewTOMLLoaderWithFS(fs vfs.VFS, path string) *TOMLLoader {
	return &TOMLLoader{fs: fs, path: path}
}

// Load reads the configured path. A missing file or empty path yields nil.
func (l *TOMLLoader) Load() (map[string]any, error) {
	if l.path == "" {
		return nil, nil
	}
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if vfs.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading options file %s: %w", l.path, err)
	}
	return parseTOML(l.path, data)
}

func parseTOML(source string, data []byte) (map[string]any, error) {
	var config map[string]any
	if err := toml.Unmarshal(data, &config); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return nil, perr
	}
	return config, nil
}

// Decode converts a loaded map into v by round-tripping through TOML, so
// the field mapping and type checks are the ones go-toml applies to files.
func Decode(m map[string]any, v any) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding options: %w", err)
	}
	return nil
}
