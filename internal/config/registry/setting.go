// Package registry holds the configuration schema: every known setting with
// its type, default value, scope and trust restriction.
//
// The registry is an injected dependency. Parsers consult it to filter
// values by scope and to find restricted keys, and the default source
// rebuilds the default layer whenever OnDidUpdate fires.
package registry

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Setting defines a configuration setting with its metadata.
type Setting struct {
	// Key is the dot-separated key (e.g., "editor.tabSize").
	Key string

	// Type is the setting's data type.
	Type SettingType

	// Default is the default value.
	Default any

	// Description is human-readable documentation.
	Description string

	// Scope defines which layers may set the value. Zero means ScopeWindow.
	Scope Scope

	// Restricted settings are ignored in untrusted workspaces.
	Restricted bool

	// Enum lists allowed values for enum types.
	Enum []any

	// Minimum for numeric types (nil means no minimum).
	Minimum *float64

	// Maximum for numeric types (nil means no maximum).
	Maximum *float64

	// Pattern for string validation (regex).
	Pattern string

	// DeprecationMessage marks a setting as deprecated when non-empty.
	DeprecationMessage string

	// Tags for filtering/grouping settings.
	Tags []string

	compiledPattern *regexp.Regexp
}

// EffectiveScope returns the scope, defaulting to ScopeWindow.
func (s *Setting) EffectiveScope() Scope {
	if s.Scope == 0 {
		return ScopeWindow
	}
	return s.Scope
}

// Deprecated reports whether the setting carries a deprecation message.
func (s *Setting) Deprecated() bool {
	return s.DeprecationMessage != ""
}

// Validate checks if a value is valid for this setting.
func (s *Setting) Validate(value any) error {
	if err := s.validateType(value); err != nil {
		return err
	}

	if len(s.Enum) > 0 && !containsValue(s.Enum, value) {
		return fmt.Errorf("value must be one of: %v", s.Enum)
	}

	if s.Type == TypeInt || s.Type == TypeNumber {
		if err := s.validateRange(value); err != nil {
			return err
		}
	}

	if s.Type == TypeString && s.Pattern != "" {
		if err := s.validatePattern(value); err != nil {
			return err
		}
	}

	return nil
}

func (s *Setting) validateType(value any) error {
	switch s.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
	case TypeInt:
		switch v := value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		case float64:
			// JSON numbers decode as float64.
			if v != math.Trunc(v) {
				return fmt.Errorf("expected integer, got %v", v)
			}
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case TypeNumber:
		switch value.(type) {
		case float32, float64, int, int64:
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case TypeArray:
		switch value.(type) {
		case []any, []string:
		default:
			return fmt.Errorf("expected array, got %T", value)
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
	case TypeAny:
	}
	return nil
}

func (s *Setting) validateRange(value any) error {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float32:
		f = float64(v)
	case float64:
		f = v
	default:
		return nil
	}

	if s.Minimum != nil && f < *s.Minimum {
		return fmt.Errorf("value %v is less than minimum %v", value, *s.Minimum)
	}
	if s.Maximum != nil && f > *s.Maximum {
		return fmt.Errorf("value %v is greater than maximum %v", value, *s.Maximum)
	}
	return nil
}

func (s *Setting) validatePattern(value any) error {
	str, ok := value.(string)
	if !ok {
		return nil
	}

	if s.compiledPattern == nil {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		s.compiledPattern = re
	}

	if !s.compiledPattern.MatchString(str) {
		return fmt.Errorf("value does not match pattern %s", s.Pattern)
	}
	return nil
}

// SettingType represents the data type of a setting.
type SettingType uint8

const (
	// TypeAny accepts any JSON value.
	TypeAny SettingType = iota
	// TypeString represents a string value.
	TypeString
	// TypeInt represents an integer value.
	TypeInt
	// TypeNumber represents any numeric value.
	TypeNumber
	// TypeBool represents a boolean value.
	TypeBool
	// TypeArray represents an array value.
	TypeArray
	// TypeObject represents an object value.
	TypeObject
)

// String returns the string representation of the type.
func (t SettingType) String() string {
	switch t {
	case TypeAny:
		return "any"
	case TypeString:
		return "string"
	case TypeInt:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Scope defines which configuration layers may carry a setting.
type Scope uint8

const (
	// ScopeApplication settings apply to the whole application and are only
	// read from local user settings.
	ScopeApplication Scope = iota + 1
	// ScopeMachine settings are machine specific and only read from user
	// settings of the machine they run on (remote user settings when remote).
	ScopeMachine
	// ScopeWindow settings may be set in user and workspace settings.
	ScopeWindow
	// ScopeResource settings may also be set per folder.
	ScopeResource
	// ScopeLanguageOverridable settings are resource settings that may be
	// overridden per language identifier.
	ScopeLanguageOverridable
	// ScopeMachineOverridable settings are machine settings that workspace
	// and folder settings may override.
	ScopeMachineOverridable
)

var scopeNames = map[Scope]string{
	ScopeApplication:         "application",
	ScopeMachine:             "machine",
	ScopeWindow:              "window",
	ScopeResource:            "resource",
	ScopeLanguageOverridable: "language-overridable",
	ScopeMachineOverridable:  "machine-overridable",
}

// String returns the scope name.
func (s Scope) String() string {
	if name, ok := scopeNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseScope converts a scope name back to a Scope.
func ParseScope(name string) (Scope, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range scopeNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownScope, name)
}

// Scope sets admitted by each layer.
var (
	// LocalMachineScopes apply to local user settings when a remote user
	// layer exists.
	LocalMachineScopes = []Scope{ScopeApplication, ScopeWindow, ScopeResource, ScopeLanguageOverridable}

	// RemoteMachineScopes apply to remote user settings.
	RemoteMachineScopes = []Scope{ScopeMachine, ScopeWindow, ScopeResource, ScopeLanguageOverridable, ScopeMachineOverridable}

	// WorkspaceScopes apply to workspace settings and to the folder
	// settings of a single-folder workbench.
	WorkspaceScopes = []Scope{ScopeWindow, ScopeResource, ScopeLanguageOverridable, ScopeMachineOverridable}

	// FolderScopes apply to folder settings inside a multi-root workspace.
	FolderScopes = []Scope{ScopeResource, ScopeLanguageOverridable, ScopeMachineOverridable}
)

// ScopeIn reports whether scope is one of scopes. An empty set admits all.
func ScopeIn(scope Scope, scopes []Scope) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func containsValue(slice []any, value any) bool {
	for _, v := range slice {
		if v == value {
			return true
		}
		// JSON numbers decode as float64 while enums are often declared as int.
		if i, ok := v.(int); ok {
			if f, ok := value.(float64); ok && float64(i) == f {
				return true
			}
		}
	}
	return false
}

// MinValue creates a pointer to a float64 for use as Minimum.
func MinValue(v float64) *float64 {
	return &v
}

// MaxValue creates a pointer to a float64 for use as Maximum.
func MaxValue(v float64) *float64 {
	return &v
}
