package registry

// RegisterDefaults registers the built-in settings.
func (r *Registry) RegisterDefaults() {
	// Editor settings
	r.MustRegister(
		Setting{
			Key:         "editor.tabSize",
			Type:        TypeInt,
			Default:     4,
			Description: "The number of spaces a tab is equal to",
			Scope:       ScopeLanguageOverridable,
			Minimum:     MinValue(1),
			Maximum:     MaxValue(16),
			Tags:        []string{"editor", "formatting"},
		},
		Setting{
			Key:         "editor.insertSpaces",
			Type:        TypeBool,
			Default:     true,
			Description: "Insert spaces when pressing Tab",
			Scope:       ScopeLanguageOverridable,
			Tags:        []string{"editor", "formatting"},
		},
		Setting{
			Key:         "editor.wordWrap",
			Type:        TypeString,
			Default:     "off",
			Description: "Controls how lines should wrap",
			Scope:       ScopeLanguageOverridable,
			Enum:        []any{"off", "on", "wordWrapColumn", "bounded"},
			Tags:        []string{"editor", "display"},
		},
		Setting{
			Key:         "editor.fontSize",
			Type:        TypeNumber,
			Default:     14,
			Description: "Controls the font size in pixels",
			Minimum:     MinValue(6),
			Maximum:     MaxValue(100),
			Tags:        []string{"editor", "display"},
		},
	)

	// File settings
	r.MustRegister(
		Setting{
			Key:         "files.exclude",
			Type:        TypeObject,
			Default:     map[string]any{"**/.git": true},
			Description: "Glob patterns for excluding files and folders",
			Scope:       ScopeResource,
			Tags:        []string{"files"},
		},
		Setting{
			Key:         "files.autoSave",
			Type:        TypeString,
			Default:     "off",
			Description: "Controls auto save of dirty files",
			Scope:       ScopeResource,
			Enum:        []any{"off", "afterDelay", "onFocusChange", "onWindowChange"},
			Tags:        []string{"files"},
		},
		Setting{
			Key:         "files.encoding",
			Type:        TypeString,
			Default:     "utf8",
			Description: "The default character set encoding",
			Scope:       ScopeLanguageOverridable,
			Tags:        []string{"files"},
		},
	)

	// Window settings
	r.MustRegister(
		Setting{
			Key:         "window.zoomLevel",
			Type:        TypeNumber,
			Default:     0,
			Description: "Adjust the zoom level of the window",
			Scope:       ScopeWindow,
			Tags:        []string{"window"},
		},
		Setting{
			Key:         "window.title",
			Type:        TypeString,
			Default:     "${activeEditorShort}${separator}${rootName}",
			Description: "Controls the window title",
			Scope:       ScopeWindow,
			Tags:        []string{"window"},
		},
	)

	// Application and machine settings
	r.MustRegister(
		Setting{
			Key:         "update.mode",
			Type:        TypeString,
			Default:     "default",
			Description: "Configure whether you receive automatic updates",
			Scope:       ScopeApplication,
			Enum:        []any{"none", "manual", "start", "default"},
			Tags:        []string{"update"},
		},
		Setting{
			Key:         "http.proxy",
			Type:        TypeString,
			Default:     "",
			Description: "The proxy setting to use",
			Scope:       ScopeApplication,
			Restricted:  true,
			Tags:        []string{"http", "network"},
		},
		Setting{
			Key:         "git.path",
			Type:        TypeString,
			Default:     "",
			Description: "Path to the git executable",
			Scope:       ScopeMachine,
			Restricted:  true,
			Tags:        []string{"git"},
		},
		Setting{
			Key:         "terminal.integrated.shell",
			Type:        TypeString,
			Default:     "",
			Description: "Path of the shell used by the integrated terminal",
			Scope:       ScopeMachineOverridable,
			Restricted:  true,
			Tags:        []string{"terminal"},
		},
		Setting{
			Key:         "security.workspace.trust.enabled",
			Type:        TypeBool,
			Default:     true,
			Description: "Controls whether workspace trust is enabled",
			Scope:       ScopeApplication,
			Tags:        []string{"security"},
		},
	)

	r.RegisterDefaultOverrides(map[string]any{
		"[go]": map[string]any{
			"editor.insertSpaces": false,
		},
		"[makefile]": map[string]any{
			"editor.insertSpaces": false,
		},
	})
}
