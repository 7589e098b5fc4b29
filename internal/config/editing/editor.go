package editing

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/registry"
	"github.com/dshills/layerconf/internal/logging"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// Target is a file backed configuration layer that can be written.
type Target int

const (
	TargetUserLocal Target = iota + 1
	TargetUserRemote
	TargetWorkspace
	TargetWorkspaceFolder
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case TargetUserLocal:
		return "user local"
	case TargetUserRemote:
		return "user remote"
	case TargetWorkspace:
		return "workspace"
	case TargetWorkspaceFolder:
		return "workspace folder"
	default:
		return "unknown"
	}
}

// ErrorCode categorizes a rejected write. Codes are errors so callers can
// match them with errors.Is.
type ErrorCode int

const (
	// CodeUnknownKey: the key is not a registered setting.
	CodeUnknownKey ErrorCode = iota + 1
	// CodeInvalidWorkspaceConfigurationApplication: application settings
	// can only be written to user settings.
	CodeInvalidWorkspaceConfigurationApplication
	// CodeInvalidWorkspaceConfigurationMachine: machine settings can only be
	// written to user settings.
	CodeInvalidWorkspaceConfigurationMachine
	// CodeInvalidFolderConfiguration: the setting does not support folder scope.
	CodeInvalidFolderConfiguration
	// CodeInvalidFolderTarget: no resource identifies the folder.
	CodeInvalidFolderTarget
	// CodeInvalidResourceLanguageConfiguration: the setting cannot be
	// overridden per language.
	CodeInvalidResourceLanguageConfiguration
	// CodeNoWorkspaceOpened: workspace targets need an open workspace.
	CodeNoWorkspaceOpened
	// CodeInvalidUserTarget: no file backs the user target.
	CodeInvalidUserTarget
	// CodeInvalidConfiguration: the target file is not valid JSON.
	CodeInvalidConfiguration
)

var codeMessages = map[ErrorCode]string{
	CodeUnknownKey: "not a registered configuration",
	CodeInvalidWorkspaceConfigurationApplication: "application setting can only be written into user settings",
	CodeInvalidWorkspaceConfigurationMachine:     "machine setting can only be written into user settings",
	CodeInvalidFolderConfiguration:               "setting does not support the folder resource scope",
	CodeInvalidFolderTarget:                      "no folder resource provided",
	CodeInvalidResourceLanguageConfiguration:     "not a language overridable setting",
	CodeNoWorkspaceOpened:                        "no workspace is opened",
	CodeInvalidUserTarget:                        "no settings file for user target",
	CodeInvalidConfiguration:                     "settings file has errors",
}

// Error implements error.
func (c ErrorCode) Error() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("edit error %d", int(c))
}

// EditError describes a rejected or failed configuration write.
type EditError struct {
	Code   ErrorCode
	Target Target
	Key    string
	Err    error
}

// Error implements the error interface.
func (e *EditError) Error() string {
	msg := fmt.Sprintf("unable to write %q to %s settings: %s", e.Key, e.Target, e.Code.Error())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the code and the underlying error.
func (e *EditError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Code, e.Err}
	}
	return []error{e.Code}
}

// WorkspaceContext is the view of the current workspace the editor needs.
type WorkspaceContext interface {
	GetWorkbenchState() workspace.WorkbenchState
	GetWorkspace() *workspace.Workspace
	GetWorkspaceFolder(resource string) (workspace.Folder, bool)
}

// Paths locates the user settings files.
type Paths struct {
	UserLocal  string
	UserRemote string
}

// ConfigurationEditor writes settings to the file behind a target.
type ConfigurationEditor struct {
	json     *JSONEditor
	registry *registry.Registry
	ws       WorkspaceContext
	paths    Paths
	logger   logging.Logger
}

// NewConfigurationEditor creates an editor.
func NewConfigurationEditor(json *JSONEditor, reg *registry.Registry, ws WorkspaceContext, paths Paths, logger logging.Logger) *ConfigurationEditor {
	return &ConfigurationEditor{
		json:     json,
		registry: reg,
		ws:       ws,
		paths:    paths,
		logger:   logging.Component(logger, "editing"),
	}
}

// Operation is a resolved edit: the file and the JSON path inside it.
type Operation struct {
	Target   Target
	Key      string
	Value    any
	File     string
	JSONPath []string
}

// WriteConfiguration writes value for key into the target's file. A nil
// value removes the key.
func (c *ConfigurationEditor) WriteConfiguration(ctx context.Context, target Target, key string, value any, overrides model.Overrides) error {
	op, err := c.Resolve(target, key, value, overrides)
	if err != nil {
		return err
	}

	c.logger.Debug("writing configuration", "target", target, "key", key, "file", op.File)
	if err := c.json.Write(ctx, op.File, op.JSONPath, value); err != nil {
		if errors.Is(err, ErrInvalidFile) {
			return &EditError{Code: CodeInvalidConfiguration, Target: target, Key: key, Err: err}
		}
		return err
	}
	return nil
}

// Resolve validates a write and returns the edit it maps to.
func (c *ConfigurationEditor) Resolve(target Target, key string, value any, overrides model.Overrides) (Operation, error) {
	fail := func(code ErrorCode) (Operation, error) {
		return Operation{}, &EditError{Code: code, Target: target, Key: key}
	}

	isHeader := registry.IsOverrideHeader(key)
	setting := c.registry.Get(key)
	if setting == nil && !isHeader {
		return fail(CodeUnknownKey)
	}

	state := c.ws.GetWorkbenchState()
	if (target == TargetWorkspace || target == TargetWorkspaceFolder) && state == workspace.StateEmpty {
		return fail(CodeNoWorkspaceOpened)
	}

	if target == TargetWorkspace && !isHeader {
		switch setting.EffectiveScope() {
		case registry.ScopeApplication:
			return fail(CodeInvalidWorkspaceConfigurationApplication)
		case registry.ScopeMachine:
			return fail(CodeInvalidWorkspaceConfigurationMachine)
		}
	}

	if target == TargetWorkspaceFolder {
		if overrides.Resource == "" {
			return fail(CodeInvalidFolderTarget)
		}
		if !isHeader && !registry.ScopeIn(setting.EffectiveScope(), registry.FolderScopes) {
			return fail(CodeInvalidFolderConfiguration)
		}
	}

	if overrides.OverrideIdentifier != "" {
		if setting == nil || setting.EffectiveScope() != registry.ScopeLanguageOverridable {
			return fail(CodeInvalidResourceLanguageConfiguration)
		}
	}

	jsonPath := []string{key}
	if overrides.OverrideIdentifier != "" {
		jsonPath = []string{registry.OverrideHeader(overrides.OverrideIdentifier), key}
	}

	file := c.fileFor(target, overrides.Resource)
	if file == "" {
		if target == TargetUserLocal || target == TargetUserRemote {
			return fail(CodeInvalidUserTarget)
		}
		return fail(CodeInvalidFolderTarget)
	}
	if ws := c.ws.GetWorkspace(); ws != nil && ws.Configuration() != "" && ws.Configuration() == file {
		jsonPath = append([]string{"settings"}, jsonPath...)
	}

	return Operation{Target: target, Key: key, Value: value, File: file, JSONPath: jsonPath}, nil
}

// fileFor returns the settings file behind target, or "".
func (c *ConfigurationEditor) fileFor(target Target, resource string) string {
	switch target {
	case TargetUserLocal:
		return c.paths.UserLocal
	case TargetUserRemote:
		return c.paths.UserRemote
	}

	state := c.ws.GetWorkbenchState()
	if state == workspace.StateEmpty {
		return ""
	}
	ws := c.ws.GetWorkspace()

	switch target {
	case TargetWorkspace:
		if state == workspace.StateWorkspace {
			return ws.Configuration()
		}
		folders := ws.Folders()
		if len(folders) > 0 {
			return folders[0].SettingsPath()
		}
	case TargetWorkspaceFolder:
		if resource == "" {
			return ""
		}
		if folder, ok := c.ws.GetWorkspaceFolder(resource); ok {
			return folder.SettingsPath()
		}
	}
	return ""
}

// SetFolders writes the folders array of a workspace file.
func (c *ConfigurationEditor) SetFolders(ctx context.Context, workspaceFile string, folders []workspace.StoredFolder) error {
	return WriteFolders(ctx, c.json, workspaceFile, folders)
}

// WriteFolders writes the folders array of a workspace file.
func WriteFolders(ctx context.Context, editor *JSONEditor, workspaceFile string, folders []workspace.StoredFolder) error {
	entries := make([]map[string]string, 0, len(folders))
	for _, f := range folders {
		entry := make(map[string]string, 2)
		if f.URI != "" {
			entry["uri"] = f.URI
		} else {
			entry["path"] = f.Path
		}
		if f.Name != "" {
			entry["name"] = f.Name
		}
		entries = append(entries, entry)
	}
	return editor.Write(ctx, workspaceFile, []string{"folders"}, entries)
}
