package service

import (
	"fmt"
	"strings"

	"github.com/dshills/layerconf/internal/config/editing"
)

// Target names the layer a write or reload applies to. The zero value lets
// the service pick: UpdateValue derives the target from where the key is
// defined and ReloadConfiguration reloads everything.
type Target int

// Targets.
const (
	TargetUser Target = iota + 1
	TargetUserLocal
	TargetUserRemote
	TargetWorkspace
	TargetWorkspaceFolder
	TargetDefault
	TargetMemory
)

var targetNames = map[Target]string{
	TargetUser:            "user",
	TargetUserLocal:       "userLocal",
	TargetUserRemote:      "userRemote",
	TargetWorkspace:       "workspace",
	TargetWorkspaceFolder: "workspaceFolder",
	TargetDefault:         "default",
	TargetMemory:          "memory",
}

// String returns the target name.
func (t Target) String() string {
	if name, ok := targetNames[t]; ok {
		return name
	}
	if t == 0 {
		return "auto"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// ParseTarget parses a target name. Matching ignores case, and "" and
// "auto" yield the zero target.
func ParseTarget(name string) (Target, error) {
	if name == "" || strings.EqualFold(name, "auto") {
		return 0, nil
	}
	for t, n := range targetNames {
		if strings.EqualFold(n, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, name)
}

func (t Target) editable() (editing.Target, bool) {
	switch t {
	case TargetUserLocal:
		return editing.TargetUserLocal, true
	case TargetUserRemote:
		return editing.TargetUserRemote, true
	case TargetWorkspace:
		return editing.TargetWorkspace, true
	case TargetWorkspaceFolder:
		return editing.TargetWorkspaceFolder, true
	}
	return 0, false
}
