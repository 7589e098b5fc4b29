package main

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/notify"
	"github.com/dshills/layerconf/internal/config/service"
	"github.com/dshills/layerconf/internal/project/workspace"
)

func newWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print configuration and folder changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := c.engine.Service()

			var mu sync.Mutex
			emit := func(v any) {
				mu.Lock()
				defer mu.Unlock()
				if err := c.print(cmd, v); err != nil {
					c.engine.Logger().Error("failed to print event", "error", err)
				}
			}

			subs := []*notify.Subscription{
				svc.OnDidChangeConfiguration().Subscribe(func(ev service.ChangeEvent) {
					emit(changeView{
						Event:     "configuration",
						Source:    ev.Source.String(),
						Keys:      ev.Keys,
						Overrides: ev.Overrides,
					})
				}),
				svc.OnDidChangeWorkspaceFolders().Subscribe(func(ch workspace.FoldersChange) {
					emit(foldersChangeView{
						Event:   "folders",
						Added:   folderPaths(ch.Added),
						Removed: folderPaths(ch.Removed),
						Changed: folderPaths(ch.Changed),
					})
				}),
				svc.OnDidChangeRestrictedSettings().Subscribe(func(r service.RestrictedSettings) {
					emit(restrictedView{Event: "restricted", Keys: r.Keys()})
				}),
			}
			defer func() {
				for _, s := range subs {
					s.Unsubscribe()
				}
			}()

			c.engine.Logger().Info("watching for changes", "state", svc.GetWorkbenchState())
			<-cmd.Context().Done()
			return nil
		},
	}
}

type changeView struct {
	Event     string                 `json:"event" yaml:"event"`
	Source    string                 `json:"source" yaml:"source"`
	Keys      []string               `json:"keys" yaml:"keys"`
	Overrides []model.OverrideChange `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

type foldersChangeView struct {
	Event   string   `json:"event" yaml:"event"`
	Added   []string `json:"added,omitempty" yaml:"added,omitempty"`
	Removed []string `json:"removed,omitempty" yaml:"removed,omitempty"`
	Changed []string `json:"changed,omitempty" yaml:"changed,omitempty"`
}

type restrictedView struct {
	Event string   `json:"event" yaml:"event"`
	Keys  []string `json:"keys" yaml:"keys"`
}

func folderPaths(folders []workspace.Folder) []string {
	if len(folders) == 0 {
		return nil
	}
	paths := make([]string, len(folders))
	for i, f := range folders {
		paths[i] = f.Path
	}
	return paths
}
