package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/layerconf/internal/project/workspace"
)

func newFoldersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List and edit the folders of the workspace",
	}
	cmd.AddCommand(newFoldersListCmd(c), newFoldersAddCmd(c), newFoldersRemoveCmd(c))
	return cmd
}

func newFoldersListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the workspace folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.printFolders(cmd)
		},
	}
}

func newFoldersAddCmd(c *cli) *cobra.Command {
	var (
		name  string
		index int
	)
	cmd := &cobra.Command{
		Use:   "add <dir>...",
		Short: "Add folders to the workspace file",
		Long: `Add folders to the workspace file. Folders already in the workspace are
skipped. On an empty workbench the first folder is opened on its own.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			add := make([]workspace.FolderCreationData, 0, len(args))
			for _, arg := range args {
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				add = append(add, workspace.FolderCreationData{Path: abs, Name: name})
			}
			if err := c.engine.Service().AddFolders(cmd.Context(), add, index); err != nil {
				return err
			}
			return c.printFolders(cmd)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the added folders")
	cmd.Flags().IntVar(&index, "index", -1, "position to insert at; negative appends")
	return cmd
}

func newFoldersRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <dir>...",
		Short: "Remove folders from the workspace file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remove := make([]string, 0, len(args))
			for _, arg := range args {
				if isURI(arg) {
					remove = append(remove, arg)
					continue
				}
				abs, err := filepath.Abs(arg)
				if err != nil {
					return err
				}
				remove = append(remove, abs)
			}
			if err := c.engine.Service().RemoveFolders(cmd.Context(), remove); err != nil {
				return err
			}
			return c.printFolders(cmd)
		},
	}
}

type foldersView struct {
	State     string             `json:"state" yaml:"state"`
	Workspace string             `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Folders   []workspace.Folder `json:"folders" yaml:"folders"`
}

func (c *cli) printFolders(cmd *cobra.Command) error {
	svc := c.engine.Service()
	ws := svc.GetWorkspace()
	return c.print(cmd, foldersView{
		State:     svc.GetWorkbenchState().String(),
		Workspace: ws.Configuration(),
		Folders:   ws.Folders(),
	})
}
