package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/layerconf/internal/config"
	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/project/workspace"
)

// cli holds the global flags and the engine opened for the running
// command.
type cli struct {
	configPath    string
	workspaceFile string
	folder        string
	output        string
	logLevel      string

	engine *config.Engine
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "layerconf",
		Short: "Inspect and edit layered workspace configuration",
		Long: `layerconf resolves settings through the default, user, workspace,
folder and memory layers of a workspace and writes changes back to the
file behind a layer.

Open a multi-root workspace with --workspace, a single folder with
--folder, or neither for an empty workbench.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.open,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", defaultConfigPath(), "path to the layerconf.toml options file")
	flags.StringVarP(&c.workspaceFile, "workspace", "w", "", "workspace file to open")
	flags.StringVarP(&c.folder, "folder", "f", "", "folder to open")
	flags.StringVarP(&c.output, "output", "o", "yaml", "output format: json or yaml")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.MarkFlagsMutuallyExclusive("workspace", "folder")

	cmd.AddCommand(
		newGetCmd(c),
		newInspectCmd(c),
		newKeysCmd(c),
		newSetCmd(c),
		newUnsetCmd(c),
		newFoldersCmd(c),
		newRestrictedCmd(c),
		newTrustCmd(c),
		newWatchCmd(c),
	)
	return cmd
}

func defaultConfigPath() string {
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	return "layerconf.toml"
}

// open loads the options, builds the engine and opens the workspace. Only
// the watch command starts the file watcher.
func (c *cli) open(cmd *cobra.Command, _ []string) error {
	switch cmd.Name() {
	case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return nil
	}
	if _, err := newPrinter(c.output); err != nil {
		return err
	}

	opts, err := config.LoadOptions(nil, c.configPath)
	if err != nil {
		return err
	}
	extra := []config.Option{config.WithOptions(opts)}
	if c.logLevel != "" {
		extra = append(extra, config.WithLogLevel(c.logLevel))
	}
	if cmd.Name() != "watch" {
		extra = append(extra, config.WithWatch(false, 0))
	}

	eng, err := config.New(cmd.Context(), extra...)
	if err != nil {
		return err
	}

	id, err := c.identifier()
	if err != nil {
		eng.Close()
		return err
	}
	if err := eng.Open(cmd.Context(), id); err != nil {
		eng.Close()
		return fmt.Errorf("opening workspace: %w", err)
	}
	c.engine = eng
	return nil
}

func (c *cli) identifier() (workspace.Identifier, error) {
	switch {
	case c.workspaceFile != "":
		abs, err := filepath.Abs(c.workspaceFile)
		if err != nil {
			return nil, err
		}
		return workspace.NewMultiRootIdentifier(abs), nil
	case c.folder != "":
		abs, err := filepath.Abs(c.folder)
		if err != nil {
			return nil, err
		}
		return workspace.NewSingleFolderIdentifier(abs), nil
	}
	return workspace.NewEmptyIdentifier(), nil
}

func (c *cli) close() error {
	if c.engine == nil {
		return nil
	}
	err := c.engine.Close()
	c.engine = nil
	return err
}

// print writes v to the command output in the selected format.
func (c *cli) print(cmd *cobra.Command, v any) error {
	p, err := newPrinter(c.output)
	if err != nil {
		return err
	}
	return p.print(cmd.OutOrStdout(), v)
}

// overrideFlags adds --resource and --language to cmd.
func overrideFlags(cmd *cobra.Command, o *model.Overrides) {
	cmd.Flags().StringVarP(&o.Resource, "resource", "r", "", "file the value is resolved for")
	cmd.Flags().StringVarP(&o.OverrideIdentifier, "language", "l", "", "language override identifier")
}

// resolveResource makes a relative resource absolute so it matches the
// workspace folders.
func resolveResource(o model.Overrides) (model.Overrides, error) {
	if o.Resource == "" || filepath.IsAbs(o.Resource) || isURI(o.Resource) {
		return o, nil
	}
	abs, err := filepath.Abs(o.Resource)
	if err != nil {
		return o, err
	}
	o.Resource = abs
	return o, nil
}

func isURI(s string) bool {
	return strings.HasPrefix(s, "file://")
}
