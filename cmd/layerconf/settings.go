package main

import (
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/dshills/layerconf/internal/config/model"
	"github.com/dshills/layerconf/internal/config/service"
)

func newGetCmd(c *cli) *cobra.Command {
	var overrides model.Overrides
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print the resolved value of a key, or of every key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := resolveResource(overrides)
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 1 {
				key = args[0]
			}
			return c.print(cmd, c.engine.Service().GetValue(key, o))
		},
	}
	overrideFlags(cmd, &overrides)
	return cmd
}

func newInspectCmd(c *cli) *cobra.Command {
	var overrides model.Overrides
	cmd := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Print the value of a key in every layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := resolveResource(overrides)
			if err != nil {
				return err
			}
			return c.print(cmd, c.engine.Service().Inspect(args[0], o))
		},
	}
	overrideFlags(cmd, &overrides)
	return cmd
}

func newKeysCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the keys each layer defines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(cmd, c.engine.Service().Keys())
		},
	}
}

func newRestrictedCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "restricted",
		Short: "List restricted settings and the layers that set them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.print(cmd, c.engine.Service().RestrictedSettings())
		},
	}
}

func newSetCmd(c *cli) *cobra.Command {
	var (
		overrides model.Overrides
		target    string
	)
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value to a configuration layer",
		Long: `Write a value to a configuration layer. The value is parsed as JSON
when it is valid JSON and used as a string otherwise.

Without --target the layer is chosen from the layers that already define
the key, falling back to the user layer.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, args[0], parseValue(args[1]), overrides, target)
		},
	}
	overrideFlags(cmd, &overrides)
	cmd.Flags().StringVarP(&target, "target", "t", "", "user, userLocal, userRemote, workspace, workspaceFolder or memory")
	return cmd
}

func newUnsetCmd(c *cli) *cobra.Command {
	var (
		overrides model.Overrides
		target    string
	)
	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a key from a configuration layer",
		Long: `Remove a key. Without --target it is removed from every layer that
defines it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.update(cmd, args[0], nil, overrides, target)
		},
	}
	overrideFlags(cmd, &overrides)
	cmd.Flags().StringVarP(&target, "target", "t", "", "layer to remove the key from")
	return cmd
}

// update writes value and prints the inspection of key afterwards.
func (c *cli) update(cmd *cobra.Command, key string, value any, overrides model.Overrides, targetName string) error {
	var target service.Target
	if targetName != "" {
		t, err := service.ParseTarget(targetName)
		if err != nil {
			return err
		}
		target = t
	}
	o, err := resolveResource(overrides)
	if err != nil {
		return err
	}
	svc := c.engine.Service()
	if err := svc.UpdateValue(cmd.Context(), key, value, o, target); err != nil {
		return err
	}
	return c.print(cmd, svc.Inspect(key, o))
}

// parseValue reads a command-line value as JSON, or as a plain string when
// it is not valid JSON.
func parseValue(s string) any {
	if !gjson.Valid(s) {
		return s
	}
	return gjson.Parse(s).Value()
}
