package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/layerconf/internal/config/service"
)

func newTrustCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trust <on|off>",
		Short: "Resolve settings as in a trusted or untrusted workspace",
		Long: `Change the workspace trust for this invocation and print the keys whose
resolved value changed. Restricted settings from workspace and folder files
are ignored in an untrusted workspace.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var trusted bool
			switch args[0] {
			case "on", "true":
				trusted = true
			case "off", "false":
			default:
				return fmt.Errorf("invalid trust value %q (want on or off)", args[0])
			}

			svc := c.engine.Service()
			var changed []string
			sub := svc.OnDidChangeConfiguration().Subscribe(func(ev service.ChangeEvent) {
				changed = append(changed, ev.Keys...)
			})
			defer sub.Unsubscribe()

			svc.UpdateWorkspaceTrust(trusted)
			return c.print(cmd, trustView{Trusted: svc.IsWorkspaceTrusted(), Changed: changed})
		},
	}
}

type trustView struct {
	Trusted bool     `json:"trusted" yaml:"trusted"`
	Changed []string `json:"changed" yaml:"changed"`
}
