package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/manager"
)

func newSwitchUserCmd() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "switch-user <user-id>",
		Short: "Switch the active user, reconciling local state per strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := cc.Manager.SwitchUser(cmd.Context(), args[0], manager.UserSwitchStrategy(strategy)); err != nil {
				return fmt.Errorf("switch-user: %w", err)
			}

			statusf(cc.Quiet, "now operating as %s\n", args[0])

			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "",
		"user switch strategy: clearAndFetch, syncThenSwitch, promptIfUnsyncedData, keepLocal (default: configured default)")

	return cmd
}
