package main

import (
	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the active user's sync loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			cc.Manager.Pause(cc.UserID)
			statusf(cc.Quiet, "sync paused for %s\n", cc.UserID)

			return nil
		},
	}
}
