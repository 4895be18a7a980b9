package main

import (
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume the active user's sync loop after a pause",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			cc.Manager.Resume(cc.UserID)
			statusf(cc.Quiet, "sync resumed for %s\n", cc.UserID)

			return nil
		},
	}
}
