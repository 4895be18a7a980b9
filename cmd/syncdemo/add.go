package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	var priority string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task and enqueue it for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			t := newTask(cc.UserID, args[0], priority)

			if err := cc.Manager.Save(cmd.Context(), cc.UserID, t); err != nil {
				return fmt.Errorf("saving task: %w", err)
			}

			statusf(cc.Quiet, "created %s\n", t.ID)
			fmt.Println(t.ID)

			return nil
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "task priority (low, normal, high)")

	return cmd
}
