package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current sync status for the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			snap := cc.Manager.Status(cc.UserID)

			fmt.Printf("user:       %s\n", snap.UserID)
			fmt.Printf("status:     %s\n", snap.Status)
			fmt.Printf("progress:   %.0f%%\n", snap.Progress*100)
			fmt.Printf("pending:    %s\n", formatCount(snap.PendingCount, "operation"))
			fmt.Printf("synced:     %d\n", snap.SyncedCount)
			fmt.Printf("failed:     %d\n", snap.FailedCount)
			fmt.Printf("conflicts:  %d\n", snap.ConflictsResolved)
			fmt.Printf("started:    %s\n", formatRelativeTime(snap.LastStartedAt))
			fmt.Printf("last sync:  %s\n", formatRelativeTime(snap.LastSyncedAt))
			fmt.Printf("connected:  %v\n", cc.Remote.IsConnected(cmd.Context()))

			for _, msg := range snap.Errors {
				fmt.Printf("error:      %s\n", msg)
			}

			return nil
		},
	}
}
