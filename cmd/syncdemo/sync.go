package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/engine"
)

func newSyncCmd() *cobra.Command {
	var direction string
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle for the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			opts := engine.Options{
				Direction:     engine.Direction(direction),
				ForceFullSync: force,
			}

			result, err := cc.Manager.Sync(cmd.Context(), cc.UserID, opts)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			statusf(cc.Quiet, "synced %s, failed %s, resolved %s conflicts (%s)\n",
				formatCount(result.SyncedCount, "item"),
				formatCount(result.FailedCount, "item"),
				formatCount(result.ConflictsResolved, "conflict"),
				result.Duration)

			if len(result.FailedOperations) > 0 {
				statusf(cc.Quiet, "%d operation(s) failed permanently after exhausting retries\n", len(result.FailedOperations))
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "", "sync direction: pushThenPull, pullThenPush, pushOnly, pullOnly (default: configured default)")
	cmd.Flags().BoolVar(&force, "force", false, "force a full sync, bypassing delta/cursor shortcuts")

	return cmd
}
