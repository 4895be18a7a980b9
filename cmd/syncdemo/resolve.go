package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/engine"
)

// newResolveCmd re-runs a sync cycle with an explicitly chosen conflict
// resolver, applied for the whole cycle (engine.Options.Resolver is
// cycle-global rather than per-entity — spec §4.2 "Public contract" —
// so this demo's "resolve one conflict" is, in practice, "retry the cycle
// under a different strategy").
func newResolveCmd() *cobra.Command {
	var resolverName string

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Re-run sync under an explicit conflict resolution strategy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			resolver, err := resolverByName(resolverName)
			if err != nil {
				return err
			}

			result, err := cc.Manager.Sync(cmd.Context(), cc.UserID, engine.Options{
				Resolver:      resolver,
				ForceFullSync: true,
			})
			if err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			statusf(cc.Quiet, "resolved %s using %s, %s still failed\n",
				formatCount(result.ConflictsResolved, "conflict"), resolverName,
				formatCount(result.FailedCount, "operation"))

			return nil
		},
	}

	cmd.Flags().StringVar(&resolverName, "strategy", "last_write_wins",
		"conflict resolver: last_write_wins, local_priority, remote_priority, ask_user")

	return cmd
}
