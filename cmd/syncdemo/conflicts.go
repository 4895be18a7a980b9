package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/opqueue"
)

// newConflictsCmd lists operations the engine could not push after
// exhausting retries. The core tracks conflicts only as an in-flight
// classification inside one Sync cycle (conflict.Classify, conflict.Type)
// — there is no persistent conflict log — so a failed pending operation is
// the durable, query-able proxy for "needs attention" this demo exposes.
func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List operations stuck in a failed state after retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			// Manager.Pending only returns live (pending/in_progress)
			// operations, so read the stored queue directly.
			ops, err := cc.Store.GetPendingOperations(cmd.Context(), cc.UserID)
			if err != nil {
				return fmt.Errorf("listing pending operations: %w", err)
			}

			rows := make([][]string, 0)

			for _, op := range ops {
				if op.Status != string(opqueue.StatusFailed) {
					continue
				}

				rows = append(rows, []string{op.ID, op.EntityID, op.Type, fmt.Sprintf("%d", op.RetryCount)})
			}

			if len(rows) == 0 {
				statusf(cc.Quiet, "no failed operations for %s\n", cc.UserID)

				return nil
			}

			printTable(os.Stdout, []string{"OP ID", "ENTITY ID", "TYPE", "RETRIES"}, rows)

			return nil
		},
	}
}
