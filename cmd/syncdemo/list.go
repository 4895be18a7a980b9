package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			entities, err := cc.Store.GetAll(cmd.Context(), cc.UserID)
			if err != nil {
				return fmt.Errorf("listing tasks: %w", err)
			}

			if len(entities) == 0 {
				statusf(cc.Quiet, "no tasks for %s\n", cc.UserID)

				return nil
			}

			rows := make([][]string, 0, len(entities))
			for _, e := range entities {
				t := taskFromEntity(e)
				done := "no"

				if t.Done {
					done = "yes"
				}

				rows = append(rows, []string{t.ID, t.Title, t.Priority, done, fmt.Sprintf("%d", t.Ver)})
			}

			printTable(os.Stdout, []string{"ID", "TITLE", "PRIORITY", "DONE", "VERSION"}, rows)

			return nil
		},
	}
}
