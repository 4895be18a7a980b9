package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/events"
)

func newWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the auto-sync loop in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pidPath := filepath.Join(filepath.Dir(cc.Cfg.LocalPath), "syncdemo.pid")

			cleanup, err := writePIDFile(pidPath)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			sub := cc.Manager.Subscribe(cc.UserID)
			defer sub.Close()

			go logEvents(sub, cc)

			cc.Manager.StartAutoSync(cc.UserID, nil, interval)
			defer cc.Manager.StopAutoSync()

			statusf(cc.Quiet, "watching %s every %s (ctrl-c to stop)\n", cc.UserID, interval)

			<-ctx.Done()

			statusf(cc.Quiet, "shutting down\n")

			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "auto-sync interval")

	return cmd
}

// logEvents drains sub until closed, printing a one-line summary per event
// — the demo's stand-in for a real application's event-driven UI updates
// (spec §6 "Event model").
func logEvents(sub *events.Subscription, cc *CLIContext) {
	for ev := range sub.Events() {
		switch e := ev.(type) {
		case events.Started:
			statusf(cc.Quiet, "[sync] started, %d pending\n", e.PendingCount)
		case events.Progress:
			statusf(cc.Quiet, "[sync] progress %d/%d\n", e.Completed, e.Total)
		case events.Completed:
			statusf(cc.Quiet, "[sync] completed: synced=%d failed=%d conflicts=%d in %s\n",
				e.SyncedCount, e.FailedCount, e.ConflictsResolved, e.Duration)
		case events.Error:
			statusf(cc.Quiet, "[sync] error: %v (recoverable=%v)\n", e.Err, e.IsRecoverable)
		case events.DataChange:
			statusf(cc.Quiet, "[data] %s %s (%s)\n", e.Kind, e.EntityID, e.Source)
		case events.ConflictDetected:
			statusf(cc.Quiet, "[conflict] %s\n", e.EntityID)
		case events.UserSwitched:
			statusf(cc.Quiet, "[user] switched %s -> %s\n", e.PreviousUserID, e.UserID())
		case events.InitialSync:
			statusf(cc.Quiet, "[sync] subscribed\n")
		default:
			statusf(cc.Quiet, "[event] %T\n", e)
		}
	}
}
