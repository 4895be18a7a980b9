package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")

				return enc.Encode(cc.Cfg)
			}

			fmt.Printf("auto_sync_interval:           %s\n", cc.Cfg.AutoSyncInterval)
			fmt.Printf("auto_start_sync:              %v\n", cc.Cfg.AutoStartSync)
			fmt.Printf("max_retries:                  %d\n", cc.Cfg.MaxRetries)
			fmt.Printf("retry_delay:                  %s\n", cc.Cfg.RetryDelay)
			fmt.Printf("batch_size:                   %d\n", cc.Cfg.BatchSize)
			fmt.Printf("default_conflict_resolver:    %s\n", cc.Cfg.DefaultConflictResolver)
			fmt.Printf("default_user_switch_strategy: %s\n", cc.Cfg.DefaultUserSwitchStrategy)
			fmt.Printf("default_sync_direction:       %s\n", cc.Cfg.DefaultSyncDirection)
			fmt.Printf("sync_timeout:                 %s\n", cc.Cfg.SyncTimeout)
			fmt.Printf("log_level:                    %s\n", cc.Cfg.LogLevel)
			fmt.Printf("local_path:                   %s\n", cc.Cfg.LocalPath)
			fmt.Printf("remote_url:                   %s\n", cc.Cfg.RemoteURL)

			return nil
		},
	}
}
