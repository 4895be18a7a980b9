package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/synckit/conflict"
	"github.com/tonimelisma/synckit/engine"
	"github.com/tonimelisma/synckit/manager"
)

// fileConfig is the on-disk shape decoded by BurntSushi/toml — one flat
// layer of overrides, mirroring the teacher's internal/config.Config
// decode target (internal/config/config.go) but scoped to this demo's much
// smaller configuration surface (spec §6 "Configuration").
type fileConfig struct {
	AutoSyncInterval          string `toml:"auto_sync_interval"`
	AutoStartSync             bool   `toml:"auto_start_sync"`
	MaxRetries                int    `toml:"max_retries"`
	RetryDelay                string `toml:"retry_delay"`
	BatchSize                 int    `toml:"batch_size"`
	DefaultConflictResolver   string `toml:"default_conflict_resolver"`
	DefaultUserSwitchStrategy string `toml:"default_user_switch_strategy"`
	DefaultSyncDirection      string `toml:"default_sync_direction"`
	SyncTimeout               string `toml:"sync_timeout"`
	LogLevel                  string `toml:"log_level"`
	DeviceID                  string `toml:"device_id"`
	LocalPath                 string `toml:"local_path"`
	RemoteURL                 string `toml:"remote_url"`
}

// Environment variable names for overrides, matching the teacher's
// ONEDRIVE_GO_* convention (internal/config/env.go) adapted to this
// module's name.
const (
	envConfigPath = "SYNCDEMO_CONFIG"
	envRemoteURL  = "SYNCDEMO_REMOTE_URL"
	envLocalPath  = "SYNCDEMO_LOCAL_PATH"
	envLogLevel   = "SYNCDEMO_LOG_LEVEL"
)

// defaultConfig returns the "layer 0" values of the four-layer override
// chain (defaults → file → env → CLI flags, highest wins — spec §6
// "Configuration").
func defaultConfig() fileConfig {
	return fileConfig{
		AutoSyncInterval:          "5m",
		MaxRetries:                5,
		RetryDelay:                "1s",
		BatchSize:                 25,
		DefaultConflictResolver:   "last_write_wins",
		DefaultUserSwitchStrategy: string(manager.StrategyKeepLocal),
		DefaultSyncDirection:      string(engine.DirectionPushThenPull),
		SyncTimeout:               "2m",
		LogLevel:                  "warn",
		LocalPath:                 "syncdemo.db",
	}
}

// loadFileConfig reads path, if non-empty and present, layered over
// defaultConfig. A missing path is not an error — the CLI runs on defaults
// plus flags alone, matching the teacher's tolerance for a missing config
// file on first run.
func loadFileConfig(path string, logger *slog.Logger) (fileConfig, error) {
	cfg := defaultConfig()

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("config file not found, using defaults", slog.String("path", path))

		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}

// applyEnvOverrides layers environment variables over cfg (third layer).
func applyEnvOverrides(cfg fileConfig) fileConfig {
	if v := os.Getenv(envRemoteURL); v != "" {
		cfg.RemoteURL = v
	}

	if v := os.Getenv(envLocalPath); v != "" {
		cfg.LocalPath = v
	}

	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// toManagerConfig translates the resolved file/env/CLI layers into
// manager.Config, parsing durations and resolving the named conflict
// resolver (spec §6 "Configuration": defaultConflictResolver: Resolver).
func (c fileConfig) toManagerConfig(logger *slog.Logger) (manager.Config, error) {
	autoSyncInterval, err := time.ParseDuration(c.AutoSyncInterval)
	if err != nil {
		return manager.Config{}, fmt.Errorf("parsing auto_sync_interval: %w", err)
	}

	retryDelay, err := time.ParseDuration(c.RetryDelay)
	if err != nil {
		return manager.Config{}, fmt.Errorf("parsing retry_delay: %w", err)
	}

	syncTimeout, err := time.ParseDuration(c.SyncTimeout)
	if err != nil {
		return manager.Config{}, fmt.Errorf("parsing sync_timeout: %w", err)
	}

	resolver, err := resolverByName(c.DefaultConflictResolver)
	if err != nil {
		return manager.Config{}, err
	}

	return manager.Config{
		AutoSyncInterval:          autoSyncInterval,
		AutoStartSync:             c.AutoStartSync,
		MaxRetries:                c.MaxRetries,
		RetryDelay:                retryDelay,
		BatchSize:                 c.BatchSize,
		DefaultConflictResolver:   resolver,
		DefaultUserSwitchStrategy: manager.UserSwitchStrategy(c.DefaultUserSwitchStrategy),
		DefaultSyncDirection:      engine.Direction(c.DefaultSyncDirection),
		SyncTimeout:               syncTimeout,
		EnableLogging:             true,
		DeviceID:                  c.DeviceID,
		Logger:                    logger,
	}, nil
}

// resolverByName maps the config file's resolver name to a concrete
// conflict.Resolver (spec §3 "Resolution strategy").
func resolverByName(name string) (conflict.Resolver, error) {
	switch name {
	case "", "last_write_wins":
		return conflict.LastWriteWinsResolver{}, nil
	case "local_priority":
		return conflict.LocalPriorityResolver{}, nil
	case "remote_priority":
		return conflict.RemotePriorityResolver{}, nil
	case "ask_user":
		return conflict.AskUserResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict resolver %q", name)
	}
}
