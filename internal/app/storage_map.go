package app

import (
	"fmt"
	"strings"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/storage"
)

const (
	defaultBusyTimeout = 1 * time.Second
	defaultRetention   = 720 * time.Hour
)

// mapStorageConfig turns the storage section into a driver config. A missing
// section or driver "none" still gets the in-memory store; threads have to
// live somewhere.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "memory", "mem":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, defaultBusyTimeout)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapPruneConfig returns the prune schedule (empty when pruning is off) and
// the retention of read messages.
func mapPruneConfig(cfg *config.Config) (string, time.Duration, error) {
	if cfg == nil || cfg.Storage == nil {
		return "", defaultRetention, nil
	}
	retention, err := config.ParseDurationOrDefault("storage.retention", cfg.Storage.Retention, defaultRetention)
	if err != nil {
		return "", 0, err
	}
	return strings.TrimSpace(cfg.Storage.PruneSchedule), retention, nil
}
