package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"notifyd/internal/notify"
)

// Validate checks a parsed config. It is run on Load and before every hot
// reload is committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	n := cfg.Notifications
	if _, err := notify.ParsePreviewLevel(n.PreviewLevel); err != nil {
		return fmt.Errorf("notifications.preview_level: %w", err)
	}
	if _, err := ParseDurationField("notifications.throttle_window", n.ThrottleWindow); err != nil {
		return err
	}
	if n.ThrottleMax < 0 {
		return fmt.Errorf("notifications.throttle_max must be >= 0")
	}

	switch d := strings.ToLower(strings.TrimSpace(cfg.Adapter.Driver)); d {
	case "", "console":
	case "telegram":
		if strings.TrimSpace(cfg.Adapter.Telegram.Token) == "" {
			return fmt.Errorf("adapter.telegram.token is required when adapter.driver=telegram")
		}
		if cfg.Adapter.Telegram.OwnerChatID == 0 {
			return fmt.Errorf("adapter.telegram.owner_chat_id is required when adapter.driver=telegram")
		}
	default:
		return fmt.Errorf("unknown adapter.driver: %s", cfg.Adapter.Driver)
	}
	if _, err := ParseDurationField("adapter.telegram.poll_timeout", cfg.Adapter.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Adapter.Telegram.RatePerSec < 0 {
		return fmt.Errorf("adapter.telegram.rate_per_sec must be >= 0")
	}

	if cfg.Logging.ErrorSink.RatePerSec < 0 {
		return fmt.Errorf("logging.error_sink.rate_per_sec must be >= 0")
	}

	if s := cfg.Storage; s != nil {
		switch d := strings.ToLower(strings.TrimSpace(s.Driver)); d {
		case "", "none", "memory", "mem":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				return fmt.Errorf("storage.path is required when storage.driver=sqlite")
			}
		default:
			return fmt.Errorf("unknown storage.driver: %s", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDurationField("storage.retention", s.Retention); err != nil {
			return err
		}
		if spec := strings.TrimSpace(s.PruneSchedule); spec != "" {
			if _, err := cron.ParseStandard(spec); err != nil {
				return fmt.Errorf("storage.prune_schedule: invalid %q: %w", spec, err)
			}
		}
	}
	return nil
}

// ParseDurationField parses an optional, non-negative Go duration. path names
// the field in errors. Empty input is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
