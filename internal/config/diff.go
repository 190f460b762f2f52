package config

import (
	"reflect"
	"sort"
	"strings"

	logx "notifyd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.error_sink_enabled", newCfg.Logging.ErrorSink.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifications, newCfg.Notifications) {
		n := newCfg.Notifications
		changed = append(changed, "notifications")
		attrs = append(attrs,
			logx.String("notifications.preview_level", n.PreviewLevel),
			logx.Bool("notifications.sound_in_foreground", n.SoundInForeground),
			logx.Int("notifications.thread_sounds", len(n.ThreadSounds)),
			logx.String("notifications.throttle_window", strings.TrimSpace(n.ThrottleWindow)),
			logx.Int("notifications.throttle_max", n.ThrottleMax),
		)
	}

	oa, na := oldCfg.Adapter, newCfg.Adapter
	if !strings.EqualFold(strings.TrimSpace(oa.Driver), strings.TrimSpace(na.Driver)) ||
		oa.Telegram.OwnerChatID != na.Telegram.OwnerChatID ||
		strings.TrimSpace(oa.Telegram.PollTimeout) != strings.TrimSpace(na.Telegram.PollTimeout) ||
		oa.Telegram.RatePerSec != na.Telegram.RatePerSec ||
		oa.Telegram.Token != na.Telegram.Token {
		changed = append(changed, "adapter")
		attrs = append(attrs,
			logx.String("adapter.driver", strings.TrimSpace(na.Driver)),
			logx.Bool("adapter.telegram.token_set", strings.TrimSpace(na.Telegram.Token) != ""),
			logx.String("adapter.telegram.poll_timeout", strings.TrimSpace(na.Telegram.PollTimeout)),
			logx.Int("adapter.telegram.rate_per_sec", na.Telegram.RatePerSec),
		)
	}

	// Nil means the default in-memory store.
	var oldS, newS StorageConfig
	if oldCfg.Storage != nil {
		oldS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		newS = *newCfg.Storage
	}
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
			logx.String("storage.prune_schedule", strings.TrimSpace(newS.PruneSchedule)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports which changed sections only apply after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if s == "adapter" || s == "storage" {
			out = append(out, s)
		}
	}
	return out
}
