package config

type Config struct {
	Logging       LoggingConfig       `json:"logging"`
	Notifications NotificationsConfig `json:"notifications"`
	Adapter       AdapterConfig       `json:"adapter"`
	Storage       *StorageConfig      `json:"storage,omitempty"`
}

// NotificationsConfig holds the user-facing notification preferences.
// They are read at call time, so edits apply on the next notification.
//
// Durations are Go duration strings (e.g. "5s").
//
// Defaults (when fields are omitted/zero):
//   - preview_level: "namePreview"
//   - throttle_window: "5s"
//   - throttle_max: 2
type NotificationsConfig struct {
	PreviewLevel      string `json:"preview_level"`
	SoundInForeground bool   `json:"sound_in_foreground"`
	Sound             string `json:"sound"`
	Ringtone          string `json:"ringtone"`

	// ThreadSounds overrides Sound per thread id.
	ThreadSounds map[string]string `json:"thread_sounds,omitempty"`

	// Throttle settings are read once at startup.
	ThrottleWindow string `json:"throttle_window,omitempty"`
	ThrottleMax    int    `json:"throttle_max,omitempty"`
}

// AdapterConfig selects the presentation tier.
//
// Example:
//
//	"adapter": { "driver": "telegram", "telegram": { "token": "...", "owner_chat_id": 123 } }
type AdapterConfig struct {
	Driver   string         `json:"driver"` // console (default) | telegram
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerChatID int64  `json:"owner_chat_id"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// RatePerSec caps outgoing Bot API calls. 0 means 3.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the thread/message store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/notifyd.db", "prune_schedule": "0 4 * * *" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// PruneSchedule is a standard 5-field cron expression. Empty disables pruning.
	PruneSchedule string `json:"prune_schedule,omitempty"`
	// Retention is how long read messages are kept. Defaults to 720h.
	Retention string `json:"retention,omitempty"`
}

type LoggingConfig struct {
	Level     string           `json:"level"`
	Console   bool             `json:"console"`
	File      LoggingFile      `json:"file"`
	ErrorSink LoggingErrorSink `json:"error_sink"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingErrorSink forwards error log lines to the user as threadless error
// notifications.
type LoggingErrorSink struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}
