package storage

import (
	"fmt"
	"strings"

	logx "notifyd/pkg/logx"
)

// Open returns the store for cfg.Driver. "none" yields ErrDisabled; the app
// maps it to the memory driver before calling Open.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log.With(logx.String("driver", "sqlite")))
	case "none":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}
