package transport

import (
	"sync/atomic"
	"time"

	"notifyd/internal/notify"
)

// SyncClock remembers when a linked device last synced.
type SyncClock struct {
	last atomic.Int64 // unix ms; 0 means never
	now  func() time.Time
}

func NewSyncClock(now func() time.Time) *SyncClock {
	if now == nil {
		now = time.Now
	}
	return &SyncClock{now: now}
}

func (c *SyncClock) Mark() { c.last.Store(c.now().UnixMilli()) }

// Recent reports whether Mark was called within notify.SyncRecencyWindow.
func (c *SyncClock) Recent() bool {
	last := c.last.Load()
	if last == 0 {
		return false
	}
	return c.now().UnixMilli()-last < notify.SyncRecencyWindow.Milliseconds()
}
