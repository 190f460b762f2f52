package notify

import "time"

const (
	DefaultSoundWindow   = 5 * time.Second
	DefaultSoundMaxCount = 2
)

// SoundThrottle limits how many notification sounds play while the app is in
// the foreground. It remembers the millisecond timestamps of recently played
// sounds.
//
// ShouldPlaySound mutates state when it answers true, so callers ask exactly
// once per candidate notification. It must only be called from the UI loop.
type SoundThrottle struct {
	window   time.Duration
	maxCount int
	recent   *BoundedHistory[int64]
}

// NewSoundThrottle builds a throttle allowing maxCount sounds per window.
// Zero values fall back to the defaults.
func NewSoundThrottle(window time.Duration, maxCount int) *SoundThrottle {
	if window <= 0 {
		window = DefaultSoundWindow
	}
	if maxCount <= 0 {
		maxCount = DefaultSoundMaxCount
	}
	return &SoundThrottle{
		window:   window,
		maxCount: maxCount,
		recent:   NewBoundedHistory[int64](maxCount),
	}
}

// ShouldPlaySound decides whether a notification presented at now may play a sound.
func (t *SoundThrottle) ShouldPlaySound(now time.Time, foreground, soundInForeground bool) bool {
	// A silent notification in the background would go unnoticed.
	if !foreground {
		return true
	}
	if !soundInForeground {
		return false
	}

	nowMS := now.UnixMilli()
	threshold := nowMS - t.window.Milliseconds()
	count := 0
	for _, at := range t.recent.Values() {
		if at > threshold {
			count++
		}
	}
	if count >= t.maxCount {
		return false
	}
	t.recent.Append(nowMS)
	return true
}
