package config

import (
	"notifyd/internal/notify"
)

// Preferences exposes the notifications section of the live config.
type Preferences struct {
	m *ConfigManager
}

var _ notify.Preferences = (*Preferences)(nil)

func NewPreferences(m *ConfigManager) *Preferences { return &Preferences{m: m} }

func (p *Preferences) section() NotificationsConfig {
	if p == nil || p.m == nil {
		return NotificationsConfig{}
	}
	cfg := p.m.Get()
	if cfg == nil {
		return NotificationsConfig{}
	}
	return cfg.Notifications
}

// PreviewLevel falls back to the most permissive level when the stored value
// does not parse; Validate keeps that from being committed.
func (p *Preferences) PreviewLevel() notify.PreviewLevel {
	lvl, err := notify.ParsePreviewLevel(p.section().PreviewLevel)
	if err != nil {
		return notify.NamePreview
	}
	return lvl
}

func (p *Preferences) SoundInForeground() bool { return p.section().SoundInForeground }

func (p *Preferences) MessageSound(threadID string) string {
	n := p.section()
	if threadID != "" {
		if s, ok := n.ThreadSounds[threadID]; ok {
			return s
		}
	}
	return n.Sound
}

func (p *Preferences) Ringtone() string { return p.section().Ringtone }
