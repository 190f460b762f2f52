// Package eventbus is the in-process fanout the engine reports through:
// presented and suppressed notifications, handled actions, call control and
// navigation requests.
package eventbus

import (
	"strings"
	"sync"
	"time"
)

const (
	TypeNotificationPresented  = "notification.presented"
	TypeNotificationSuppressed = "notification.suppressed"
	TypeActionHandled          = "action.handled"
	TypeActionFailed           = "action.failed"
	TypeCallAnswer             = "call.answer"
	TypeCallDecline            = "call.decline"
	TypeCallStart              = "call.start"
	TypeNavigate               = "ui.navigate"
)

// Event is one published signal. Data should be small and JSON friendly.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Is reports whether the type is prefix or sits under it, so "call" matches
// "call.answer".
func (e Event) Is(prefix string) bool {
	return e.Type == prefix || strings.HasPrefix(e.Type, prefix+".")
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus { return &memBus{subs: map[chan Event]struct{}{}} }

type memBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// The read lock keeps unsubscribe from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel with the given buffer (8 when <= 0) and a
// function that removes and closes it. The function is idempotent.
func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}
