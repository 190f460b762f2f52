package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

var ErrNoSuchCall = errors.New("no such call")

// appState is the foreground flag shared by the presenter and the router.
type appState struct {
	foreground atomic.Bool
}

func (s *appState) IsForeground() bool   { return s.foreground.Load() }
func (s *appState) SetForeground(v bool) { s.foreground.Store(v) }

// CallEvent is published for call control requests.
type CallEvent struct {
	LocalID  string `json:"local_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Remote   string `json:"remote,omitempty"`
	Video    bool   `json:"video,omitempty"`
}

// callControl tracks ringing calls. Real call sessions are out of process;
// requests are published on the bus.
type callControl struct {
	bus eventbus.Bus
	log logx.Logger

	mu       sync.Mutex
	ringing  map[uuid.UUID]ringingCall
	byThread map[string]uuid.UUID
}

type ringingCall struct {
	call     notify.Call
	threadID string
}

func newCallControl(bus eventbus.Bus, log logx.Logger) *callControl {
	return &callControl{
		bus:      bus,
		log:      log.With(logx.String("comp", "calls")),
		ringing:  map[uuid.UUID]ringingCall{},
		byThread: map[string]uuid.UUID{},
	}
}

// ring registers a new incoming call on threadID.
func (c *callControl) ring(threadID string, call notify.Call) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ringing[call.LocalID] = ringingCall{call: call, threadID: threadID}
	c.byThread[threadID] = call.LocalID
}

// takeForThread removes and returns the call ringing on threadID.
func (c *callControl) takeForThread(threadID string) (notify.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byThread[threadID]
	if !ok {
		return notify.Call{}, false
	}
	rc := c.ringing[id]
	delete(c.ringing, id)
	delete(c.byThread, threadID)
	return rc.call, true
}

func (c *callControl) take(id uuid.UUID) (ringingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.ringing[id]
	if !ok {
		return ringingCall{}, false
	}
	delete(c.ringing, id)
	if c.byThread[rc.threadID] == id {
		delete(c.byThread, rc.threadID)
	}
	return rc, true
}

func (c *callControl) AnswerCall(_ context.Context, localID uuid.UUID) error {
	rc, ok := c.take(localID)
	if !ok {
		return fmt.Errorf("answer %s: %w", localID, ErrNoSuchCall)
	}
	c.log.Info("call answered", logx.String("call", localID.String()), logx.String("thread", rc.threadID))
	c.publish(eventbus.TypeCallAnswer, CallEvent{LocalID: localID.String(), ThreadID: rc.threadID})
	return nil
}

func (c *callControl) DeclineCall(_ context.Context, localID uuid.UUID) error {
	rc, ok := c.take(localID)
	if !ok {
		return fmt.Errorf("decline %s: %w", localID, ErrNoSuchCall)
	}
	c.log.Info("call declined", logx.String("call", localID.String()), logx.String("thread", rc.threadID))
	c.publish(eventbus.TypeCallDecline, CallEvent{LocalID: localID.String(), ThreadID: rc.threadID})
	return nil
}

func (c *callControl) StartOutgoingCall(_ context.Context, addr notify.Address, video bool) error {
	c.log.Info("outgoing call", logx.String("remote", addr.String()), logx.Bool("video", video))
	c.publish(eventbus.TypeCallStart, CallEvent{Remote: addr.String(), Video: video})
	return nil
}

func (c *callControl) publish(typ string, ev CallEvent) {
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

// NavigateEvent is published when a conversation should be shown.
type NavigateEvent struct {
	ThreadID string `json:"thread_id"`
	Animated bool   `json:"animated"`
}

type navigator struct {
	bus eventbus.Bus
	log logx.Logger
}

func (n *navigator) PresentConversation(_ context.Context, threadID string, animated bool) error {
	n.log.Info("show conversation", logx.String("thread", threadID), logx.Bool("animated", animated))
	if n.bus != nil {
		n.bus.Publish(eventbus.Event{Type: eventbus.TypeNavigate, Time: time.Now(), Data: NavigateEvent{ThreadID: threadID, Animated: animated}})
	}
	return nil
}

// sender delivers replies through the presentation tier and records them.
type sender struct {
	out   kit.Outbox
	store storage.Store
	now   func() time.Time
	log   logx.Logger
}

func (s *sender) SendNonDurably(ctx context.Context, thread notify.Thread, text string) error {
	if err := s.out.Send(ctx, thread.ID, text); err != nil {
		return fmt.Errorf("send to %s: %w", thread.ID, err)
	}
	// The message is out; a failed record is not a failed send.
	err := s.store.Update(ctx, func(tx *storage.Tx) error {
		return tx.InsertMessage(ctx, storage.Message{
			ID:        uuid.NewString(),
			ThreadID:  thread.ID,
			Direction: storage.Outgoing,
			Body:      text,
			At:        s.now(),
			Read:      true,
		})
	})
	if err != nil {
		s.log.Warn("sent message not recorded", logx.String("thread", thread.ID), logx.Err(err))
	}
	return nil
}
