package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

var _ kit.Events = (*App)(nil)

// addressNamespace derives stable recipient ids for senders that only have a
// transport-local id or a name.
var addressNamespace = uuid.MustParse("4f1d7a5e-2b1c-4c55-9a61-8d0b5d2f1c3e")

func senderAddress(in kit.Inbound) notify.Address {
	key := in.SenderID
	if key == "" {
		key = in.SenderName
	}
	if key == "" {
		key = in.ThreadID
	}
	return notify.Address{UUID: uuid.NewSHA1(addressNamespace, []byte(key)).String()}
}

// upsertThread returns the thread for in, creating it or adding the sender as
// a recipient when needed. The second result reports whether it changed.
func upsertThread(cur notify.Thread, found bool, in kit.Inbound) (notify.Thread, bool) {
	if !found {
		cur = notify.Thread{ID: in.ThreadID}
		if in.ThreadName != "" {
			cur.Kind = notify.ThreadGroup
			cur.GroupName = in.ThreadName
		}
	}
	changed := !found
	if cur.Kind == notify.ThreadGroup && in.ThreadName != "" && cur.GroupName != in.ThreadName {
		cur.GroupName = in.ThreadName
		changed = true
	}
	addr := senderAddress(in)
	for _, r := range cur.Recipients {
		if r.Address == addr {
			return cur, changed
		}
	}
	cur.Recipients = append(cur.Recipients, notify.Recipient{Address: addr, DisplayName: in.SenderName})
	return cur, true
}

// IncomingMessage stores the message and shows it once the write commits.
func (a *App) IncomingMessage(ctx context.Context, in kit.Inbound) error {
	in.ThreadID = strings.TrimSpace(in.ThreadID)
	if in.ThreadID == "" {
		return fmt.Errorf("incoming message: thread id is required")
	}
	if in.MessageID == "" {
		in.MessageID = uuid.NewString()
	}
	return a.store.Update(ctx, func(tx *storage.Tx) error {
		cur, found, err := tx.Thread(ctx, in.ThreadID)
		if err != nil {
			return err
		}
		thread, changed := upsertThread(cur, found, in)
		if changed {
			if err := tx.SaveThread(ctx, thread); err != nil {
				return err
			}
		}
		if err := tx.InsertMessage(ctx, storage.Message{
			ID:        in.MessageID,
			ThreadID:  thread.ID,
			Direction: storage.Incoming,
			Sender:    in.SenderName,
			Body:      in.Text,
			At:        a.now(),
		}); err != nil {
			return err
		}
		a.presenter.NotifyUserForIncomingMessage(notify.IncomingMessage{
			ID:         in.MessageID,
			SenderName: in.SenderName,
			Text:       in.Text,
		}, thread, tx)
		return nil
	})
}

// IncomingCall rings a new call on an existing thread.
func (a *App) IncomingCall(ctx context.Context, threadID string) error {
	thread, err := a.knownThread(ctx, threadID)
	if err != nil {
		return err
	}
	call := newCall(thread)
	a.calls.ring(thread.ID, call)
	a.log.Info("incoming call", logx.String("thread", thread.ID), logx.String("call", call.LocalID.String()))
	a.presenter.NotifyUserForIncomingCall(call, thread)
	return nil
}

// MissedCall reports a missed call. A call still ringing on the thread is the
// one that was missed, so its notification is replaced.
func (a *App) MissedCall(ctx context.Context, threadID string) error {
	thread, err := a.knownThread(ctx, threadID)
	if err != nil {
		return err
	}
	call, ok := a.calls.takeForThread(thread.ID)
	if !ok {
		call = newCall(thread)
	}
	a.log.Info("missed call", logx.String("thread", thread.ID), logx.String("call", call.LocalID.String()))
	a.presenter.NotifyUserForMissedCall(call, thread)
	return nil
}

// SetMuted changes whether the thread's incoming messages are shown.
func (a *App) SetMuted(ctx context.Context, threadID string, muted bool) error {
	if err := a.store.SetMuted(ctx, threadID, muted); err != nil {
		return fmt.Errorf("mute thread %s: %w", threadID, err)
	}
	a.log.Info("thread mute changed", logx.String("thread", threadID), logx.Bool("muted", muted))
	return nil
}

// IdentityChanged stores a trust change for a thread member, records an info
// message about it and shows that message once the write commits.
func (a *App) IdentityChanged(ctx context.Context, threadID, sender string, state notify.VerificationState) error {
	return a.store.Update(ctx, func(tx *storage.Tx) error {
		cur, found, err := tx.Thread(ctx, threadID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("thread %s: %w", threadID, storage.ErrNotFound)
		}
		r, ok := findRecipient(cur, sender)
		if !ok {
			return fmt.Errorf("member %q of thread %s: %w", sender, threadID, storage.ErrNotFound)
		}
		thread, err := tx.SetVerification(ctx, threadID, r.Address, state)
		if err != nil {
			return err
		}

		name := r.DisplayName
		if name == "" {
			name = r.Address.String()
		}
		info := notify.InfoMessage{ID: uuid.NewString(), Text: notify.IdentityChangeText(name, state)}
		if err := tx.InsertMessage(ctx, storage.Message{
			ID:        info.ID,
			ThreadID:  thread.ID,
			Direction: storage.Info,
			Body:      info.Text,
			At:        a.now(),
		}); err != nil {
			return err
		}
		a.log.Info("identity trust changed", logx.String("thread", thread.ID), logx.String("state", state.String()))
		a.presenter.NotifyUserForInfoOrError(info, thread, state == notify.VerificationNoLongerVerified, tx)
		return nil
	})
}

// findRecipient matches sender against display names, then against the
// address derived for an inbound sender id.
func findRecipient(t notify.Thread, sender string) (notify.Recipient, bool) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return notify.Recipient{}, false
	}
	for _, r := range t.Recipients {
		if strings.EqualFold(r.DisplayName, sender) {
			return r, true
		}
	}
	for _, addr := range []notify.Address{
		senderAddress(kit.Inbound{SenderID: sender}),
		{UUID: sender},
		{Phone: sender},
	} {
		for _, r := range t.Recipients {
			if r.Address == addr {
				return r, true
			}
		}
	}
	return notify.Recipient{}, false
}

func (a *App) ClearNotifications() { a.presenter.ClearAllNotifications() }

func (a *App) CancelNotifications(threadID string) { a.presenter.CancelNotifications(threadID) }

func (a *App) SetForeground(foreground bool) {
	a.state.SetForeground(foreground)
	a.log.Debug("foreground changed", logx.Bool("foreground", foreground))
}

func (a *App) knownThread(ctx context.Context, threadID string) (notify.Thread, error) {
	t, ok, err := a.store.Thread(ctx, threadID)
	if err != nil {
		return notify.Thread{}, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if !ok {
		return notify.Thread{}, fmt.Errorf("thread %s: %w", threadID, storage.ErrNotFound)
	}
	return t, nil
}

func newCall(thread notify.Thread) notify.Call {
	call := notify.Call{LocalID: uuid.New(), CallerName: thread.Name()}
	if len(thread.Recipients) > 0 {
		r := thread.Recipients[0]
		call.Remote = r.Address
		call.RemoteVerification = r.Verification
		if r.DisplayName != "" {
			call.CallerName = r.DisplayName
		}
	}
	return call
}
