package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

// ThreadStore looks up threads and persists read state.
type ThreadStore interface {
	Thread(ctx context.Context, id string) (notify.Thread, bool, error)
	MarkAllRead(ctx context.Context, threadID string) error
}

// MessageSender sends a message without durable queue guarantees.
type MessageSender interface {
	SendNonDurably(ctx context.Context, thread notify.Thread, text string) error
}

// CallControl drives call sessions.
type CallControl interface {
	AnswerCall(ctx context.Context, localID uuid.UUID) error
	DeclineCall(ctx context.Context, localID uuid.UUID) error
	StartOutgoingCall(ctx context.Context, addr notify.Address, video bool) error
}

// Navigator opens a conversation in the host application.
type Navigator interface {
	PresentConversation(ctx context.Context, threadID string, animated bool) error
}

// FailureNotifier presents a send failure. *notify.Presenter implements it.
type FailureNotifier interface {
	NotifyForFailedSend(thread notify.Thread)
}

// UI runs a function on the UI affinity context and waits for it.
type UI interface {
	Do(ctx context.Context, fn func()) error
}

type Deps struct {
	Threads   ThreadStore
	Sender    MessageSender
	Calls     CallControl
	Navigator Navigator
	Failures  FailureNotifier
	App       notify.AppState
	UI        UI
	Bus       eventbus.Bus
	Log       logx.Logger
}

// ActionEvent is published for every routed action.
type ActionEvent struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Router turns a user's response to a shown notification into calls on the
// application's subsystems.
type Router struct {
	threads   ThreadStore
	sender    MessageSender
	calls     CallControl
	navigator Navigator
	failures  FailureNotifier
	app       notify.AppState
	ui        UI
	bus       eventbus.Bus
	log       logx.Logger
}

func New(d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		threads:   d.Threads,
		sender:    d.Sender,
		calls:     d.Calls,
		navigator: d.Navigator,
		failures:  d.Failures,
		app:       d.App,
		ui:        d.UI,
		bus:       d.Bus,
		log:       log.With(logx.String("comp", "actions")),
	}
}

// Handle is the OS-boundary entry point: it resolves identifiers, checks that the
// category offers the action, decodes the payload and dispatches.
func (r *Router) Handle(ctx context.Context, categoryID, actionID string, payload notify.Payload, replyText string) error {
	ev := ActionEvent{Category: categoryID, Action: actionID}
	err := r.handle(ctx, categoryID, actionID, payload, replyText, &ev)
	r.report(ev, err)
	return err
}

func (r *Router) handle(ctx context.Context, categoryID, actionID string, payload notify.Payload, replyText string, ev *ActionEvent) error {
	action, ok := notify.ParseAction(actionID)
	if !ok {
		return &ValidationError{Action: actionID, Reason: "unknown action"}
	}
	category, ok := notify.ParseCategory(categoryID)
	if !ok {
		return invalid(action, "category", fmt.Sprintf("unknown category %q", categoryID))
	}
	if !category.Allows(action) {
		return invalid(action, "category", fmt.Sprintf("not offered by %s", category.Identifier()))
	}
	if id, ok := payload.ThreadID(); ok {
		ev.ThreadID = id
	}

	req, err := Decode(action, payload, replyText)
	if err != nil {
		return err
	}
	return r.Dispatch(ctx, req)
}

// Dispatch runs an already decoded request.
func (r *Router) Dispatch(ctx context.Context, req Request) error {
	switch q := req.(type) {
	case AnswerCall:
		return r.AnswerCall(ctx, q)
	case DeclineCall:
		return r.DeclineCall(ctx, q)
	case CallBack:
		return r.CallBack(ctx, q)
	case MarkAsRead:
		return r.MarkAsRead(ctx, q)
	case Reply:
		return r.Reply(ctx, q)
	case ShowThread:
		return r.ShowThread(ctx, q)
	case nil:
		return &ValidationError{Action: "<nil>", Reason: "no request"}
	default:
		return &ValidationError{Action: fmt.Sprintf("%T", req), Reason: "unsupported request"}
	}
}

func (r *Router) AnswerCall(ctx context.Context, q AnswerCall) error {
	if q.LocalCallID == uuid.Nil {
		return invalid(notify.ActionAnswerCall, "localCallId", "nil uuid")
	}
	return r.calls.AnswerCall(ctx, q.LocalCallID)
}

func (r *Router) DeclineCall(ctx context.Context, q DeclineCall) error {
	if q.LocalCallID == uuid.Nil {
		return invalid(notify.ActionDeclineCall, "localCallId", "nil uuid")
	}
	return r.calls.DeclineCall(ctx, q.LocalCallID)
}

func (r *Router) CallBack(ctx context.Context, q CallBack) error {
	if !q.Address.IsValid() {
		return invalid(notify.ActionCallBack, "callBackAddress", "missing")
	}
	return r.calls.StartOutgoingCall(ctx, q.Address, false)
}

func (r *Router) MarkAsRead(ctx context.Context, q MarkAsRead) error {
	thread, err := r.thread(ctx, notify.ActionMarkAsRead, q.ThreadID)
	if err != nil {
		return err
	}
	if err := r.threads.MarkAllRead(ctx, thread.ID); err != nil {
		return fmt.Errorf("mark thread %s read: %w", thread.ID, err)
	}
	return nil
}

// Reply marks the thread read, then sends the text. The read mark always
// completes before the send starts. A failure after validation is shown to the
// user as a failed send and not returned. Blank text is rejected.
func (r *Router) Reply(ctx context.Context, q Reply) error {
	thread, err := r.thread(ctx, notify.ActionReply, q.ThreadID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(q.Text) == "" {
		return invalid(notify.ActionReply, "replyText", "empty")
	}

	if err := r.threads.MarkAllRead(ctx, thread.ID); err != nil {
		r.log.Warn("failed to mark thread read before reply", logx.String("thread", thread.ID), logx.Err(err))
		r.failures.NotifyForFailedSend(thread)
		return nil
	}
	if err := r.sender.SendNonDurably(ctx, thread, q.Text); err != nil {
		r.log.Warn("failed to send reply message from notification", logx.String("thread", thread.ID), logx.Err(err))
		r.failures.NotifyForFailedSend(thread)
		return nil
	}
	return nil
}

// ShowThread opens the conversation. Navigation animates only when the app is
// already in the foreground, so a backgrounded app shows the thread as soon as
// it becomes active.
func (r *Router) ShowThread(ctx context.Context, q ShowThread) error {
	thread, err := r.thread(ctx, notify.ActionShowThread, q.ThreadID)
	if err != nil {
		return err
	}

	var navErr error
	run := func() {
		animated := r.app.IsForeground()
		navErr = r.navigator.PresentConversation(ctx, thread.ID, animated)
	}
	if r.ui == nil {
		run()
	} else if err := r.ui.Do(ctx, run); err != nil {
		return fmt.Errorf("show thread %s: %w", thread.ID, err)
	}
	return navErr
}

func (r *Router) thread(ctx context.Context, action notify.Action, id string) (notify.Thread, error) {
	if id == "" {
		return notify.Thread{}, invalid(action, "threadId", "missing")
	}
	t, ok, err := r.threads.Thread(ctx, id)
	if err != nil {
		return notify.Thread{}, fmt.Errorf("load thread %s: %w", id, err)
	}
	if !ok {
		return notify.Thread{}, invalid(action, "threadId", fmt.Sprintf("no thread with id %q", id))
	}
	return t, nil
}

func (r *Router) report(ev ActionEvent, err error) {
	typ := eventbus.TypeActionHandled
	if err != nil {
		typ = eventbus.TypeActionFailed
		ev.Error = err.Error()
		if errors.Is(err, ErrValidation) {
			r.log.Warn("action rejected", logx.String("action", ev.Action), logx.String("category", ev.Category), logx.Err(err))
		} else {
			r.log.Error("action failed", logx.String("action", ev.Action), logx.String("category", ev.Category), logx.Err(err))
		}
	} else {
		r.log.Debug("action handled", logx.String("action", ev.Action), logx.String("thread", ev.ThreadID))
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}
