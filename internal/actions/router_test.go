package actions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
)

// journal records the order collaborators were called in.
type journal struct {
	mu    sync.Mutex
	steps []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.steps = append(j.steps, s)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.steps...)
}

type fakeThreads struct {
	j       *journal
	threads map[string]notify.Thread
	markErr error
}

func (f *fakeThreads) Thread(_ context.Context, id string) (notify.Thread, bool, error) {
	t, ok := f.threads[id]
	return t, ok, nil
}

func (f *fakeThreads) MarkAllRead(_ context.Context, threadID string) error {
	f.j.add("read:" + threadID)
	return f.markErr
}

type fakeSender struct {
	j   *journal
	err error
}

func (f *fakeSender) SendNonDurably(_ context.Context, thread notify.Thread, text string) error {
	f.j.add("send:" + thread.ID + ":" + text)
	return f.err
}

type fakeCalls struct{ j *journal }

func (f *fakeCalls) AnswerCall(_ context.Context, id uuid.UUID) error {
	f.j.add("answer:" + id.String())
	return nil
}

func (f *fakeCalls) DeclineCall(_ context.Context, id uuid.UUID) error {
	f.j.add("decline:" + id.String())
	return nil
}

func (f *fakeCalls) StartOutgoingCall(_ context.Context, addr notify.Address, video bool) error {
	if video {
		f.j.add("video:" + addr.String())
	} else {
		f.j.add("call:" + addr.String())
	}
	return nil
}

type fakeNavigator struct{ j *journal }

func (f *fakeNavigator) PresentConversation(_ context.Context, threadID string, animated bool) error {
	if animated {
		f.j.add("show:" + threadID + ":animated")
	} else {
		f.j.add("show:" + threadID)
	}
	return nil
}

type fakeFailures struct{ j *journal }

func (f *fakeFailures) NotifyForFailedSend(thread notify.Thread) { f.j.add("failed:" + thread.ID) }

type fixedApp bool

func (f fixedApp) IsForeground() bool { return bool(f) }

type inlineUI struct{ j *journal }

func (u inlineUI) Do(_ context.Context, fn func()) error {
	u.j.add("ui")
	fn()
	return nil
}

const (
	callID   = "6f1c2b0e-1d1a-4c55-8a3b-0f4e5d6c7b8a"
	aliceID  = "0b5e6f5c-6b2a-4c7e-9a4b-2f3f3e0a1c11"
	threadID = "t1"
)

type fixture struct {
	j       *journal
	threads *fakeThreads
	sender  *fakeSender
	router  *Router
	events  <-chan eventbus.Event
}

func newFixture(t *testing.T, foreground bool) *fixture {
	t.Helper()
	j := &journal{}
	threads := &fakeThreads{j: j, threads: map[string]notify.Thread{threadID: {ID: threadID}}}
	sender := &fakeSender{j: j}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	t.Cleanup(unsub)
	r := New(Deps{
		Threads:   threads,
		Sender:    sender,
		Calls:     &fakeCalls{j: j},
		Navigator: &fakeNavigator{j: j},
		Failures:  &fakeFailures{j: j},
		App:       fixedApp(foreground),
		UI:        inlineUI{j: j},
		Bus:       bus,
	})
	return &fixture{j: j, threads: threads, sender: sender, router: r, events: events}
}

func equalSteps(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestHandleDispatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		category notify.Category
		action   notify.Action
		payload  notify.Payload
		text     string
		want     []string
	}{
		{"answer", notify.CategoryIncomingCall, notify.ActionAnswerCall,
			notify.Payload{notify.PayloadLocalCallID: callID, notify.PayloadThreadID: threadID}, "", []string{"answer:" + callID}},
		{"decline", notify.CategoryIncomingCall, notify.ActionDeclineCall,
			notify.Payload{notify.PayloadLocalCallID: callID}, "", []string{"decline:" + callID}},
		{"call back", notify.CategoryMissedCallWithActions, notify.ActionCallBack,
			notify.Payload{notify.PayloadCallBackAddress: notify.Address{UUID: aliceID}}, "", []string{"call:" + aliceID}},
		{"mark read", notify.CategoryIncomingMessageWithActions, notify.ActionMarkAsRead,
			notify.Payload{notify.PayloadThreadID: threadID}, "", []string{"read:" + threadID}},
		{"reply", notify.CategoryIncomingMessageWithActions, notify.ActionReply,
			notify.Payload{notify.PayloadThreadID: threadID}, "on my way", []string{"read:" + threadID, "send:" + threadID + ":on my way"}},
		{"show", notify.CategoryMissedCallUnverifiedIdentity, notify.ActionShowThread,
			notify.Payload{notify.PayloadThreadID: threadID}, "", []string{"ui", "show:" + threadID}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			err := f.router.Handle(context.Background(), tt.category.Identifier(), tt.action.Identifier(), tt.payload, tt.text)
			if err != nil {
				t.Fatalf("Handle: %v", err)
			}
			if got := f.j.all(); !equalSteps(got, tt.want) {
				t.Fatalf("steps = %v, want %v", got, tt.want)
			}
			e := <-f.events
			if e.Type != eventbus.TypeActionHandled {
				t.Fatalf("event = %s, want %s", e.Type, eventbus.TypeActionHandled)
			}
		})
	}
}

func TestHandleRejectsBadPayloads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		category string
		action   string
		payload  notify.Payload
		field    string
	}{
		{"unknown action", notify.CategoryIncomingCall.Identifier(), "notifyd.action.dance", notify.Payload{}, ""},
		{"unknown category", "notifyd.category.nope", notify.ActionReply.Identifier(), notify.Payload{}, "category"},
		{"category mismatch", notify.CategoryIncomingMessageWithoutActions.Identifier(), notify.ActionReply.Identifier(),
			notify.Payload{notify.PayloadThreadID: threadID}, "category"},
		{"missing call id", notify.CategoryIncomingCall.Identifier(), notify.ActionAnswerCall.Identifier(), notify.Payload{}, "localCallId"},
		{"bad call id", notify.CategoryIncomingCall.Identifier(), notify.ActionAnswerCall.Identifier(),
			notify.Payload{notify.PayloadLocalCallID: "not-a-uuid"}, "localCallId"},
		{"call id wrong type", notify.CategoryIncomingCall.Identifier(), notify.ActionDeclineCall.Identifier(),
			notify.Payload{notify.PayloadLocalCallID: 42}, "localCallId"},
		{"missing address", notify.CategoryMissedCallWithActions.Identifier(), notify.ActionCallBack.Identifier(), notify.Payload{}, "callBackAddress"},
		{"empty address", notify.CategoryMissedCallWithActions.Identifier(), notify.ActionCallBack.Identifier(),
			notify.Payload{notify.PayloadCallBackAddress: notify.Address{}}, "callBackAddress"},
		{"missing thread", notify.CategoryIncomingMessageWithActions.Identifier(), notify.ActionMarkAsRead.Identifier(), notify.Payload{}, "threadId"},
		{"empty thread", notify.CategoryIncomingMessageWithActions.Identifier(), notify.ActionMarkAsRead.Identifier(),
			notify.Payload{notify.PayloadThreadID: ""}, "threadId"},
		{"dangling thread", notify.CategoryIncomingMessageWithActions.Identifier(), notify.ActionReply.Identifier(),
			notify.Payload{notify.PayloadThreadID: "gone"}, "threadId"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, false)
			err := f.router.Handle(context.Background(), tt.category, tt.action, tt.payload, "text")
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("field = %q, want %q (err %v)", verr.Field, tt.field, err)
			}
			if steps := f.j.all(); len(steps) != 0 {
				t.Fatalf("collaborators called on invalid input: %v", steps)
			}
			if e := <-f.events; e.Type != eventbus.TypeActionFailed {
				t.Fatalf("event = %s, want %s", e.Type, eventbus.TypeActionFailed)
			}
		})
	}
}

func TestReplySendFailureNotifiesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.sender.err = errors.New("network down")

	err := f.router.Reply(context.Background(), Reply{ThreadID: threadID, Text: "hi"})
	if err != nil {
		t.Fatalf("Reply returned %v; send failures are handled locally", err)
	}
	want := []string{"read:" + threadID, "send:" + threadID + ":hi", "failed:" + threadID}
	if got := f.j.all(); !equalSteps(got, want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
}

func TestReplyMarkReadFailureSkipsSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	f.threads.markErr = errors.New("db locked")

	if err := f.router.Reply(context.Background(), Reply{ThreadID: threadID, Text: "hi"}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	want := []string{"read:" + threadID, "failed:" + threadID}
	if got := f.j.all(); !equalSteps(got, want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
}

func TestReplyRejectsBlankText(t *testing.T) {
	t.Parallel()
	for _, text := range []string{"", "   ", "\n\t"} {
		f := newFixture(t, false)
		err := f.router.Handle(context.Background(), notify.CategoryIncomingMessageWithActions.Identifier(),
			notify.ActionReply.Identifier(), notify.Payload{notify.PayloadThreadID: threadID}, text)
		var verr *ValidationError
		if !errors.As(err, &verr) || verr.Field != "replyText" {
			t.Fatalf("Handle(%q) = %v, want replyText validation error", text, err)
		}
		if steps := f.j.all(); len(steps) != 0 {
			t.Fatalf("blank reply reached collaborators: %v", steps)
		}
	}
}

func TestShowThreadAnimatesOnlyInForeground(t *testing.T) {
	t.Parallel()
	for _, fg := range []bool{false, true} {
		f := newFixture(t, fg)
		if err := f.router.ShowThread(context.Background(), ShowThread{ThreadID: threadID}); err != nil {
			t.Fatalf("ShowThread: %v", err)
		}
		want := "show:" + threadID
		if fg {
			want += ":animated"
		}
		steps := f.j.all()
		if len(steps) != 2 || steps[1] != want {
			t.Fatalf("foreground=%v: steps = %v, want [ui %s]", fg, steps, want)
		}
	}
}

func TestDispatchRejectsNilAndNilUUID(t *testing.T) {
	t.Parallel()
	f := newFixture(t, false)
	if err := f.router.Dispatch(context.Background(), nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil request: %v", err)
	}
	if err := f.router.Dispatch(context.Background(), AnswerCall{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("nil uuid: %v", err)
	}
}

func TestDecodeKeepsReplyText(t *testing.T) {
	t.Parallel()
	req, err := Decode(notify.ActionReply, notify.Payload{notify.PayloadThreadID: threadID}, "see you")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	r, ok := req.(Reply)
	if !ok || r.Text != "see you" || r.ThreadID != threadID {
		t.Fatalf("Decode = %#v", req)
	}
	if _, err := Decode(notify.ActionCallBack, notify.Payload{notify.PayloadCallBackAddress: notify.Address{Phone: "12345"}}, ""); err == nil ||
		!strings.Contains(err.Error(), "callBackAddress") {
		t.Fatalf("malformed phone accepted: %v", err)
	}
}
