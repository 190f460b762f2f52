package console

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"notifyd/internal/notify"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

type handled struct {
	category, action, reply string
	payload                 notify.Payload
}

type fakeActions struct{ calls []handled }

func (f *fakeActions) Handle(_ context.Context, categoryID, actionID string, payload notify.Payload, replyText string) error {
	f.calls = append(f.calls, handled{categoryID, actionID, replyText, payload})
	return nil
}

type trustChange struct {
	thread, who string
	state       notify.VerificationState
}

type fakeEvents struct {
	inbound    []kit.Inbound
	calls      []string
	missed     []string
	foreground []bool
	muted      map[string]bool
	trust      []trustChange
	cleared    int
	cancelled  []string
}

func (f *fakeEvents) IncomingMessage(_ context.Context, in kit.Inbound) error {
	f.inbound = append(f.inbound, in)
	return nil
}

func (f *fakeEvents) IncomingCall(_ context.Context, threadID string) error {
	f.calls = append(f.calls, threadID)
	return nil
}

func (f *fakeEvents) MissedCall(_ context.Context, threadID string) error {
	f.missed = append(f.missed, threadID)
	return nil
}

func (f *fakeEvents) SetMuted(_ context.Context, threadID string, muted bool) error {
	if f.muted == nil {
		f.muted = map[string]bool{}
	}
	f.muted[threadID] = muted
	return nil
}

func (f *fakeEvents) IdentityChanged(_ context.Context, threadID, who string, state notify.VerificationState) error {
	f.trust = append(f.trust, trustChange{threadID, who, state})
	return nil
}

func (f *fakeEvents) SetForeground(fg bool) { f.foreground = append(f.foreground, fg) }

func (f *fakeEvents) ClearNotifications() { f.cleared++ }

func (f *fakeEvents) CancelNotifications(threadID string) {
	f.cancelled = append(f.cancelled, threadID)
}

func newTestTier() (*Tier, *bytes.Buffer) {
	var out bytes.Buffer
	return New(&out, nil, logx.Nop()), &out
}

func note(thread, replacing string) notify.Notification {
	return notify.Notification{
		Category:            notify.CategoryIncomingMessageWithActions,
		Title:               "Alice",
		Body:                "hello",
		ThreadIdentifier:    thread,
		Payload:             notify.Payload{notify.PayloadThreadID: thread},
		Sound:               "note",
		ReplacingIdentifier: replacing,
	}
}

func TestNotifyNumbersAndReplaces(t *testing.T) {
	tier, out := newTestTier()
	ctx := context.Background()

	_ = tier.Notify(ctx, note("t1", ""))
	_ = tier.Notify(ctx, note("t2", "call-1"))
	_ = tier.Notify(ctx, note("t2", "call-1"))

	got := out.String()
	for _, want := range []string{
		"[#1 new] incomingMessageWithActions (sound: note)\n  Alice\n  hello\n  actions: markAsRead, reply",
		"[#2 new]",
		"[#2 updated]",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "#3") {
		t.Fatalf("replacement got a new number:\n%s", got)
	}
}

func TestCancelAndClear(t *testing.T) {
	tier, out := newTestTier()
	ctx := context.Background()
	_ = tier.Notify(ctx, note("t1", ""))
	_ = tier.Notify(ctx, note("t2", ""))
	_ = tier.Notify(ctx, note("t1", ""))

	_ = tier.CancelNotifications(ctx, "t1")
	if !strings.Contains(out.String(), "[cancelled #1 #3]") {
		t.Fatalf("output:\n%s", out.String())
	}
	_ = tier.ClearAllNotifications(ctx)
	if !strings.Contains(out.String(), "[cleared #2]") {
		t.Fatalf("output:\n%s", out.String())
	}
	out.Reset()
	tier.list()
	if out.String() != "no notifications\n" {
		t.Fatalf("list = %q", out.String())
	}
}

func TestExecCommands(t *testing.T) {
	tier, out := newTestTier()
	acts := &fakeActions{}
	events := &fakeEvents{}
	ctx := context.Background()
	_ = tier.Notify(ctx, note("t1", ""))

	lines := []string{
		"act 1 reply on my way  home",
		"act #1 markAsRead",
		"msg t9 bob are you there?",
		"call t9",
		"miss t9",
		"fg on",
		"fg off",
		"",
		"list",
	}
	for _, l := range lines {
		if err := tier.Exec(ctx, l, acts, events); err != nil {
			t.Fatalf("Exec(%q): %v", l, err)
		}
	}

	if len(acts.calls) != 2 {
		t.Fatalf("actions = %+v", acts.calls)
	}
	if acts.calls[0].action != notify.ActionReply.Identifier() || acts.calls[0].reply != "on my way  home" {
		t.Fatalf("reply = %+v", acts.calls[0])
	}
	if id, _ := acts.calls[1].payload.ThreadID(); id != "t1" || acts.calls[1].action != notify.ActionMarkAsRead.Identifier() {
		t.Fatalf("mark read = %+v", acts.calls[1])
	}
	if len(events.inbound) != 1 || events.inbound[0].ThreadID != "t9" || events.inbound[0].SenderName != "bob" || events.inbound[0].Text != "are you there?" {
		t.Fatalf("inbound = %+v", events.inbound)
	}
	if len(events.calls) != 1 || len(events.missed) != 1 || len(events.foreground) != 2 || !events.foreground[0] {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(out.String(), "[#1 shown]") {
		t.Fatalf("list output:\n%s", out.String())
	}

	if tier.HasReceivedSyncMessageRecently() {
		t.Fatal("sync before sync command")
	}
	_ = tier.Exec(ctx, "sync", acts, events)
	if !tier.HasReceivedSyncMessageRecently() {
		t.Fatal("sync command not recorded")
	}
}

func TestClearAndCancelGoThroughEvents(t *testing.T) {
	tier, out := newTestTier()
	events := &fakeEvents{}
	ctx := context.Background()
	_ = tier.Notify(ctx, note("t1", ""))
	out.Reset()

	for _, l := range []string{"clear", "cancel t1"} {
		if err := tier.Exec(ctx, l, &fakeActions{}, events); err != nil {
			t.Fatalf("Exec(%q): %v", l, err)
		}
	}
	if events.cleared != 1 || len(events.cancelled) != 1 || events.cancelled[0] != "t1" {
		t.Fatalf("events = %+v", events)
	}
	// Removal is the presenter's job on the UI loop, not the command reader's.
	if out.Len() != 0 {
		t.Fatalf("tier removed notifications itself:\n%s", out.String())
	}
	out.Reset()
	tier.list()
	if !strings.Contains(out.String(), "[#1 shown]") {
		t.Fatalf("list = %q", out.String())
	}
}

func TestMuteAndVerifyCommands(t *testing.T) {
	tier, _ := newTestTier()
	events := &fakeEvents{}
	ctx := context.Background()

	for _, l := range []string{"mute t1 on", "mute t2 off", "verify t1 alice no_longer_verified", "verify t1 bob verified"} {
		if err := tier.Exec(ctx, l, &fakeActions{}, events); err != nil {
			t.Fatalf("Exec(%q): %v", l, err)
		}
	}
	if !events.muted["t1"] || events.muted["t2"] {
		t.Fatalf("muted = %v", events.muted)
	}
	want := []trustChange{
		{"t1", "alice", notify.VerificationNoLongerVerified},
		{"t1", "bob", notify.VerificationVerified},
	}
	if len(events.trust) != len(want) || events.trust[0] != want[0] || events.trust[1] != want[1] {
		t.Fatalf("trust = %+v", events.trust)
	}
}

func TestExecErrors(t *testing.T) {
	tier, _ := newTestTier()
	ctx := context.Background()
	_ = tier.Notify(ctx, note("t1", ""))

	tests := []struct {
		line string
		want string
	}{
		{"act 1", "usage"},
		{"act x reply", "bad notification number"},
		{"act 9 reply", "no notification #9"},
		{"act 1 dance", "unknown action"},
		{"msg t1 bob", "usage"},
		{"call", "usage"},
		{"fg maybe", "usage"},
		{"mute t1", "usage"},
		{"mute t1 maybe", "usage"},
		{"verify t1 alice", "usage"},
		{"verify t1 alice trusted", "unknown verification state"},
		{"cancel", "usage"},
		{"frobnicate", "unknown command"},
	}
	for _, tt := range tests {
		err := tier.Exec(ctx, tt.line, &fakeActions{}, &fakeEvents{})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("Exec(%q) = %v, want error containing %q", tt.line, err, tt.want)
		}
	}
}

func TestServeReadsUntilEOF(t *testing.T) {
	tier, out := newTestTier()
	events := &fakeEvents{}
	in := strings.NewReader("fg on\nbogus\nmiss t1\n")

	if err := tier.Serve(context.Background(), in, &fakeActions{}, events); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(events.foreground) != 1 || len(events.missed) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(out.String(), "error: unknown command") {
		t.Fatalf("output:\n%s", out.String())
	}
}

func TestSendPrints(t *testing.T) {
	tier, out := newTestTier()
	_ = tier.Send(context.Background(), "t1", "hi")
	if out.String() != "-> t1: hi\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestRestAfter(t *testing.T) {
	if got := restAfter("  act 1  reply  hello  there ", 3); got != "hello  there" {
		t.Fatalf("restAfter = %q", got)
	}
	if got := restAfter("act 1", 3); got != "" {
		t.Fatalf("restAfter = %q", got)
	}
}
