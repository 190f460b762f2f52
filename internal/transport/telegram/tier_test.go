package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"notifyd/internal/notify"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
	"notifyd/pkg/tgui"
)

const ownerChat = 100

type sentMsg struct {
	ref    kit.MessageRef
	text   string
	silent bool
}

type fakeBot struct {
	mu       sync.Mutex
	nextID   int
	sent     []sentMsg
	edits    []kit.MessageRef
	deleted  []kit.MessageRef
	answers  []string
	editErr  error
	commands []kit.BotCommand
}

func (b *fakeBot) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: b.nextID}
	b.sent = append(b.sent, sentMsg{ref: ref, text: text, silent: opt != nil && opt.Silent})
	return ref, nil
}

func (b *fakeBot) EditText(_ context.Context, ref kit.MessageRef, _ string, _ *kit.SendOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.editErr != nil {
		return b.editErr
	}
	b.edits = append(b.edits, ref)
	return nil
}

func (b *fakeBot) Delete(_ context.Context, ref kit.MessageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *fakeBot) AnswerCallback(_ context.Context, _ string, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers = append(b.answers, text)
	return nil
}

func (b *fakeBot) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	b.commands = cmds
	return nil
}

type handled struct {
	category, action, reply string
	payload                 notify.Payload
}

type fakeActions struct {
	calls []handled
	err   error
}

func (f *fakeActions) Handle(_ context.Context, categoryID, actionID string, payload notify.Payload, replyText string) error {
	f.calls = append(f.calls, handled{categoryID, actionID, replyText, payload})
	return f.err
}

type fakeEvents struct {
	inbound   []kit.Inbound
	muted     map[string]bool
	cleared   int
	cancelled []string
}

func (f *fakeEvents) IncomingMessage(_ context.Context, in kit.Inbound) error {
	f.inbound = append(f.inbound, in)
	return nil
}
func (f *fakeEvents) IncomingCall(context.Context, string) error { return nil }
func (f *fakeEvents) MissedCall(context.Context, string) error   { return nil }
func (f *fakeEvents) SetForeground(bool)                         {}
func (f *fakeEvents) ClearNotifications()                        { f.cleared++ }

func (f *fakeEvents) SetMuted(_ context.Context, threadID string, muted bool) error {
	if f.muted == nil {
		f.muted = map[string]bool{}
	}
	f.muted[threadID] = muted
	return nil
}

func (f *fakeEvents) IdentityChanged(context.Context, string, string, notify.VerificationState) error {
	return nil
}

func (f *fakeEvents) CancelNotifications(threadID string) {
	f.cancelled = append(f.cancelled, threadID)
}

// queuedUI holds functions until flush, like a UI loop that has not run yet.
type queuedUI struct{ fns []func() }

func (u *queuedUI) Run(fn func()) { u.fns = append(u.fns, fn) }

func (u *queuedUI) flush() {
	fns := u.fns
	u.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func newTestTier(bot *fakeBot) *Tier {
	t := NewTier(bot, ownerChat, nil, logx.Nop())
	n := 0
	t.token = func() string {
		n++
		return "tok" + strconv.Itoa(n)
	}
	return t
}

func messageNote(replacing, sound string) notify.Notification {
	return notify.Notification{
		Category:            notify.CategoryIncomingMessageWithActions,
		Title:               "Alice",
		Body:                "hi <there>",
		ThreadIdentifier:    "t1",
		Payload:             notify.Payload{notify.PayloadThreadID: "t1"},
		Sound:               sound,
		ReplacingIdentifier: replacing,
	}
}

func callbackData(t *testing.T, a notify.Action, token string) string {
	t.Helper()
	data, err := tgui.Data(callbackScope, strconv.Itoa(int(a)), token)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestNotifySendsAndEscapes(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	ctx := context.Background()

	if err := tier.Notify(ctx, messageNote("", "")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	m := bot.sent[0]
	if m.ref.ChatID != ownerChat || !m.silent {
		t.Fatalf("message = %+v, want silent message to owner", m)
	}
	if m.text != "<b>Alice</b>\nhi &lt;there&gt;" {
		t.Fatalf("text = %q", m.text)
	}
	if err := tier.Notify(ctx, messageNote("", "note")); err != nil {
		t.Fatal(err)
	}
	if bot.sent[1].silent {
		t.Fatal("notification with a sound was sent silently")
	}
	if tier.Shown() != 2 {
		t.Fatalf("Shown = %d", tier.Shown())
	}
}

func TestNotifyReplacesByEditing(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	ctx := context.Background()

	_ = tier.Notify(ctx, messageNote("call-1", "ring"))
	_ = tier.Notify(ctx, messageNote("call-1", ""))
	if len(bot.sent) != 1 || len(bot.edits) != 1 || bot.edits[0] != bot.sent[0].ref {
		t.Fatalf("sent=%v edits=%v", bot.sent, bot.edits)
	}
	if tier.Shown() != 1 {
		t.Fatalf("Shown = %d, want 1", tier.Shown())
	}

	bot.editErr = errors.New("message to edit not found")
	_ = tier.Notify(ctx, messageNote("call-1", ""))
	if len(bot.sent) != 2 || tier.Shown() != 1 {
		t.Fatalf("failed edit should fall back to a new message: sent=%d shown=%d", len(bot.sent), tier.Shown())
	}
}

func TestCallbackRoutesAction(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	acts := &fakeActions{}
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", "note"))
	ref := bot.sent[0].ref

	tier.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: ownerChat, MessageID: ref.MessageID, Data: callbackData(t, notify.ActionMarkAsRead, "tok1"),
	}}, acts, nil)

	if len(acts.calls) != 1 {
		t.Fatalf("Handle called %d times", len(acts.calls))
	}
	c := acts.calls[0]
	if c.category != notify.CategoryIncomingMessageWithActions.Identifier() || c.action != notify.ActionMarkAsRead.Identifier() {
		t.Fatalf("call = %+v", c)
	}
	if id, _ := c.payload.ThreadID(); id != "t1" {
		t.Fatalf("payload = %v", c.payload)
	}
	if len(bot.deleted) != 1 || bot.deleted[0] != ref || tier.Shown() != 0 {
		t.Fatalf("acted notification not dismissed: deleted=%v shown=%d", bot.deleted, tier.Shown())
	}

	// Same button again: the notification is gone.
	tier.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb2", ChatID: ownerChat, Data: callbackData(t, notify.ActionMarkAsRead, "tok1"),
	}}, acts, nil)
	if len(acts.calls) != 1 || !strings.Contains(bot.answers[len(bot.answers)-1], "no longer available") {
		t.Fatalf("stale callback handled: answers=%v", bot.answers)
	}
}

func TestCallbackFailureKeepsNotification(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	acts := &fakeActions{err: errors.New("store down")}
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", ""))

	tier.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", ChatID: ownerChat, Data: callbackData(t, notify.ActionMarkAsRead, "tok1"),
	}}, acts, nil)
	if tier.Shown() != 1 || len(bot.deleted) != 0 {
		t.Fatal("failed action should not dismiss")
	}
	if bot.answers[0] != "Could not mark as read." {
		t.Fatalf("answer = %q", bot.answers[0])
	}
}

func TestReplyFlow(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	acts := &fakeActions{}
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", ""))
	ref := bot.sent[0].ref

	// The button only prompts.
	tier.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", ChatID: ownerChat, Data: callbackData(t, notify.ActionReply, "tok1"),
	}}, acts, nil)
	if len(acts.calls) != 0 || bot.answers[0] != replyPrompt {
		t.Fatalf("reply button: calls=%v answers=%v", acts.calls, bot.answers)
	}

	tier.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 50, ChatID: ownerChat, Text: "on my way", ReplyToID: ref.MessageID,
	}}, acts, nil)
	if len(acts.calls) != 1 || acts.calls[0].action != notify.ActionReply.Identifier() || acts.calls[0].reply != "on my way" {
		t.Fatalf("reply = %+v", acts.calls)
	}
	if tier.Shown() != 0 {
		t.Fatal("replied notification not dismissed")
	}
}

func TestReplyIgnoredForCategoryWithoutReply(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	acts := &fakeActions{}
	ctx := context.Background()
	n := messageNote("", "")
	n.Category = notify.CategoryInfoOrError
	_ = tier.Notify(ctx, n)

	tier.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: ownerChat, Text: "hello", ReplyToID: bot.sent[0].ref.MessageID,
	}}, acts, nil)
	if len(acts.calls) != 0 {
		t.Fatalf("reply routed for %v", n.Category)
	}
}

func TestOwnerCommandsAndSync(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	ctx := context.Background()
	if err := tier.RegisterNotificationSettings(ctx); err != nil || len(bot.commands) != 3 || bot.commands[0].Command != "clear" {
		t.Fatalf("commands = %v, err = %v", bot.commands, err)
	}
	if tier.HasReceivedSyncMessageRecently() {
		t.Fatal("fresh tier reports a sync")
	}
	_ = tier.Notify(ctx, messageNote("", ""))
	_ = tier.Notify(ctx, messageNote("", ""))

	events := &fakeEvents{}
	tier.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: ownerChat, Text: "/clear@notifyd_bot"}}, &fakeActions{}, events)
	if events.cleared != 1 {
		t.Fatalf("/clear not handed to the presenter: %+v", events)
	}
	if tier.Shown() != 2 || len(bot.deleted) != 0 {
		t.Fatalf("/clear removed messages on the update goroutine: shown %d, deleted %d", tier.Shown(), len(bot.deleted))
	}
	if !tier.HasReceivedSyncMessageRecently() {
		t.Fatal("owner activity should count as a sync")
	}
}

func TestDismissDeletesOnUILoop(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	ui := &queuedUI{}
	tier.SetExecutor(ui)
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", ""))

	tier.route(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb", ChatID: ownerChat, Data: callbackData(t, notify.ActionMarkAsRead, "tok1"),
	}}, &fakeActions{}, nil)
	if tier.Shown() != 0 {
		t.Fatal("acted notification still tracked")
	}
	if len(bot.deleted) != 0 || len(ui.fns) != 1 {
		t.Fatalf("delete ran off the UI loop: deleted=%v queued=%d", bot.deleted, len(ui.fns))
	}
	ui.flush()
	if len(bot.deleted) != 1 || bot.deleted[0] != bot.sent[0].ref {
		t.Fatalf("deleted = %v", bot.deleted)
	}
}

func TestMuteByReply(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	acts := &fakeActions{}
	events := &fakeEvents{}
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", ""))
	ref := bot.sent[0].ref

	tier.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: ownerChat, Text: "/mute", ReplyToID: ref.MessageID,
	}}, acts, events)
	if !events.muted["t1"] || len(events.cancelled) != 1 || events.cancelled[0] != "t1" {
		t.Fatalf("mute: %+v", events)
	}
	tier.route(ctx, kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: ownerChat, Text: "/unmute", ReplyToID: ref.MessageID,
	}}, acts, events)
	if events.muted["t1"] || len(events.cancelled) != 1 {
		t.Fatalf("unmute: %+v", events)
	}
	if len(acts.calls) != 0 {
		t.Fatalf("mute command sent as a reply: %+v", acts.calls)
	}
}

func TestCommandName(t *testing.T) {
	for in, want := range map[string]string{
		"/clear":          "clear",
		" /Mute@bot now ": "mute",
		"hello":           "",
		"/":               "",
	} {
		if got := command(in); got != want {
			t.Fatalf("command(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCancelNotificationsByThread(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	ctx := context.Background()
	_ = tier.Notify(ctx, messageNote("", ""))
	other := messageNote("", "")
	other.ThreadIdentifier = "t2"
	_ = tier.Notify(ctx, other)

	if err := tier.CancelNotifications(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if tier.Shown() != 1 || len(bot.deleted) != 1 || bot.deleted[0] != bot.sent[0].ref {
		t.Fatalf("cancel removed the wrong messages: %v", bot.deleted)
	}
}

func TestForeignChatIsIncomingMessage(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	events := &fakeEvents{}
	tier.route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID: 7, ChatID: -42, ChatTitle: "Family", IsGroup: true, FromID: 9, FromName: "Bob", Text: "dinner?",
	}}, &fakeActions{}, events)

	if len(events.inbound) != 1 {
		t.Fatalf("inbound = %v", events.inbound)
	}
	in := events.inbound[0]
	want := kit.Inbound{ThreadID: "tg:-42", ThreadName: "Family", SenderID: "9", SenderName: "Bob", MessageID: "tg:-42/7", Text: "dinner?"}
	if in != want {
		t.Fatalf("inbound = %+v, want %+v", in, want)
	}
	if tier.HasReceivedSyncMessageRecently() {
		t.Fatal("foreign message counted as sync")
	}
}

func TestSendAndChatID(t *testing.T) {
	bot := &fakeBot{}
	tier := newTestTier(bot)
	if err := tier.Send(context.Background(), ThreadID(-42), "hi"); err != nil {
		t.Fatal(err)
	}
	if bot.sent[0].ref.ChatID != -42 || bot.sent[0].text != "hi" {
		t.Fatalf("sent = %+v", bot.sent[0])
	}
	if err := tier.Send(context.Background(), "console-thread", "hi"); err == nil {
		t.Fatal("non-telegram thread accepted")
	}
	for _, id := range []string{"tg:", "tg:x", "42"} {
		if _, ok := ChatID(id); ok {
			t.Fatalf("ChatID(%q) accepted", id)
		}
	}
}
