package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyd/internal/notify"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

const handleTimeout = 15 * time.Second

// ThreadPrefix marks thread ids that map to a Telegram chat.
const ThreadPrefix = "tg:"

// ThreadID returns the thread id used for a Telegram chat.
func ThreadID(chatID int64) string { return ThreadPrefix + strconv.FormatInt(chatID, 10) }

// ChatID extracts the chat id from a thread id built by ThreadID.
func ChatID(threadID string) (int64, bool) {
	rest, ok := strings.CutPrefix(threadID, ThreadPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

// Send delivers text to the Telegram chat behind threadID.
func (t *Tier) Send(ctx context.Context, threadID, text string) error {
	chatID, ok := ChatID(threadID)
	if !ok {
		return fmt.Errorf("thread %q is not a telegram chat", threadID)
	}
	_, err := t.bot.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}

// Serve routes updates until ctx is done or updates is closed:
//   - button presses on a shown notification go to actions
//   - a reply to a shown notification in the owner chat is a reply action
//   - "/clear" in the owner chat clears all notifications
//   - "/mute" or "/unmute" replying to a notification changes its thread
//   - any other owner message counts as linked device activity
//   - messages from other chats are incoming messages
func (t *Tier) Serve(ctx context.Context, updates <-chan kit.Update, actions kit.ActionHandler, events kit.Events) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			t.route(ctx, up, actions, events)
		}
	}
}

func (t *Tier) route(ctx context.Context, up kit.Update, actions kit.ActionHandler, events kit.Events) {
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	switch up.Kind {
	case kit.UpdateCallback:
		if up.Callback != nil {
			t.onCallback(hctx, *up.Callback, actions)
		}
	case kit.UpdateMessage:
		if up.Message != nil {
			t.onMessage(hctx, *up.Message, actions, events)
		}
	}
}

func (t *Tier) onCallback(ctx context.Context, cb kit.Callback, actions kit.ActionHandler) {
	log := t.log.With(logx.Int("message_id", cb.MessageID))
	if cb.ChatID != t.chat.ChatID {
		log.Warn("callback from foreign chat ignored", logx.Int64("chat_id", cb.ChatID))
		return
	}
	t.sync.Mark()

	action, token, ok := parseCallback(cb.Data)
	if !ok {
		log.Debug("unrecognized callback data", logx.String("data", cb.Data))
		t.answer(ctx, cb.ID, "")
		return
	}
	s, ok := t.lookupToken(token)
	if !ok {
		t.answer(ctx, cb.ID, "This notification is no longer available.")
		return
	}

	// Reply needs text; ask for it and handle the answer in onMessage.
	if action == notify.ActionReply {
		t.answer(ctx, cb.ID, replyPrompt)
		return
	}

	err := actions.Handle(ctx, s.category.Identifier(), action.Identifier(), s.payload.Clone(), "")
	if err != nil {
		t.answer(ctx, cb.ID, "Could not "+strings.ToLower(action.Title())+".")
		return
	}
	t.answer(ctx, cb.ID, action.Title())
	t.dismiss(s)
}

func (t *Tier) onMessage(ctx context.Context, m kit.Message, actions kit.ActionHandler, events kit.Events) {
	if m.ChatID != t.chat.ChatID {
		t.onInbound(ctx, m, events)
		return
	}
	t.sync.Mark()

	cmd := command(m.Text)
	if cmd == "clear" {
		if events != nil {
			events.ClearNotifications()
		}
		return
	}
	if m.ReplyToID == 0 {
		return
	}
	s, ok := t.lookupMessage(m.ReplyToID)
	if !ok {
		return
	}
	if cmd == "mute" || cmd == "unmute" {
		t.onMute(ctx, s, cmd == "mute", events)
		return
	}
	if !s.category.Allows(notify.ActionReply) {
		return
	}
	err := actions.Handle(ctx, s.category.Identifier(), notify.ActionReply.Identifier(), s.payload.Clone(), m.Text)
	if err == nil {
		t.dismiss(s)
	}
}

// command returns the bot command name of text ("/mute@bot" is "mute"), or
// "" when text is not a command.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	name, _, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name)
}

func (t *Tier) onMute(ctx context.Context, s *shown, muted bool, events kit.Events) {
	threadID, ok := s.payload.ThreadID()
	if !ok || threadID == "" || events == nil {
		return
	}
	if err := events.SetMuted(ctx, threadID, muted); err != nil {
		t.log.Warn("mute failed", logx.String("thread", threadID), logx.Err(err))
		return
	}
	if muted {
		events.CancelNotifications(threadID)
	}
}

func (t *Tier) onInbound(ctx context.Context, m kit.Message, events kit.Events) {
	if events == nil {
		return
	}
	in := kit.Inbound{
		ThreadID:   ThreadID(m.ChatID),
		SenderID:   strconv.FormatInt(m.FromID, 10),
		SenderName: m.FromName,
		MessageID:  ThreadID(m.ChatID) + "/" + strconv.Itoa(m.ID),
		Text:       m.Text,
	}
	if m.IsGroup {
		in.ThreadName = m.ChatTitle
	}
	if err := events.IncomingMessage(ctx, in); err != nil {
		t.log.Warn("incoming message not recorded", logx.Err(err), logx.String("thread", in.ThreadID))
	}
}

// dismiss forgets a notification the user acted on at once, so its buttons go
// stale, and deletes the message on the UI loop.
func (t *Tier) dismiss(s *shown) {
	t.mu.Lock()
	t.forgetLocked(s)
	t.mu.Unlock()
	t.onUI(func() {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		if err := t.bot.Delete(ctx, s.ref); err != nil {
			t.log.Debug("delete after action failed", logx.Err(err))
		}
	})
}

func (t *Tier) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := t.bot.AnswerCallback(ctx, callbackID, text); err != nil {
		t.log.Debug("answer callback failed", logx.Err(err))
	}
}
