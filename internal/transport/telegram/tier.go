package telegram

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"notifyd/internal/notify"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
	"notifyd/pkg/tgui"
)

// callbackScope prefixes the callback data of every notification button.
const callbackScope = "nd"

const (
	bodyLimitRunes = 3500
	replyPrompt    = "Reply to this message to send a reply."
)

// shown is one notification currently visible in the owner chat.
type shown struct {
	token     string
	ref       kit.MessageRef
	category  notify.Category
	payload   notify.Payload
	thread    string
	replacing string
}

// Tier presents notifications as messages in the owner's Telegram chat, with
// the category's actions as inline buttons. It implements notify.Adapter.
type Tier struct {
	bot   kit.Bot
	chat  kit.ChatTarget
	log   logx.Logger
	sync  *kit.SyncClock
	token func() string
	ui    notify.Executor

	mu          sync.Mutex
	byToken     map[string]*shown
	byMessage   map[int]*shown
	byReplacing map[string]*shown
}

var _ notify.Adapter = (*Tier)(nil)

func NewTier(bot kit.Bot, ownerChatID int64, clock *kit.SyncClock, log logx.Logger) *Tier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = kit.NewSyncClock(nil)
	}
	return &Tier{
		bot:         bot,
		chat:        kit.ChatTarget{ChatID: ownerChatID},
		log:         log.With(logx.String("comp", "telegram.tier")),
		sync:        clock,
		token:       randomToken,
		byToken:     map[string]*shown{},
		byMessage:   map[int]*shown{},
		byReplacing: map[string]*shown{},
	}
}

// SetExecutor makes the tier delete acted-on notifications on ui, the same
// context the presenter calls it on. Without one they are deleted inline.
func (t *Tier) SetExecutor(ui notify.Executor) { t.ui = ui }

func (t *Tier) onUI(fn func()) {
	if t.ui == nil {
		fn()
		return
	}
	t.ui.Run(fn)
}

func randomToken() string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RegisterNotificationSettings publishes the bot command menu.
func (t *Tier) RegisterNotificationSettings(ctx context.Context) error {
	return t.bot.UpdateMenuCommands(ctx, []kit.BotCommand{
		{Command: "clear", Description: "Clear all notifications"},
		{Command: "mute", Description: "Reply to a notification to mute its thread"},
		{Command: "unmute", Description: "Reply to a notification to unmute its thread"},
	})
}

// Notify sends n, or edits the message previously shown under the same
// replacing identifier.
func (t *Tier) Notify(ctx context.Context, n notify.Notification) error {
	t.mu.Lock()
	prev := t.byReplacing[n.ReplacingIdentifier]
	if n.ReplacingIdentifier == "" {
		prev = nil
	}
	t.mu.Unlock()

	s := &shown{
		token:     t.token(),
		category:  n.Category,
		payload:   n.Payload.Clone(),
		thread:    n.ThreadIdentifier,
		replacing: n.ReplacingIdentifier,
	}
	markup, err := keyboard(n.Category, s.token)
	if err != nil {
		return err
	}
	opt := &kit.SendOptions{ParseMode: "HTML", Silent: n.Sound == ""}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup.Markup()
	}
	text := render(n)

	if prev != nil {
		err := t.bot.EditText(ctx, prev.ref, text, opt)
		if err == nil {
			s.ref = prev.ref
			t.remember(s, prev)
			return nil
		}
		t.log.Debug("edit failed; sending new message", logx.Err(err), logx.String("replacing", n.ReplacingIdentifier))
	}

	ref, err := t.bot.SendText(ctx, t.chat, text, opt)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	s.ref = ref
	t.remember(s, prev)
	return nil
}

func (t *Tier) remember(s, prev *shown) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev != nil {
		t.forgetLocked(prev)
	}
	t.byToken[s.token] = s
	t.byMessage[s.ref.MessageID] = s
	if s.replacing != "" {
		t.byReplacing[s.replacing] = s
	}
}

func (t *Tier) forgetLocked(s *shown) {
	delete(t.byToken, s.token)
	if cur := t.byMessage[s.ref.MessageID]; cur == s {
		delete(t.byMessage, s.ref.MessageID)
	}
	if cur := t.byReplacing[s.replacing]; cur == s {
		delete(t.byReplacing, s.replacing)
	}
}

// CancelNotifications deletes every shown message of threadID.
func (t *Tier) CancelNotifications(ctx context.Context, threadID string) error {
	return t.deleteWhere(ctx, func(s *shown) bool { return s.thread == threadID })
}

func (t *Tier) ClearAllNotifications(ctx context.Context) error {
	return t.deleteWhere(ctx, func(*shown) bool { return true })
}

func (t *Tier) deleteWhere(ctx context.Context, match func(*shown) bool) error {
	t.mu.Lock()
	var victims []*shown
	for _, s := range t.byToken {
		if match(s) {
			victims = append(victims, s)
			t.forgetLocked(s)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, s := range victims {
		if err := t.bot.Delete(ctx, s.ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tier) HasReceivedSyncMessageRecently() bool { return t.sync.Recent() }

// Shown returns how many notifications are currently tracked.
func (t *Tier) Shown() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byToken)
}

func (t *Tier) lookupToken(token string) (*shown, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byToken[token]
	return s, ok
}

func (t *Tier) lookupMessage(id int) (*shown, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byMessage[id]
	return s, ok
}

func keyboard(c notify.Category, token string) (*tgui.Keyboard, error) {
	actions := c.Actions()
	if len(actions) == 0 {
		return nil, nil
	}
	btns := make([]tgui.Button, 0, len(actions))
	for _, a := range actions {
		data, err := tgui.Data(callbackScope, strconv.Itoa(int(a)), token)
		if err != nil {
			return nil, err
		}
		btns = append(btns, tgui.Btn(a.Title(), data))
	}
	return tgui.NewKeyboard().Row(btns...), nil
}

func parseCallback(data string) (notify.Action, string, bool) {
	scope, action, token, ok := tgui.ParseData(data)
	if !ok || scope != callbackScope || token == "" {
		return 0, "", false
	}
	idx, err := strconv.Atoi(action)
	if err != nil {
		return 0, "", false
	}
	for _, a := range notify.Actions() {
		if int(a) == idx {
			return a, token, true
		}
	}
	return 0, "", false
}

func render(n notify.Notification) string {
	body := tgui.Esc(tgui.TruncRunes(n.Body, bodyLimitRunes))
	if strings.TrimSpace(n.Title) == "" {
		return body.String()
	}
	return tgui.JoinH("\n", tgui.B(n.Title), body).String()
}
