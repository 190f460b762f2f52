package transport

import (
	"context"

	"notifyd/internal/notify"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID        int
	ChatID    int64
	ChatTitle string
	IsGroup   bool
	FromID    int64
	FromName  string
	Text      string
	// ReplyToID is the id of the message this one replies to (0 if none).
	ReplyToID int
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode string
	// Silent delivers the message without a sound on the recipient device.
	Silent             bool
	ReplyMarkupAdapter any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// Bot is the messaging surface a chat-based tier presents notifications through.
type Bot interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	Delete(ctx context.Context, ref MessageRef) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// ActionHandler receives the user's response to a shown notification.
// *actions.Router implements it.
type ActionHandler interface {
	Handle(ctx context.Context, categoryID, actionID string, payload notify.Payload, replyText string) error
}

// Outbox delivers a message to the remote parties of a thread.
type Outbox interface {
	Send(ctx context.Context, threadID, text string) error
}

// Inbound is a message that arrived from a remote party.
type Inbound struct {
	ThreadID   string
	ThreadName string // group name; empty for direct threads
	SenderID   string
	SenderName string
	MessageID  string
	Text       string
}

// Events is how a tier reports application-level events it observed.
type Events interface {
	IncomingMessage(ctx context.Context, in Inbound) error
	IncomingCall(ctx context.Context, threadID string) error
	MissedCall(ctx context.Context, threadID string) error
	SetMuted(ctx context.Context, threadID string, muted bool) error
	// IdentityChanged records a new trust state for the thread member named
	// sender (display name or sender id).
	IdentityChanged(ctx context.Context, threadID, sender string, state notify.VerificationState) error
	SetForeground(foreground bool)

	// ClearNotifications and CancelNotifications queue the removal on the UI
	// loop; they return before the tier has removed anything.
	ClearNotifications()
	CancelNotifications(threadID string)
}
