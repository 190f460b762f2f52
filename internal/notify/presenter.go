package notify

import (
	"context"
	"fmt"
	"time"

	"notifyd/internal/eventbus"
	logx "notifyd/pkg/logx"
)

const adapterCallTimeout = 10 * time.Second

// Preferences are the user settings the presenter reads at call time.
type Preferences interface {
	PreviewLevel() PreviewLevel
	SoundInForeground() bool
	// MessageSound returns the sound for threadID; an empty threadID asks for
	// the global notification sound.
	MessageSound(threadID string) string
	Ringtone() string
}

// AppState reports whether the host application is in the foreground.
// It is only read on the UI loop.
type AppState interface {
	IsForeground() bool
}

// Executor runs functions on the single UI affinity context, in order.
type Executor interface {
	Run(fn func())
}

// Tx is a unit of work whose effects become visible on commit. Completions run
// after the commit.
type Tx interface {
	AddCompletion(fn func())
}

// PresenterOptions tune the presenter. Zero values use defaults.
type PresenterOptions struct {
	SoundWindow   time.Duration
	SoundMaxCount int
	Now           func() time.Time
	Bus           eventbus.Bus
	Log           logx.Logger
}

// PresentedEvent is published on the bus for every notification handed to the adapter.
type PresentedEvent struct {
	Category  string `json:"category"`
	ThreadID  string `json:"thread_id,omitempty"`
	Replacing string `json:"replacing,omitempty"`
	Sound     bool   `json:"sound"`
	Error     string `json:"error,omitempty"`
}

// SuppressedEvent is published when a notification is intentionally not shown.
type SuppressedEvent struct {
	ThreadID string `json:"thread_id,omitempty"`
	Reason   string `json:"reason"`
}

type soundKind int

const (
	soundNone soundKind = iota
	soundMessage
	soundRingtone
)

// pending is a decided notification waiting for its sound and the adapter call.
type pending struct {
	n     Notification
	sound soundKind
}

// Presenter decides what notification to show for each application event and
// hands it to the adapter on the UI loop.
type Presenter struct {
	adapter  Adapter
	prefs    Preferences
	app      AppState
	ui       Executor
	throttle *SoundThrottle
	now      func() time.Time
	bus      eventbus.Bus
	log      logx.Logger
}

func NewPresenter(adapter Adapter, prefs Preferences, app AppState, ui Executor, opts PresenterOptions) *Presenter {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Presenter{
		adapter:  adapter,
		prefs:    prefs,
		app:      app,
		ui:       ui,
		throttle: NewSoundThrottle(opts.SoundWindow, opts.SoundMaxCount),
		now:      now,
		bus:      opts.Bus,
		log:      log.With(logx.String("comp", "presenter")),
	}
}

// NotifyUserForIncomingCall shows a ringing call. A later missed-call
// notification for the same call replaces it.
func (p *Presenter) NotifyUserForIncomingCall(call Call, thread Thread) {
	level := p.prefs.PreviewLevel()
	pn := pending{
		n: p.redacted(level, CategoryIncomingCall, Content{
			Title:       callerName(call, thread),
			GroupingKey: thread.ID,
			Body:        TextIncomingCall,
		}),
		sound: soundRingtone,
	}
	pn.n.Payload = Payload{
		PayloadThreadID:    thread.ID,
		PayloadLocalCallID: call.LocalID.String(),
	}
	pn.n.ReplacingIdentifier = call.LocalID.String()
	p.present(pn, thread.ID, nil)
}

// NotifyUserForMissedCall shows a missed call, replacing the ringing notification.
func (p *Presenter) NotifyUserForMissedCall(call Call, thread Thread) {
	level := p.prefs.PreviewLevel()

	category := CategoryMissedCallWithoutActions
	if level.ShowsActions() {
		category = CategoryMissedCallWithActions
	}
	body := TextMissedCall
	if call.RemoteVerification == VerificationNoLongerVerified {
		category = CategoryMissedCallUnverifiedIdentity
		body = TextMissedCallUntrusted
	}

	pn := pending{
		n: p.redacted(level, category, Content{
			Title:       callerName(call, thread),
			GroupingKey: thread.ID,
			Body:        body,
		}),
		sound: soundMessage,
	}
	pn.n.Payload = Payload{PayloadThreadID: thread.ID}
	if category == CategoryMissedCallWithActions {
		pn.n.Payload[PayloadCallBackAddress] = call.Remote
	}
	pn.n.ReplacingIdentifier = call.LocalID.String()
	p.present(pn, thread.ID, nil)
}

// NotifyUserForIncomingMessage shows a received message. Nothing is shown for
// muted threads. With a non-nil tx the adapter call waits for the commit.
func (p *Presenter) NotifyUserForIncomingMessage(msg IncomingMessage, thread Thread, tx Tx) {
	if thread.Muted {
		p.publish(eventbus.TypeNotificationSuppressed, SuppressedEvent{ThreadID: thread.ID, Reason: "muted"})
		return
	}

	level := p.prefs.PreviewLevel()
	category := CategoryIncomingMessageWithoutActions
	if level.ShowsActions() {
		category = CategoryIncomingMessageWithActions
		if thread.HasNoLongerVerifiedRecipient() {
			category = CategoryIncomingMessageUnverifiedIdentity
		}
	}

	pn := pending{
		n: p.redacted(level, category, Content{
			Title:       senderTitle(msg, thread),
			GroupingKey: thread.ID,
			Body:        msg.Text,
			Previewable: true,
			GenericBody: TextNewMessage,
		}),
		sound: soundMessage,
	}
	pn.n.Payload = Payload{PayloadThreadID: thread.ID}
	p.present(pn, thread.ID, tx)
}

// NotifyUserForInfoOrError shows a system message on a thread.
func (p *Presenter) NotifyUserForInfoOrError(msg InfoMessage, thread Thread, wantsSound bool, tx Tx) {
	level := p.prefs.PreviewLevel()
	pn := pending{
		n: p.redacted(level, CategoryInfoOrError, Content{
			Title:       thread.Name(),
			GroupingKey: thread.ID,
			Body:        msg.Text,
		}),
	}
	if wantsSound {
		pn.sound = soundMessage
	}
	pn.n.Payload = Payload{PayloadThreadID: thread.ID}
	p.present(pn, thread.ID, tx)
}

// NotifyUserForThreadlessError shows an error that belongs to no thread. It
// never offers actions and is never grouped.
func (p *Presenter) NotifyUserForThreadlessError(text string, tx Tx) {
	level := p.prefs.PreviewLevel()
	pn := pending{
		n:     p.redacted(level, CategoryThreadlessError, Content{Body: text}),
		sound: soundMessage,
	}
	pn.n.Payload = Payload{}
	p.present(pn, "", tx)
}

// NotifyForFailedSend tells the user a message on thread could not be sent.
func (p *Presenter) NotifyForFailedSend(thread Thread) {
	p.NotifyUserForInfoOrError(InfoMessage{Text: TextFailedSend}, thread, true, nil)
}

// CancelNotifications removes every shown notification of a thread.
func (p *Presenter) CancelNotifications(threadID string) {
	p.onUI(func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterCallTimeout)
		defer cancel()
		if err := p.adapter.CancelNotifications(ctx, threadID); err != nil {
			p.log.Warn("cancel notifications failed", logx.String("thread", threadID), logx.Err(err))
		}
	})
}

// ClearAllNotifications removes every shown notification.
func (p *Presenter) ClearAllNotifications() {
	p.onUI(func() {
		ctx, cancel := context.WithTimeout(context.Background(), adapterCallTimeout)
		defer cancel()
		if err := p.adapter.ClearAllNotifications(ctx); err != nil {
			p.log.Warn("clear notifications failed", logx.Err(err))
		}
	})
}

func (p *Presenter) HasReceivedSyncMessageRecently() bool {
	return p.adapter.HasReceivedSyncMessageRecently()
}

func (p *Presenter) redacted(level PreviewLevel, category Category, c Content) Notification {
	r := Redact(level, c)
	return Notification{
		Category:         category,
		Title:            r.Title,
		Body:             r.Body,
		ThreadIdentifier: r.GroupingKey,
	}
}

// present finishes pn on the UI loop: the sound gate runs there, then the adapter call.
func (p *Presenter) present(pn pending, threadID string, tx Tx) {
	if pn.n.Title == "" && pn.n.Body == "" {
		p.log.Error("notification has neither title nor body; dropping",
			logx.String("category", pn.n.Category.Identifier()),
			logx.String("thread", threadID),
		)
		return
	}

	work := func() {
		p.onUI(func() {
			n := pn.n
			if pn.sound != soundNone && p.throttle.ShouldPlaySound(p.now(), p.app.IsForeground(), p.prefs.SoundInForeground()) {
				switch pn.sound {
				case soundRingtone:
					n.Sound = p.prefs.Ringtone()
				default:
					n.Sound = p.prefs.MessageSound(threadID)
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), adapterCallTimeout)
			err := p.adapter.Notify(ctx, n)
			cancel()

			ev := PresentedEvent{
				Category:  n.Category.Identifier(),
				ThreadID:  threadID,
				Replacing: n.ReplacingIdentifier,
				Sound:     n.Sound != "",
			}
			if err != nil {
				ev.Error = err.Error()
				p.log.Warn("notify failed", logx.String("category", ev.Category), logx.String("thread", threadID), logx.Err(err))
			} else {
				p.log.Debug("notification presented", logx.String("category", ev.Category), logx.String("thread", threadID), logx.Bool("sound", ev.Sound))
			}
			p.publish(eventbus.TypeNotificationPresented, ev)
		})
	}

	if tx != nil {
		tx.AddCompletion(work)
		return
	}
	work()
}

func (p *Presenter) onUI(fn func()) {
	if p.ui == nil {
		fn()
		return
	}
	p.ui.Run(fn)
}

func (p *Presenter) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.now(), Data: data})
}

func callerName(call Call, thread Thread) string {
	if call.CallerName != "" {
		return call.CallerName
	}
	return thread.Name()
}

func senderTitle(msg IncomingMessage, thread Thread) string {
	sender := msg.SenderName
	if sender == "" {
		sender = thread.Name()
	}
	if thread.Kind == ThreadGroup {
		return fmt.Sprintf(groupTitleFormat, sender, thread.Name())
	}
	return sender
}
