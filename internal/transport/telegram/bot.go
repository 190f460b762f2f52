package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "notifyd/internal/runtime/supervisor"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outgoing Bot API calls.
	RatePerSec int
}

// Client is the telebot-backed kit.Bot. It also turns incoming Telegram
// updates into kit.Update values.
type Client struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	limiter *rate.Limiter
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and its helpers. It is created on Start() and
	// cancelled on Stop().
	sup *rtsup.Supervisor

	droppedUpdates uint64

	menuMu   sync.Mutex
	menuHash uint64
	http     *http.Client
}

var _ kit.Bot = (*Client)(nil)

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg:     cfg,
		log:     log,
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		http:    &http.Client{Timeout: 8 * time.Second},
	}
	var nilOut chan<- kit.Update
	c.out.Store(nilOut)
	c.registerHandlers()
	return c, nil
}

func (c *Client) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		m := tc.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		msg := &kit.Message{
			ID:        m.ID,
			ChatID:    m.Chat.ID,
			ChatTitle: m.Chat.Title,
			IsGroup:   m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
			Text:      m.Text,
		}
		if m.Sender != nil {
			msg.FromID = m.Sender.ID
			msg.FromName = displayName(m.Sender)
		}
		if m.ReplyTo != nil {
			msg.ReplyToID = m.ReplyTo.ID
		}
		c.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: msg})
		return nil
	})

	c.bot.Handle(tele.OnCallback, func(tc tele.Context) error {
		cb := tc.Callback()
		m := tc.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		up := kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				ChatID:    m.Chat.ID,
				MessageID: m.ID,
				Data:      cb.Data,
			},
		}
		if cb.Sender != nil {
			up.Callback.FromID = cb.Sender.ID
		}
		c.sendUpdate(up)
		return nil
	})
}

func displayName(u *tele.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

func (c *Client) sendUpdate(up kit.Update) {
	out, _ := c.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&c.droppedUpdates, 1)
	}
}

// Start begins long polling and forwards updates to out until Stop.
func (c *Client) Start(ctx context.Context, out chan<- kit.Update) error {
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.out.Store(out)
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log),
		// poll errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.runMu.Unlock()

	sup.Go0("updates.drop_report", func(ctx context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&c.droppedUpdates, 0); n > 0 {
				c.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-ctx.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		c.bot.Stop()
	})

	// telebot's Start() blocks until Stop(); if it returns early while the
	// context is live, restart it.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
		if ctx.Err() == nil {
			return errors.New("poller exited")
		}
		return nil
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	wasRunning := c.running
	c.running = false
	var nilOut chan<- kit.Update
	c.out.Store(nilOut)
	c.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	c.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&c.droppedUpdates)))
	sup.Cancel()
	go c.bot.Stop()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			c.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		c.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks that are safe to send to
// Telegram. It prefers newline boundaries and, for HTML, avoids splitting
// inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (c *Client) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.limiter.Wait(ctx)
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: true,
		DisableNotification:   opt.Silent,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

// SendText sends text, split into several messages when it is too long.
// Markup is attached to the first message only; its ref is returned.
func (c *Client) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := c.wait(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := c.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// EditText replaces the text and markup of ref. Only the first chunk of an
// overlong text is kept.
func (c *Client) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := c.bot.Edit(m, chunks[0], sendOptions(opt))
	return err
}

func (c *Client) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands updates Telegram's command list (setMyCommands). It only
// performs a network call when the list changed.
func (c *Client) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	c.menuMu.Lock()
	defer c.menuMu.Unlock()

	h := fnv.New64a()
	for _, cmd := range cmds {
		h.Write([]byte(cmd.Command))
		h.Write([]byte{0})
		h.Write([]byte(cmd.Description))
		h.Write([]byte{0})
	}
	sum := h.Sum64()
	if sum == c.menuHash {
		return nil
	}

	type command struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}
	payload := struct {
		Commands []command `json:"commands"`
	}{Commands: make([]command, 0, len(cmds))}
	for _, cmd := range cmds {
		if cmd.Command == "" {
			continue
		}
		d := cmd.Description
		if d == "" {
			d = cmd.Command
		}
		payload.Commands = append(payload.Commands, command{Command: cmd.Command, Description: d})
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	url := "https://api.telegram.org/bot" + strings.TrimSpace(c.cfg.Token) + "/setMyCommands"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return fmt.Errorf("telegram setMyCommands failed: %s (code=%d http=%d)", out.Description, out.ErrorCode, resp.StatusCode)
		}
		return fmt.Errorf("telegram setMyCommands failed: http=%d", resp.StatusCode)
	}

	c.menuHash = sum
	c.log.Info("menu commands updated", logx.Int("count", len(payload.Commands)))
	return nil
}
