// Package console is the terminal presentation tier. Notifications are printed
// as numbered lines, and a small command language read from an input stream
// lets a user act on them and inject events.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"notifyd/internal/notify"
	kit "notifyd/internal/transport"
	logx "notifyd/pkg/logx"
)

const handleTimeout = 15 * time.Second

type entry struct {
	n         int
	note      notify.Notification
	replacing string
}

// Tier implements notify.Adapter on a text stream.
type Tier struct {
	log  logx.Logger
	sync *kit.SyncClock

	outMu sync.Mutex
	out   io.Writer

	mu          sync.Mutex
	seq         int
	byNumber    map[int]*entry
	byReplacing map[string]*entry
}

var _ notify.Adapter = (*Tier)(nil)

func New(out io.Writer, clock *kit.SyncClock, log logx.Logger) *Tier {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clock == nil {
		clock = kit.NewSyncClock(nil)
	}
	return &Tier{
		log:         log.With(logx.String("comp", "console.tier")),
		sync:        clock,
		out:         out,
		byNumber:    map[int]*entry{},
		byReplacing: map[string]*entry{},
	}
}

func (t *Tier) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	_, _ = fmt.Fprintf(t.out, format, args...)
}

func (t *Tier) RegisterNotificationSettings(_ context.Context) error {
	t.printf("notifications ready; type \"help\" for commands\n")
	return nil
}

func (t *Tier) Notify(_ context.Context, n notify.Notification) error {
	t.mu.Lock()
	e := t.byReplacing[n.ReplacingIdentifier]
	verb := "updated"
	if n.ReplacingIdentifier == "" || e == nil {
		t.seq++
		e = &entry{n: t.seq, replacing: n.ReplacingIdentifier}
		verb = "new"
	}
	e.note = n
	e.note.Payload = n.Payload.Clone()
	t.byNumber[e.n] = e
	if e.replacing != "" {
		t.byReplacing[e.replacing] = e
	}
	t.mu.Unlock()

	t.printf("%s\n", format(e, verb))
	return nil
}

func format(e *entry, verb string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[#%d %s] %s", e.n, verb, shortName(e.note.Category.Identifier()))
	if e.note.Sound != "" {
		fmt.Fprintf(&b, " (sound: %s)", e.note.Sound)
	}
	if e.note.Title != "" {
		fmt.Fprintf(&b, "\n  %s", e.note.Title)
	}
	if e.note.Body != "" {
		fmt.Fprintf(&b, "\n  %s", e.note.Body)
	}
	if acts := e.note.Category.Actions(); len(acts) > 0 {
		names := make([]string, 0, len(acts))
		for _, a := range acts {
			names = append(names, shortName(a.Identifier()))
		}
		fmt.Fprintf(&b, "\n  actions: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func shortName(identifier string) string {
	if i := strings.LastIndexByte(identifier, '.'); i >= 0 {
		return identifier[i+1:]
	}
	return identifier
}

func (t *Tier) CancelNotifications(_ context.Context, threadID string) error {
	removed := t.remove(func(e *entry) bool { return e.note.ThreadIdentifier == threadID })
	if len(removed) > 0 {
		t.printf("[cancelled %s]\n", joinNumbers(removed))
	}
	return nil
}

func (t *Tier) ClearAllNotifications(_ context.Context) error {
	removed := t.remove(func(*entry) bool { return true })
	if len(removed) > 0 {
		t.printf("[cleared %s]\n", joinNumbers(removed))
	}
	return nil
}

func (t *Tier) remove(match func(*entry) bool) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for n, e := range t.byNumber {
		if !match(e) {
			continue
		}
		delete(t.byNumber, n)
		if e.replacing != "" && t.byReplacing[e.replacing] == e {
			delete(t.byReplacing, e.replacing)
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func joinNumbers(ns []int) string {
	ss := make([]string, len(ns))
	for i, n := range ns {
		ss[i] = "#" + strconv.Itoa(n)
	}
	return strings.Join(ss, " ")
}

func (t *Tier) HasReceivedSyncMessageRecently() bool { return t.sync.Recent() }

// Send prints an outgoing message for threadID.
func (t *Tier) Send(_ context.Context, threadID, text string) error {
	t.printf("-> %s: %s\n", threadID, text)
	return nil
}

func (t *Tier) lookup(n int) (notify.Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byNumber[n]
	if !ok {
		return notify.Notification{}, false
	}
	note := e.note
	note.Payload = e.note.Payload.Clone()
	return note, true
}

// Serve reads commands from in, one per line, until ctx is done or in hits EOF.
//
// The reading goroutine blocks in Read and only exits once in returns; callers
// that need a clean shutdown should close in.
func (t *Tier) Serve(ctx context.Context, in io.Reader, actions kit.ActionHandler, events kit.Events) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			hctx, cancel := context.WithTimeout(ctx, handleTimeout)
			if err := t.Exec(hctx, line, actions, events); err != nil {
				t.printf("error: %v\n", err)
			}
			cancel()
		}
	}
}

const helpText = `commands:
  act <n> <action> [text]        respond to notification #n (e.g. "act 3 reply on my way")
  msg <thread> <sender> <text>   deliver an incoming message
  call <thread>                  ring an incoming call
  miss <thread>                  report a missed call
  mute <thread> on|off           mute or unmute a thread
  verify <thread> <who> <state>  set a member's trust (default, verified, no_longer_verified)
  fg on|off                      set whether the app is in the foreground
  sync                           record a linked device sync
  cancel <thread>                remove a thread's notifications
  clear                          clear all notifications
  list                           show current notifications`

// Exec runs one command line.
func (t *Tier) Exec(ctx context.Context, line string, actions kit.ActionHandler, events kit.Events) error {
	f := strings.Fields(line)
	if len(f) == 0 {
		return nil
	}
	switch strings.ToLower(f[0]) {
	case "help", "?":
		t.printf("%s\n", helpText)
		return nil
	case "act":
		if len(f) < 3 {
			return fmt.Errorf("usage: act <n> <action> [text]")
		}
		return t.act(ctx, f[1], f[2], restAfter(line, 3), actions)
	case "msg":
		if len(f) < 4 {
			return fmt.Errorf("usage: msg <thread> <sender> <text>")
		}
		return events.IncomingMessage(ctx, kit.Inbound{
			ThreadID:   f[1],
			SenderName: f[2],
			MessageID:  fmt.Sprintf("console-%d", time.Now().UnixNano()),
			Text:       restAfter(line, 3),
		})
	case "call":
		if len(f) != 2 {
			return fmt.Errorf("usage: call <thread>")
		}
		return events.IncomingCall(ctx, f[1])
	case "miss":
		if len(f) != 2 {
			return fmt.Errorf("usage: miss <thread>")
		}
		return events.MissedCall(ctx, f[1])
	case "mute":
		if len(f) != 3 || (f[2] != "on" && f[2] != "off") {
			return fmt.Errorf("usage: mute <thread> on|off")
		}
		return events.SetMuted(ctx, f[1], f[2] == "on")
	case "verify":
		if len(f) != 4 {
			return fmt.Errorf("usage: verify <thread> <who> <state>")
		}
		state, err := notify.ParseVerificationState(f[3])
		if err != nil {
			return err
		}
		return events.IdentityChanged(ctx, f[1], f[2], state)
	case "fg":
		if len(f) != 2 || (f[1] != "on" && f[1] != "off") {
			return fmt.Errorf("usage: fg on|off")
		}
		events.SetForeground(f[1] == "on")
		return nil
	case "sync":
		t.sync.Mark()
		return nil
	case "cancel":
		if len(f) != 2 {
			return fmt.Errorf("usage: cancel <thread>")
		}
		events.CancelNotifications(f[1])
		return nil
	case "clear":
		events.ClearNotifications()
		return nil
	case "list":
		t.list()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", f[0])
	}
}

func (t *Tier) act(ctx context.Context, num, name, text string, actions kit.ActionHandler) error {
	n, err := strconv.Atoi(strings.TrimPrefix(num, "#"))
	if err != nil {
		return fmt.Errorf("bad notification number %q", num)
	}
	note, ok := t.lookup(n)
	if !ok {
		return fmt.Errorf("no notification #%d", n)
	}
	action, ok := actionByName(name)
	if !ok {
		return fmt.Errorf("unknown action %q", name)
	}
	return actions.Handle(ctx, note.Category.Identifier(), action.Identifier(), note.Payload, text)
}

func actionByName(name string) (notify.Action, bool) {
	for _, a := range notify.Actions() {
		if strings.EqualFold(shortName(a.Identifier()), name) {
			return a, true
		}
	}
	return 0, false
}

func (t *Tier) list() {
	t.mu.Lock()
	es := make([]*entry, 0, len(t.byNumber))
	for _, e := range t.byNumber {
		es = append(es, e)
	}
	t.mu.Unlock()
	sort.Slice(es, func(i, j int) bool { return es[i].n < es[j].n })
	if len(es) == 0 {
		t.printf("no notifications\n")
		return
	}
	for _, e := range es {
		t.printf("%s\n", format(e, "shown"))
	}
}

// restAfter returns line with its first n fields removed.
func restAfter(line string, n int) string {
	s := strings.TrimSpace(line)
	for i := 0; i < n; i++ {
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = strings.TrimSpace(s[j:])
	}
	return s
}
