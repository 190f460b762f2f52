package storage

import (
	"context"
	"errors"
	"time"

	"notifyd/internal/notify"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrNotFound    = errors.New("not found")
	ErrTxDone      = errors.New("transaction already finished")
	errEmptyID     = errors.New("id is required")
	errEmptyThread = errors.New("thread id is required")
)

// Config configures storage.
//
// If Driver is empty or "memory", an in-memory store is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
	// Info messages are generated locally (trust changes, errors).
	Info Direction = "info"
)

// Message is one stored message of a thread.
type Message struct {
	ID        string    `db:"id"`
	ThreadID  string    `db:"thread_id"`
	Direction Direction `db:"direction"`
	Sender    string    `db:"sender"`
	Body      string    `db:"body"`
	At        time.Time `db:"-"`
	Read      bool      `db:"read"`
}

// Store is the persistence API used by the app and the action router.
type Store interface {
	Thread(ctx context.Context, id string) (notify.Thread, bool, error)
	Threads(ctx context.Context) ([]notify.Thread, error)
	SaveThread(ctx context.Context, t notify.Thread) error
	SetMuted(ctx context.Context, threadID string, muted bool) error

	MarkAllRead(ctx context.Context, threadID string) error
	UnreadCount(ctx context.Context, threadID string) (int, error)
	Messages(ctx context.Context, threadID string, limit int) ([]Message, error)

	// Update runs fn in one transaction. Completions registered on the Tx run
	// after a successful commit, in registration order; they are discarded on
	// rollback.
	Update(ctx context.Context, fn func(tx *Tx) error) error

	// PruneRead deletes read messages older than before and returns how many went.
	PruneRead(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// txBackend is what a driver provides to a Tx.
type txBackend interface {
	thread(ctx context.Context, id string) (notify.Thread, bool, error)
	saveThread(ctx context.Context, t notify.Thread) error
	insertMessage(ctx context.Context, m Message) error
}

// Tx is an open write transaction. It satisfies notify.Tx.
type Tx struct {
	b           txBackend
	done        bool
	completions []func()
}

var _ notify.Tx = (*Tx)(nil)

// AddCompletion registers fn to run once the transaction has committed.
func (t *Tx) AddCompletion(fn func()) {
	if fn == nil {
		return
	}
	t.completions = append(t.completions, fn)
}

func (t *Tx) Thread(ctx context.Context, id string) (notify.Thread, bool, error) {
	if t.done {
		return notify.Thread{}, false, ErrTxDone
	}
	return t.b.thread(ctx, id)
}

func (t *Tx) SaveThread(ctx context.Context, th notify.Thread) error {
	if t.done {
		return ErrTxDone
	}
	if th.ID == "" {
		return errEmptyID
	}
	return t.b.saveThread(ctx, th)
}

// SetVerification changes the trust state of the recipient at addr and
// returns the updated thread.
func (t *Tx) SetVerification(ctx context.Context, threadID string, addr notify.Address, state notify.VerificationState) (notify.Thread, error) {
	th, ok, err := t.Thread(ctx, threadID)
	if err != nil {
		return notify.Thread{}, err
	}
	if !ok {
		return notify.Thread{}, ErrNotFound
	}
	found := false
	for i := range th.Recipients {
		if th.Recipients[i].Address == addr {
			th.Recipients[i].Verification = state
			found = true
		}
	}
	if !found {
		return notify.Thread{}, ErrNotFound
	}
	if err := t.SaveThread(ctx, th); err != nil {
		return notify.Thread{}, err
	}
	return th, nil
}

func (t *Tx) InsertMessage(ctx context.Context, m Message) error {
	if t.done {
		return ErrTxDone
	}
	if m.ID == "" {
		return errEmptyID
	}
	if m.ThreadID == "" {
		return errEmptyThread
	}
	if m.At.IsZero() {
		m.At = time.Now()
	}
	if m.Direction == "" {
		m.Direction = Incoming
	}
	return t.b.insertMessage(ctx, m)
}

// finish closes the transaction and returns the completions to run.
func (t *Tx) finish(committed bool) []func() {
	t.done = true
	if !committed {
		t.completions = nil
		return nil
	}
	out := t.completions
	t.completions = nil
	return out
}

func runCompletions(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
