package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifyd/internal/notify"
)

// memoryStore keeps everything in process memory. Transactions stage their
// writes and apply them on commit, so readers never see half a transaction.
type memoryStore struct {
	writeMu sync.Mutex // serializes Update

	mu       sync.RWMutex
	threads  map[string]notify.Thread
	messages map[string][]Message // by thread id, oldest first
}

// NewMemory returns an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		threads:  map[string]notify.Thread{},
		messages: map[string][]Message{},
	}
}

func cloneThread(t notify.Thread) notify.Thread {
	t.Recipients = append([]notify.Recipient(nil), t.Recipients...)
	return t
}

func (s *memoryStore) Thread(_ context.Context, id string) (notify.Thread, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return notify.Thread{}, false, nil
	}
	return cloneThread(t), true, nil
}

func (s *memoryStore) Threads(_ context.Context) ([]notify.Thread, error) {
	s.mu.RLock()
	out := make([]notify.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, cloneThread(t))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) SaveThread(_ context.Context, t notify.Thread) error {
	if t.ID == "" {
		return errEmptyID
	}
	s.mu.Lock()
	s.threads[t.ID] = cloneThread(t)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) SetMuted(_ context.Context, threadID string, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.Muted = muted
	s.threads[threadID] = t
	return nil
}

func (s *memoryStore) MarkAllRead(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return ErrNotFound
	}
	msgs := s.messages[threadID]
	for i := range msgs {
		msgs[i].Read = true
	}
	return nil
}

func (s *memoryStore) UnreadCount(_ context.Context, threadID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.messages[threadID] {
		if !m.Read && m.Direction == Incoming {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Messages(_ context.Context, threadID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]Message(nil), msgs...), nil
}

func (s *memoryStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	mt := &memTx{s: s, threads: map[string]notify.Thread{}}
	tx := &Tx{b: mt}
	if err := fn(tx); err != nil {
		tx.finish(false)
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.finish(false)
		return err
	}

	s.mu.Lock()
	for id, t := range mt.threads {
		s.threads[id] = t
	}
	for _, m := range mt.messages {
		s.messages[m.ThreadID] = append(s.messages[m.ThreadID], m)
	}
	s.mu.Unlock()

	runCompletions(tx.finish(true))
	return nil
}

func (s *memoryStore) PruneRead(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, msgs := range s.messages {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.Read && m.At.Before(before) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		s.messages[id] = kept
	}
	return n, nil
}

func (s *memoryStore) Close() error { return nil }

type memTx struct {
	s        *memoryStore
	threads  map[string]notify.Thread
	messages []Message
}

func (t *memTx) thread(ctx context.Context, id string) (notify.Thread, bool, error) {
	if th, ok := t.threads[id]; ok {
		return cloneThread(th), true, nil
	}
	return t.s.Thread(ctx, id)
}

func (t *memTx) saveThread(_ context.Context, th notify.Thread) error {
	t.threads[th.ID] = cloneThread(th)
	return nil
}

func (t *memTx) insertMessage(ctx context.Context, m Message) error {
	if _, ok, _ := t.thread(ctx, m.ThreadID); !ok {
		return ErrNotFound
	}
	t.messages = append(t.messages, m)
	return nil
}
