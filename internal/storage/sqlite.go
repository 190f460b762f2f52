package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type threadRow struct {
	ID        string `db:"id"`
	Kind      int    `db:"kind"`
	GroupName string `db:"group_name"`
	Muted     bool   `db:"muted"`
}

type recipientRow struct {
	UUID         string `db:"address_uuid"`
	Phone        string `db:"address_phone"`
	DisplayName  string `db:"display_name"`
	Verification int    `db:"verification"`
}

type messageRow struct {
	ID        string `db:"id"`
	ThreadID  string `db:"thread_id"`
	Direction string `db:"direction"`
	Sender    string `db:"sender"`
	Body      string `db:"body"`
	CreatedMS int64  `db:"created_ms"`
	Read      bool   `db:"read"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage.sqlite"))}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	current := 0
	var tables int
	if err := s.db.GetContext(ctx, &tables,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'"); err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tables > 0 {
		if err := s.db.GetContext(ctx, &current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.log.Debug("migration applied", logx.Int("version", m.version))
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func loadThread(ctx context.Context, q queryer, id string) (notify.Thread, bool, error) {
	var row threadRow
	err := q.GetContext(ctx, &row, `SELECT id, kind, group_name, muted FROM threads WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return notify.Thread{}, false, nil
	}
	if err != nil {
		return notify.Thread{}, false, fmt.Errorf("loading thread %s: %w", id, err)
	}

	var rs []recipientRow
	if err := q.SelectContext(ctx, &rs,
		`SELECT address_uuid, address_phone, display_name, verification
		 FROM recipients WHERE thread_id = ? ORDER BY position`, id); err != nil {
		return notify.Thread{}, false, fmt.Errorf("loading recipients of %s: %w", id, err)
	}

	t := notify.Thread{
		ID:        row.ID,
		Kind:      notify.ThreadKind(row.Kind),
		GroupName: row.GroupName,
		Muted:     row.Muted,
	}
	for _, r := range rs {
		t.Recipients = append(t.Recipients, notify.Recipient{
			Address:      notify.Address{UUID: r.UUID, Phone: r.Phone},
			DisplayName:  r.DisplayName,
			Verification: notify.VerificationState(r.Verification),
		})
	}
	return t, true, nil
}

func saveThread(ctx context.Context, q queryer, t notify.Thread) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO threads (id, kind, group_name, muted) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, group_name=excluded.group_name, muted=excluded.muted`,
		t.ID, int(t.Kind), t.GroupName, t.Muted,
	); err != nil {
		return fmt.Errorf("saving thread %s: %w", t.ID, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM recipients WHERE thread_id = ?`, t.ID); err != nil {
		return fmt.Errorf("clearing recipients of %s: %w", t.ID, err)
	}
	for i, r := range t.Recipients {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO recipients (thread_id, position, address_uuid, address_phone, display_name, verification)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, i, r.Address.UUID, r.Address.Phone, r.DisplayName, int(r.Verification),
		); err != nil {
			return fmt.Errorf("saving recipient %d of %s: %w", i, t.ID, err)
		}
	}
	return nil
}

func (s *sqliteStore) Thread(ctx context.Context, id string) (notify.Thread, bool, error) {
	return loadThread(ctx, s.db, id)
}

func (s *sqliteStore) Threads(ctx context.Context) ([]notify.Thread, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM threads ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	out := make([]notify.Thread, 0, len(ids))
	for _, id := range ids {
		t, ok, err := loadThread(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *sqliteStore) SaveThread(ctx context.Context, t notify.Thread) error {
	if t.ID == "" {
		return errEmptyID
	}
	return s.Update(ctx, func(tx *Tx) error { return tx.SaveThread(ctx, t) })
}

func (s *sqliteStore) SetMuted(ctx context.Context, threadID string, muted bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET muted = ? WHERE id = ?`, muted, threadID)
	if err != nil {
		return fmt.Errorf("muting thread %s: %w", threadID, err)
	}
	return requireRow(res)
}

func (s *sqliteStore) MarkAllRead(ctx context.Context, threadID string) error {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("checking thread %s: %w", threadID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET read = 1 WHERE thread_id = ? AND read = 0`, threadID); err != nil {
		return fmt.Errorf("marking thread %s read: %w", threadID, err)
	}
	return nil
}

func (s *sqliteStore) UnreadCount(ctx context.Context, threadID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE thread_id = ? AND read = 0 AND direction = ?`,
		threadID, string(Incoming))
	if err != nil {
		return 0, fmt.Errorf("counting unread in %s: %w", threadID, err)
	}
	return n, nil
}

func (s *sqliteStore) Messages(ctx context.Context, threadID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, thread_id, direction, sender, body, created_ms, read FROM (
			SELECT * FROM messages WHERE thread_id = ? ORDER BY created_ms DESC, rowid DESC LIMIT ?
		) ORDER BY created_ms ASC`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages of %s: %w", threadID, err)
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, Message{
			ID:        r.ID,
			ThreadID:  r.ThreadID,
			Direction: Direction(r.Direction),
			Sender:    r.Sender,
			Body:      r.Body,
			At:        time.UnixMilli(r.CreatedMS),
			Read:      r.Read,
		})
	}
	return out, nil
}

func (s *sqliteStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{b: &sqliteTx{tx: sqlTx}}
	if err := fn(tx); err != nil {
		tx.finish(false)
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		tx.finish(false)
		return fmt.Errorf("committing transaction: %w", err)
	}
	runCompletions(tx.finish(true))
	return nil
}

func (s *sqliteStore) PruneRead(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE read = 1 AND created_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("pruning read messages: %w", err)
	}
	return res.RowsAffected()
}

type sqliteTx struct {
	tx *sqlx.Tx
}

func (t *sqliteTx) thread(ctx context.Context, id string) (notify.Thread, bool, error) {
	return loadThread(ctx, t.tx, id)
}

func (t *sqliteTx) saveThread(ctx context.Context, th notify.Thread) error {
	return saveThread(ctx, t.tx, th)
}

func (t *sqliteTx) insertMessage(ctx context.Context, m Message) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, direction, sender, body, created_ms, read)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadID, string(m.Direction), m.Sender, m.Body, m.At.UnixMilli(), m.Read,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", m.ID, err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
