package storage

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS threads (
	id         TEXT PRIMARY KEY,
	kind       INTEGER NOT NULL DEFAULT 0,
	group_name TEXT NOT NULL DEFAULT '',
	muted      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS recipients (
	thread_id     TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	address_uuid  TEXT NOT NULL DEFAULT '',
	address_phone TEXT NOT NULL DEFAULT '',
	display_name  TEXT NOT NULL DEFAULT '',
	verification  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (thread_id, position)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
	direction  TEXT NOT NULL,
	sender     TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	created_ms INTEGER NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_ms);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
