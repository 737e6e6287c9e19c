package dbstore

// migration is one schema step. Versions are sequential starting from 1.
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

CREATE TABLE IF NOT EXISTS compose_attachment (
	id           TEXT PRIMARY KEY,
	account_id   TEXT NOT NULL,
	space_id     TEXT NOT NULL,
	name         TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL,
	mime_type    TEXT NOT NULL,
	content_id   TEXT NOT NULL DEFAULT '',
	disposition  TEXT NOT NULL DEFAULT 'attachment',
	origin       TEXT NOT NULL DEFAULT 'upload',
	created_at   INTEGER NOT NULL,
	content      BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_compose_attachment_space
	ON compose_attachment(account_id, space_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
