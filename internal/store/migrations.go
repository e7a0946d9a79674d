package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create messages",
		SQL: `
			CREATE TABLE messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				msg_id        TEXT NOT NULL UNIQUE,
				owner         TEXT NOT NULL,
				channel       TEXT NOT NULL,
				counterparty  TEXT NOT NULL,
				session_id    TEXT NOT NULL,
				direction     TEXT NOT NULL,
				content       TEXT NOT NULL,
				source        TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL
			);

			CREATE INDEX idx_messages_conversation ON messages (owner, counterparty, id);
			CREATE INDEX idx_messages_session ON messages (owner, counterparty, session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create catalog",
		SQL: `
			CREATE TABLE catalog_fields (
				owner     TEXT NOT NULL,
				name      TEXT NOT NULL,
				type      TEXT NOT NULL DEFAULT 'text',
				position  INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (owner, name)
			);

			CREATE TABLE catalog_records (
				owner     TEXT NOT NULL,
				id        TEXT NOT NULL,
				position  INTEGER NOT NULL DEFAULT 0,
				data      TEXT NOT NULL,
				PRIMARY KEY (owner, id)
			);

			CREATE INDEX idx_catalog_records_order ON catalog_records (owner, position, id);
		`,
	},
	{
		Version: 3,
		Name:    "create templates",
		SQL: `
			CREATE TABLE templates (
				id        INTEGER PRIMARY KEY AUTOINCREMENT,
				owner     TEXT NOT NULL,
				name      TEXT NOT NULL,
				triggers  TEXT NOT NULL,
				header    TEXT NOT NULL DEFAULT '',
				body      TEXT NOT NULL DEFAULT '',
				footer    TEXT NOT NULL DEFAULT '',
				active    INTEGER NOT NULL DEFAULT 1,
				position  INTEGER NOT NULL DEFAULT 0,
				UNIQUE (owner, name)
			);

			CREATE TABLE template_buttons (
				template_id  INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
				id           INTEGER NOT NULL,
				parent_id    INTEGER NOT NULL DEFAULT 0,
				type         TEXT NOT NULL,
				text         TEXT NOT NULL,
				payload      TEXT NOT NULL DEFAULT '',
				position     INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (template_id, id)
			);
		`,
	},
	{
		Version: 4,
		Name:    "create merchant settings",
		SQL: `
			CREATE TABLE merchant_settings (
				owner       TEXT PRIMARY KEY,
				data        TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);
		`,
	},
}
