package store

// Schema is the complete DDL for the Config Store (spec §6: stable
// persisted-state schema). targets carries the full Target record of
// spec §3; global_config is a key/value table (webhook_url,
// refresh_interval_ms, change_detection);
// profiles is opaque pass-through for the UI; activity_log_snapshot holds
// the most recent persisted slice of the Activity Log ring buffer.
const Schema = `
CREATE TABLE IF NOT EXISTS targets (
	id                TEXT PRIMARY KEY,
	page_ref          TEXT NOT NULL,
	initial_url       TEXT NOT NULL,
	selector          TEXT NOT NULL,
	content_mode      TEXT NOT NULL DEFAULT 'markup',
	interval_ms       INTEGER NOT NULL,
	change_detection  INTEGER NOT NULL DEFAULT 1,
	webhook_override  TEXT NOT NULL DEFAULT '',
	profile_name      TEXT NOT NULL DEFAULT '',
	enabled           INTEGER NOT NULL DEFAULT 1,
	last_hash         TEXT NOT NULL DEFAULT '',
	last_check_at     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS global_config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	name TEXT PRIMARY KEY,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_log_snapshot (
	seq     INTEGER PRIMARY KEY AUTOINCREMENT,
	entry   TEXT NOT NULL
);
`
