package store

// SchemaSQL creates the session tables. Timestamps are unix milliseconds.
// The two partial unique indexes back the per-session invariants the worker
// already enforces: one processing message and one pr artifact.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'archived')),
	provider         TEXT NOT NULL,
	owner            TEXT NOT NULL,
	name             TEXT NOT NULL,
	full_name        TEXT,
	default_branch   TEXT,
	is_private       INTEGER NOT NULL DEFAULT 0,
	provider_repo_id TEXT,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS participants (
	id               TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	user_id          TEXT NOT NULL,
	provider_login   TEXT,
	provider_user_id TEXT,
	access_token     TEXT,
	refresh_token    TEXT,
	token_expires_at INTEGER,
	created_at       INTEGER NOT NULL,
	UNIQUE (session_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	author_id    TEXT NOT NULL REFERENCES participants(id),
	content      TEXT NOT NULL,
	source       TEXT,
	status       TEXT NOT NULL CHECK (status IN ('queued', 'processing', 'done', 'failed')),
	created_at   INTEGER NOT NULL,
	started_at   INTEGER,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_messages_session_status ON messages(session_id, status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_one_processing ON messages(session_id) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	kind       TEXT NOT NULL CHECK (kind IN ('branch', 'pr', 'screenshot', 'preview')),
	url        TEXT NOT NULL,
	metadata   TEXT,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_one_pr ON artifacts(session_id) WHERE kind = 'pr';

CREATE TABLE IF NOT EXISTS secrets (
	scope      TEXT NOT NULL CHECK (scope IN ('repository', 'global')),
	scope_id   TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (scope, scope_id, key)
);
`
