package protocol

// SchemaDDL defines the SQLite schema for the chronicle pipeline database.
// Tables: sessions, pending_messages, observations, observations_fts (FTS5),
// events. Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- One row per observed agent session
CREATE TABLE IF NOT EXISTS sessions (
    id INTEGER PRIMARY KEY,
    memory_session_id TEXT NOT NULL UNIQUE,
    project TEXT NOT NULL DEFAULT '',
    cwd TEXT NOT NULL DEFAULT '',
    started_at_epoch INTEGER NOT NULL,
    ended_at_epoch INTEGER,
    prompt_counter INTEGER NOT NULL DEFAULT 0
);

-- Durable per-session work queue with claim/confirm semantics
CREATE TABLE IF NOT EXISTS pending_messages (
    id INTEGER PRIMARY KEY,
    session_db_id INTEGER NOT NULL REFERENCES sessions(id),
    status TEXT NOT NULL DEFAULT 'pending',
    created_at_epoch INTEGER NOT NULL,
    claimed_at_epoch INTEGER,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_messages_claim
    ON pending_messages(session_db_id, status, created_at_epoch);

-- Deduplicated records derived from session activity
CREATE TABLE IF NOT EXISTS observations (
    id INTEGER PRIMARY KEY,
    memory_session_id TEXT NOT NULL,
    project TEXT NOT NULL DEFAULT '',
    type TEXT NOT NULL DEFAULT 'observation',
    title TEXT NOT NULL DEFAULT '',
    subtitle TEXT NOT NULL DEFAULT '',
    facts TEXT NOT NULL DEFAULT '[]',
    narrative TEXT NOT NULL DEFAULT '',
    concepts TEXT NOT NULL DEFAULT '[]',
    files_read TEXT NOT NULL DEFAULT '[]',
    files_modified TEXT NOT NULL DEFAULT '[]',
    prompt_number INTEGER,
    discovery_tokens INTEGER NOT NULL DEFAULT 0,
    content_hash TEXT NOT NULL,
    created_at_epoch INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_hash
    ON observations(content_hash, created_at_epoch);

CREATE INDEX IF NOT EXISTS idx_observations_session
    ON observations(memory_session_id, created_at_epoch);

-- FTS5 full-text index over observations for BM25-ranked search
CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
    title,
    subtitle,
    narrative,
    facts,
    concepts,
    content=observations,
    content_rowid=id
);

-- Triggers to keep FTS index in sync with observations table
CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
    INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts)
    VALUES (new.id, new.title, new.subtitle, new.narrative, new.facts, new.concepts);
END;

CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
    INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts)
    VALUES ('delete', old.id, old.title, old.subtitle, old.narrative, old.facts, old.concepts);
END;

CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
    INSERT INTO observations_fts(observations_fts, rowid, title, subtitle, narrative, facts, concepts)
    VALUES ('delete', old.id, old.title, old.subtitle, old.narrative, old.facts, old.concepts);
    INSERT INTO observations_fts(rowid, title, subtitle, narrative, facts, concepts)
    VALUES (new.id, new.title, new.subtitle, new.narrative, new.facts, new.concepts);
END;

-- Pipeline event log: watcher/queue/session lifecycle events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    session_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// MigrateDiscoveryTokens adds the discovery_tokens column to observations
// tables created before token accounting existed.
const MigrateDiscoveryTokens = `
ALTER TABLE observations ADD COLUMN discovery_tokens INTEGER NOT NULL DEFAULT 0;
`

// MigrateSessionEnd adds the ended_at_epoch column to sessions tables created
// before session teardown tracking existed.
const MigrateSessionEnd = `
ALTER TABLE sessions ADD COLUMN ended_at_epoch INTEGER;
`
