// ABOUTME: SQLite database schema for the embedding cache and persisted chat state
// ABOUTME: Creates all tables and indexes on open
package sqlite

// Schema contains all SQL statements for database initialization
const Schema = `
-- Cached documents; accessed_at is unix nanoseconds and drives eviction
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    lang TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    raw_text TEXT NOT NULL DEFAULT '',
    accessed_at INTEGER NOT NULL
);

-- Ordered chunks of a cached document
CREATE TABLE IF NOT EXISTS chunks (
    document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    text TEXT NOT NULL,
    vector BLOB NOT NULL,
    PRIMARY KEY (document_id, position)
);

-- Key/value snapshots of message and conversation stores
CREATE TABLE IF NOT EXISTS state (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_accessed ON documents(accessed_at);
`

// SchemaVersion is the current schema version for migrations
const SchemaVersion = 1
