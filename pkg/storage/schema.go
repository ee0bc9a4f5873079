package storage

import (
	"context"
	"database/sql"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	credential TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	last_active DATETIME NOT NULL,
	max_storage_bytes INTEGER NOT NULL DEFAULT 0,
	default_perm INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS user_expirations (
	user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS peer_access (
	src_user_id INTEGER NOT NULL,
	dst_user_id INTEGER NOT NULL,
	access_level INTEGER NOT NULL,
	PRIMARY KEY (src_user_id, dst_user_id)
);

CREATE TABLE IF NOT EXISTS user_size (
	user_id INTEGER PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
	total_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	url TEXT PRIMARY KEY,
	owner_id INTEGER NOT NULL,
	file_id TEXT NOT NULL,
	size INTEGER NOT NULL,
	create_time DATETIME NOT NULL,
	access_time DATETIME NOT NULL,
	permission INTEGER NOT NULL DEFAULT 0,
	external INTEGER NOT NULL DEFAULT 0,
	mime_type TEXT NOT NULL DEFAULT 'application/octet-stream'
);
CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_id);
CREATE INDEX IF NOT EXISTS idx_files_file_id ON files(file_id);

CREATE TABLE IF NOT EXISTS dedup_counters (
	file_id TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS blobs (
	file_id TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
`

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}
