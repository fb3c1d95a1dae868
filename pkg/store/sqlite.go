package store

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
	CREATE TABLE IF NOT EXISTS accounts (
		address TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		lamports INTEGER NOT NULL,
		data BLOB NOT NULL
	);`,
	get: `SELECT owner, lamports, data FROM accounts WHERE address = ?`,
	upsert: `
	INSERT INTO accounts (address, owner, lamports, data) VALUES (?, ?, ?, ?)
	ON CONFLICT(address) DO UPDATE SET owner = excluded.owner, lamports = excluded.lamports, data = excluded.data`,
	delete: `DELETE FROM accounts WHERE address = ?`,
}

// SQLiteBackend persists accounts in SQLite.
type SQLiteBackend struct {
	sqlBackend
}

// OpenSQLite opens path (":memory:" for a private in-memory database) and
// creates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	b, err := NewSQLiteBackend(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewSQLiteBackend wraps an open database and migrates it.
func NewSQLiteBackend(ctx context.Context, db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{sqlBackend{db: db, dialect: sqliteDialect}}
	if err := b.migrate(ctx); err != nil {
		return nil, err
	}
	return b, nil
}
