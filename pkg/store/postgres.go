package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	schema: `
	CREATE TABLE IF NOT EXISTS smart_account_accounts (
		address TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		lamports BIGINT NOT NULL,
		data BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	get: `SELECT owner, lamports, data FROM smart_account_accounts WHERE address = $1`,
	upsert: `
	INSERT INTO smart_account_accounts (address, owner, lamports, data) VALUES ($1, $2, $3, $4)
	ON CONFLICT (address) DO UPDATE SET owner = EXCLUDED.owner, lamports = EXCLUDED.lamports, data = EXCLUDED.data, updated_at = NOW()`,
	delete: `DELETE FROM smart_account_accounts WHERE address = $1`,
}

// PostgresBackend persists accounts in PostgreSQL.
type PostgresBackend struct {
	sqlBackend
}

// OpenPostgres connects with dsn and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	b := NewPostgresBackend(db)
	if err := b.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackend wraps db. Call Migrate before first use.
func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{sqlBackend{db: db, dialect: postgresDialect}}
}

// Migrate creates the accounts table.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	return p.migrate(ctx)
}
