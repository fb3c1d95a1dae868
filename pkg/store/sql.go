package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
)

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	name   string
	schema string
	get    string
	upsert string
	delete string
}

// sqlBackend stores one row per account. Each Commit runs in a single
// database transaction.
type sqlBackend struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlBackend) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("%s migrate: %w", s.dialect.name, err)
	}
	return nil
}

func (s *sqlBackend) Get(ctx context.Context, key solana.PublicKey) (*contracts.Account, error) {
	var (
		owner    string
		lamports int64
		data     []byte
	)
	err := s.db.QueryRowContext(ctx, s.dialect.get, key.String()).Scan(&owner, &lamports, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return nil, fmt.Errorf("owner of %s: %w", key, err)
	}
	return &contracts.Account{Key: key, Owner: ownerKey, Lamports: uint64(lamports), Data: data}, nil
}

func (s *sqlBackend) Commit(ctx context.Context, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if w.Account == nil {
			if _, err := tx.ExecContext(ctx, s.dialect.delete, w.Key.String()); err != nil {
				return fmt.Errorf("delete %s: %w", w.Key, err)
			}
			continue
		}
		if w.Account.Lamports > math.MaxInt64 {
			return fmt.Errorf("lamports of %s do not fit the column", w.Key)
		}
		data := w.Account.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsert,
			w.Key.String(), w.Account.Owner.String(), int64(w.Account.Lamports), data); err != nil {
			return fmt.Errorf("upsert %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

func (s *sqlBackend) Close() error { return s.db.Close() }
