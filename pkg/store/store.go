// Package store is the account storage layer under the governance engine.
// Accounts are loaded by address with an ownership check, and every
// operation writes through a Batch that commits atomically or not at all.
// Rent follows the rent-exempt rule: an account must hold enough lamports
// to cover two years of rent for its size.
package store

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/codec"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

const (
	// AccountStorageOverhead is charged on top of the data length.
	AccountStorageOverhead = 128
	// LamportsPerByteYear is the rent rate.
	LamportsPerByteYear = 3480
	// ExemptionYears is how much rent must be prepaid.
	ExemptionYears = 2
)

// MinimumBalance is the rent-exempt balance for an account of size bytes.
func MinimumBalance(size int) uint64 {
	return uint64(AccountStorageOverhead+size) * LamportsPerByteYear * ExemptionYears
}

// Backend persists accounts. Get returns nil, nil for a missing account.
// Commit applies every write or none.
type Backend interface {
	Get(ctx context.Context, key solana.PublicKey) (*contracts.Account, error)
	Commit(ctx context.Context, writes []Write) error
	Close() error
}

// Write is one entry of an atomic commit. A nil Account deletes Key.
type Write struct {
	Key     solana.PublicKey
	Account *contracts.Account
}

// Store wraps a Backend with typed record access.
type Store struct {
	backend Backend
}

// New returns a Store over backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Get returns the raw account at key, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, key solana.PublicKey) (*contracts.Account, error) {
	return s.backend.Get(ctx, key)
}

// Load reads the record at key, checking that it is owned by owner and
// carries the discriminator of r.
func (s *Store) Load(ctx context.Context, key, owner solana.PublicKey, r codec.Record) error {
	acc, err := s.backend.Get(ctx, key)
	if err != nil {
		return errs.ErrStorage.Wrap(err).With("get %s", key)
	}
	return decodeOwned(acc, key, owner, r)
}

func decodeOwned(acc *contracts.Account, key, owner solana.PublicKey, r codec.Record) error {
	if acc == nil || (acc.Lamports == 0 && len(acc.Data) == 0) {
		return errs.ErrNotFound.With("%s %s", r.AccountName(), key)
	}
	if acc.Owner != owner {
		return errs.ErrInvalidOwner.With("%s owned by %s", key, acc.Owner)
	}
	return codec.Decode(acc.Data, r)
}

// Fund credits lamports to key, creating a system account if needed.
func (s *Store) Fund(ctx context.Context, key solana.PublicKey, lamports uint64) error {
	b := s.NewBatch()
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &contracts.Account{Key: key, Owner: solana.SystemProgramID}
	}
	if acc.Lamports+lamports < acc.Lamports {
		return errs.ErrOverflow.With("lamports of %s", key)
	}
	acc.Lamports += lamports
	b.PutAccount(acc)
	return b.Commit(ctx)
}

// NewBatch starts an atomic unit of work.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, overlay: make(map[solana.PublicKey]*contracts.Account)}
}

// Batch overlays pending writes on the backend. Reads see pending writes.
type Batch struct {
	store   *Store
	overlay map[solana.PublicKey]*contracts.Account
	order   []solana.PublicKey
}

func (b *Batch) touch(key solana.PublicKey, acc *contracts.Account) {
	if _, ok := b.overlay[key]; !ok {
		b.order = append(b.order, key)
	}
	b.overlay[key] = acc
}

// Get returns a copy of the current view of key, or nil.
func (b *Batch) Get(ctx context.Context, key solana.PublicKey) (*contracts.Account, error) {
	if acc, ok := b.overlay[key]; ok {
		if acc == nil {
			return nil, nil
		}
		return acc.Clone(), nil
	}
	acc, err := b.store.backend.Get(ctx, key)
	if err != nil {
		return nil, errs.ErrStorage.Wrap(fmt.Errorf("get %s: %w", key, err))
	}
	return acc, nil
}

// Exists reports whether key holds an account in the current view.
func (b *Batch) Exists(ctx context.Context, key solana.PublicKey) (bool, error) {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return acc != nil && (acc.Lamports > 0 || len(acc.Data) > 0), nil
}

// Load is Store.Load against the current view.
func (b *Batch) Load(ctx context.Context, key, owner solana.PublicKey, r codec.Record) error {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	return decodeOwned(acc, key, owner, r)
}

// PutAccount stages a raw account.
func (b *Batch) PutAccount(acc *contracts.Account) {
	b.touch(acc.Key, acc.Clone())
}

// Delete stages the removal of key without refunding it.
func (b *Batch) Delete(key solana.PublicKey) {
	b.touch(key, nil)
}

// Create allocates a new record at key owned by owner, funding rent from
// payer.
func (b *Batch) Create(ctx context.Context, key, owner, payer solana.PublicKey, r codec.Record) error {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return errs.ErrAlreadyInitialized.With("%s %s", r.AccountName(), key)
	}
	data, err := codec.Encode(r)
	if err != nil {
		return err
	}
	rent := MinimumBalance(len(data))
	if err := b.debit(ctx, payer, rent); err != nil {
		return err
	}
	b.touch(key, &contracts.Account{Key: key, Owner: owner, Lamports: rent, Data: data})
	return nil
}

// Put rewrites an existing record. A record that grows is topped up to the
// rent-exempt minimum from payer; one that shrinks keeps its lamports.
func (b *Batch) Put(ctx context.Context, key, payer solana.PublicKey, r codec.Record) error {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if acc == nil {
		return errs.ErrNotFound.With("%s %s", r.AccountName(), key)
	}
	data, err := codec.Encode(r)
	if err != nil {
		return err
	}
	if need := MinimumBalance(len(data)); need > acc.Lamports {
		if err := b.debit(ctx, payer, need-acc.Lamports); err != nil {
			return errs.ErrRentExempt.Wrap(err).With("realloc %s to %d bytes", key, len(data))
		}
		acc.Lamports = need
	}
	acc.Data = data
	b.touch(key, acc)
	return nil
}

// Close deletes the record at key and refunds its lamports to refundTo.
// Closing an account that does not exist is a no-op.
func (b *Batch) Close(ctx context.Context, key, refundTo solana.PublicKey) error {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if acc == nil {
		return nil
	}
	if err := b.credit(ctx, refundTo, acc.Lamports); err != nil {
		return err
	}
	b.touch(key, nil)
	return nil
}

func (b *Batch) debit(ctx context.Context, key solana.PublicKey, lamports uint64) error {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if acc == nil || acc.Lamports < lamports {
		have := uint64(0)
		if acc != nil {
			have = acc.Lamports
		}
		return errs.ErrInsufficientFunds.With("%s has %d, needs %d", key, have, lamports)
	}
	acc.Lamports -= lamports
	b.touch(key, acc)
	return nil
}

func (b *Batch) credit(ctx context.Context, key solana.PublicKey, lamports uint64) error {
	acc, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	if acc == nil {
		acc = &contracts.Account{Key: key, Owner: solana.SystemProgramID}
	}
	if acc.Lamports+lamports < acc.Lamports {
		return errs.ErrOverflow.With("lamports of %s", key)
	}
	acc.Lamports += lamports
	b.touch(key, acc)
	return nil
}

// Transfer moves lamports between two accounts in the batch.
func (b *Batch) Transfer(ctx context.Context, from, to solana.PublicKey, lamports uint64) error {
	if err := b.debit(ctx, from, lamports); err != nil {
		return err
	}
	return b.credit(ctx, to, lamports)
}

// Writes lists the staged writes in first-touch order.
func (b *Batch) Writes() []Write {
	out := make([]Write, 0, len(b.order))
	for _, k := range b.order {
		out = append(out, Write{Key: k, Account: b.overlay[k]})
	}
	return out
}

// Commit applies the staged writes atomically.
func (b *Batch) Commit(ctx context.Context) error {
	if len(b.order) == 0 {
		return nil
	}
	if err := b.store.backend.Commit(ctx, b.Writes()); err != nil {
		return errs.ErrStorage.Wrap(err).With("commit %d writes", len(b.order))
	}
	return nil
}
