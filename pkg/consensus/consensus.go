// Package consensus holds the voting contract shared by every governance
// record: the signer set, the approval threshold, the time lock and the
// transaction-index window that decides which pending actions are stale.
package consensus

import (
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// MaxTimeLock is the longest allowed time lock: 90 days in seconds.
const MaxTimeLock uint32 = 90 * 24 * 60 * 60

// Kind distinguishes the concrete record behind an Account.
type Kind uint8

const (
	KindSettings Kind = iota
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindSettings:
		return "settings"
	case KindPolicy:
		return "policy"
	default:
		return "unknown"
	}
}

// Account is implemented by every record that can own proposals. Both
// variants embed Core, which supplies Consensus.
type Account interface {
	Kind() Kind
	Consensus() *Core
	Invariant() error
}

// Core is the authorization state shared by settings and policies.
type Core struct {
	Signers               signers.Set `json:"signers"`
	Threshold             uint16      `json:"threshold"`
	TimeLock              uint32      `json:"time_lock"`
	TransactionIndex      uint64      `json:"transaction_index"`
	StaleTransactionIndex uint64      `json:"stale_transaction_index"`
}

// Consensus returns c so that embedding records satisfy Account.
func (c *Core) Consensus() *Core { return c }

// NumVoters counts signers holding Vote.
func (c *Core) NumVoters() int { return c.Signers.NumVoters() }

// Cutoff is the number of rejections after which the remaining voters can no
// longer reach the threshold.
func (c *Core) Cutoff() int {
	return c.NumVoters() - int(c.Threshold) + 1
}

// IsSigner reports whether key belongs to the signer set.
func (c *Core) IsSigner(key solana.PublicKey) bool {
	_, ok := c.Signers.IsSigner(key)
	return ok
}

// SignerHasPermission reports whether key holds perm.
func (c *Core) SignerHasPermission(key solana.PublicKey, perm signers.Permission) bool {
	return c.Signers.HasPermission(key, perm)
}

// IsStale reports whether an action with the given index was created before
// the last authorization-relevant change.
func (c *Core) IsStale(index uint64) bool {
	return index <= c.StaleTransactionIndex
}

// NextTransactionIndex reserves and returns the next action index.
func (c *Core) NextTransactionIndex() (uint64, error) {
	if c.TransactionIndex == math.MaxUint64 {
		return 0, errs.ErrOverflow.With("transaction index")
	}
	c.TransactionIndex++
	return c.TransactionIndex, nil
}

// InvalidatePriorTransactions marks every action created so far as stale.
func (c *Core) InvalidatePriorTransactions() {
	c.StaleTransactionIndex = c.TransactionIndex
}

// RequireSigner fails unless key holds perm.
func (c *Core) RequireSigner(key solana.PublicKey, perm signers.Permission) error {
	i, ok := c.Signers.IsSigner(key)
	if !ok {
		return errs.ErrNotASigner.With("%s", key)
	}
	if !c.Signers[i].Permissions.Has(perm) {
		return errs.ErrUnauthorized.With("%s lacks %s", key, signers.NewPermissions(perm))
	}
	return nil
}

// CheckIndex verifies that index names a created, non-stale action.
func (c *Core) CheckIndex(index uint64) error {
	if index == 0 || index > c.TransactionIndex {
		return errs.ErrInvalidTxIndex.With("index %d, current %d", index, c.TransactionIndex)
	}
	if c.IsStale(index) {
		return errs.ErrInvalidStaleTx.With("index %d, stale boundary %d", index, c.StaleTransactionIndex)
	}
	return nil
}

// AddSigner adds a signer and invalidates pending actions.
func (c *Core) AddSigner(s signers.Signer) error {
	if !s.Permissions.Valid() {
		return errs.ErrUnknownPermission.With("mask %d", s.Permissions.Mask)
	}
	if err := c.Signers.Add(s); err != nil {
		return err
	}
	c.InvalidatePriorTransactions()
	return nil
}

// RemoveSigner removes a signer, lowers the threshold if it now exceeds the
// voter count, and invalidates pending actions.
func (c *Core) RemoveSigner(key solana.PublicKey) error {
	if len(c.Signers) <= 1 {
		return errs.ErrEmptySigners.With("cannot remove the last signer")
	}
	if err := c.Signers.Remove(key); err != nil {
		return err
	}
	if voters := c.NumVoters(); voters > 0 && int(c.Threshold) > voters {
		c.Threshold = uint16(voters)
	}
	c.InvalidatePriorTransactions()
	return nil
}

// ChangeThreshold sets a new threshold and invalidates pending actions.
func (c *Core) ChangeThreshold(threshold uint16) error {
	if threshold == 0 || int(threshold) > c.NumVoters() {
		return errs.ErrInvalidThreshold.With("threshold %d, voters %d", threshold, c.NumVoters())
	}
	c.Threshold = threshold
	c.InvalidatePriorTransactions()
	return nil
}

// SetThreshold is ChangeThreshold for action lists. The upper bound is left
// to Invariant, which the caller runs once every action has applied, so a
// raise may precede the signer that makes it reachable.
func (c *Core) SetThreshold(threshold uint16) error {
	if threshold == 0 {
		return errs.ErrInvalidThreshold.With("threshold 0")
	}
	c.Threshold = threshold
	c.InvalidatePriorTransactions()
	return nil
}

// SetTimeLock sets a new time lock and invalidates pending actions.
func (c *Core) SetTimeLock(seconds uint32) error {
	if seconds > MaxTimeLock {
		return errs.ErrTimeLockExceedsMax.With("%d > %d", seconds, MaxTimeLock)
	}
	c.TimeLock = seconds
	c.InvalidatePriorTransactions()
	return nil
}

// Invariant checks the shared consensus invariants.
func (c *Core) Invariant() error {
	if err := c.Signers.Validate(); err != nil {
		return err
	}
	if c.Threshold == 0 || int(c.Threshold) > c.NumVoters() {
		return errs.ErrInvalidThreshold.With("threshold %d, voters %d", c.Threshold, c.NumVoters())
	}
	if c.StaleTransactionIndex > c.TransactionIndex {
		return errs.ErrInvariantViolated.With("stale index %d above transaction index %d", c.StaleTransactionIndex, c.TransactionIndex)
	}
	if c.TimeLock > MaxTimeLock {
		return errs.ErrTimeLockExceedsMax.With("%d > %d", c.TimeLock, MaxTimeLock)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Core) Clone() Core {
	cp := *c
	cp.Signers = c.Signers.Clone()
	return cp
}
