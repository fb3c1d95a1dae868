// Package proposal implements the per-action vote tracker and its status
// machine. Every transition takes the owning consensus record so that the
// checks always run against the current signer set and threshold.
package proposal

import (
	"bytes"
	"sort"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// StatusKind is the state of a proposal.
type StatusKind uint8

const (
	Draft StatusKind = iota
	Active
	Rejected
	Approved
	Executed
	Cancelled
)

func (k StatusKind) String() string {
	switch k {
	case Draft:
		return "draft"
	case Active:
		return "active"
	case Rejected:
		return "rejected"
	case Approved:
		return "approved"
	case Executed:
		return "executed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status is a state plus the unix time of the transition into it.
type Status struct {
	Kind      StatusKind `json:"kind"`
	Timestamp int64      `json:"timestamp"`
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s.Kind {
	case Rejected, Executed, Cancelled:
		return true
	default:
		return false
	}
}

// Proposal tracks the votes for the action at TransactionIndex.
type Proposal struct {
	Consensus        solana.PublicKey   `json:"consensus"`
	TransactionIndex uint64             `json:"transaction_index"`
	RentCollector    solana.PublicKey   `json:"rent_collector"`
	Status           Status             `json:"status"`
	Bump             uint8              `json:"bump"`
	Approved         []solana.PublicKey `json:"approved"`
	Rejected         []solana.PublicKey `json:"rejected"`
	Cancelled        []solana.PublicKey `json:"cancelled"`
}

func (*Proposal) AccountName() string { return "Proposal" }

// Create opens a proposal for the action at index. The creator needs
// Initiate or Vote; the index must name an existing action that is not
// stale.
func Create(acct consensus.Account, consensusKey, creator, rentCollector solana.PublicKey, index uint64, draft bool, now int64) (*Proposal, error) {
	c := acct.Consensus()
	if !c.IsSigner(creator) {
		return nil, errs.ErrNotASigner.With("%s", creator)
	}
	if !c.SignerHasPermission(creator, signers.Initiate) && !c.SignerHasPermission(creator, signers.Vote) {
		return nil, errs.ErrUnauthorized.With("%s cannot create proposals", creator)
	}
	if err := c.CheckIndex(index); err != nil {
		return nil, err
	}
	st := Status{Kind: Active, Timestamp: now}
	if draft {
		st.Kind = Draft
	}
	return &Proposal{
		Consensus:        consensusKey,
		TransactionIndex: index,
		RentCollector:    rentCollector,
		Status:           st,
	}, nil
}

// NewApproved returns a proposal that is approved from the outset. Batches
// and instant execution paths use it for bookkeeping.
func NewApproved(consensusKey, rentCollector solana.PublicKey, index uint64, now int64) *Proposal {
	return &Proposal{
		Consensus:        consensusKey,
		TransactionIndex: index,
		RentCollector:    rentCollector,
		Status:           Status{Kind: Approved, Timestamp: now},
	}
}

func (p *Proposal) requireFresh(c *consensus.Core) error {
	if c.IsStale(p.TransactionIndex) {
		return errs.ErrStaleProposal.With("index %d, stale boundary %d", p.TransactionIndex, c.StaleTransactionIndex)
	}
	return nil
}

func (p *Proposal) requireStatus(want StatusKind) error {
	if p.Status.Kind != want {
		return errs.ErrInvalidProposalStatus.With("want %s, have %s", want, p.Status.Kind)
	}
	return nil
}

// Activate moves a draft proposal to Active.
func (p *Proposal) Activate(acct consensus.Account, signer solana.PublicKey, now int64) error {
	c := acct.Consensus()
	if err := c.RequireSigner(signer, signers.Initiate); err != nil {
		return err
	}
	if err := p.requireStatus(Draft); err != nil {
		return err
	}
	if err := p.requireFresh(c); err != nil {
		return err
	}
	p.Status = Status{Kind: Active, Timestamp: now}
	return nil
}

// Approve records an approval, withdrawing an earlier rejection by the same
// signer, and approves the proposal once the threshold is reached.
func (p *Proposal) Approve(acct consensus.Account, signer solana.PublicKey, now int64) error {
	c := acct.Consensus()
	if err := c.RequireSigner(signer, signers.Vote); err != nil {
		return err
	}
	if err := p.requireStatus(Active); err != nil {
		return err
	}
	if err := p.requireFresh(c); err != nil {
		return err
	}
	if contains(p.Approved, signer) {
		return errs.ErrAlreadyApproved.With("%s", signer)
	}
	p.Rejected = remove(p.Rejected, signer)
	p.Approved = insert(p.Approved, signer)
	if len(p.Approved) >= int(c.Threshold) {
		p.Status = Status{Kind: Approved, Timestamp: now}
	}
	return nil
}

// Reject records a rejection, withdrawing an earlier approval by the same
// signer, and rejects the proposal once the cutoff is reached.
func (p *Proposal) Reject(acct consensus.Account, signer solana.PublicKey, now int64) error {
	c := acct.Consensus()
	if err := c.RequireSigner(signer, signers.Vote); err != nil {
		return err
	}
	if err := p.requireStatus(Active); err != nil {
		return err
	}
	if err := p.requireFresh(c); err != nil {
		return err
	}
	if contains(p.Rejected, signer) {
		return errs.ErrAlreadyRejected.With("%s", signer)
	}
	p.Approved = remove(p.Approved, signer)
	p.Rejected = insert(p.Rejected, signer)
	if len(p.Rejected) >= c.Cutoff() {
		p.Status = Status{Kind: Rejected, Timestamp: now}
	}
	return nil
}

// Cancel records a cancellation of an approved proposal. Cancel votes from
// keys that are no longer signers are dropped first. Stale proposals can
// still be cancelled.
func (p *Proposal) Cancel(acct consensus.Account, signer solana.PublicKey, now int64) error {
	c := acct.Consensus()
	if err := c.RequireSigner(signer, signers.Vote); err != nil {
		return err
	}
	if err := p.requireStatus(Approved); err != nil {
		return err
	}
	p.Cancelled = prune(p.Cancelled, c)
	if contains(p.Cancelled, signer) {
		return errs.ErrAlreadyCancelled.With("%s", signer)
	}
	p.Cancelled = insert(p.Cancelled, signer)
	if len(p.Cancelled) >= int(c.Threshold) {
		p.Status = Status{Kind: Cancelled, Timestamp: now}
	}
	return nil
}

// CheckExecutable fails unless the proposal is approved and its time lock
// has elapsed at now.
func (p *Proposal) CheckExecutable(acct consensus.Account, now int64) error {
	if err := p.requireStatus(Approved); err != nil {
		return err
	}
	lock := int64(acct.Consensus().TimeLock)
	if now-p.Status.Timestamp < lock {
		return errs.ErrTimeLockNotReleased.With("approved at %d, lock %ds, now %d", p.Status.Timestamp, lock, now)
	}
	return nil
}

// MarkExecuted moves an approved proposal to Executed.
func (p *Proposal) MarkExecuted(acct consensus.Account, now int64) error {
	if err := p.CheckExecutable(acct, now); err != nil {
		return err
	}
	p.Status = Status{Kind: Executed, Timestamp: now}
	return nil
}

// HasVoted reports whether key appears in any vote list.
func (p *Proposal) HasVoted(key solana.PublicKey) bool {
	return contains(p.Approved, key) || contains(p.Rejected, key) || contains(p.Cancelled, key)
}

func search(keys []solana.PublicKey, k solana.PublicKey) int {
	return sort.Search(len(keys), func(i int) bool {
		return bytes.Compare(keys[i][:], k[:]) >= 0
	})
}

func contains(keys []solana.PublicKey, k solana.PublicKey) bool {
	i := search(keys, k)
	return i < len(keys) && keys[i] == k
}

func insert(keys []solana.PublicKey, k solana.PublicKey) []solana.PublicKey {
	i := search(keys, k)
	keys = append(keys, solana.PublicKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	return keys
}

func remove(keys []solana.PublicKey, k solana.PublicKey) []solana.PublicKey {
	i := search(keys, k)
	if i < len(keys) && keys[i] == k {
		return append(keys[:i], keys[i+1:]...)
	}
	return keys
}

func prune(keys []solana.PublicKey, c *consensus.Core) []solana.PublicKey {
	out := keys[:0]
	for _, k := range keys {
		if c.IsSigner(k) {
			out = append(out, k)
		}
	}
	return out
}
