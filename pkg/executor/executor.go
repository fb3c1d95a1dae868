// Package executor turns a stored transaction message into an ordered
// sequence of signed sub-calls. The vault and any ephemeral signers sign by
// seed; governing signers never lend their signature to an inner call; the
// records that authorize the execution cannot be handed out writable.
package executor

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// Invoker performs one signed sub-call. signerSeeds hold, per derived
// signer, the seeds (bump included) that prove it.
type Invoker interface {
	Invoke(ctx context.Context, ix contracts.Instruction, accounts []*contracts.AccountInfo, signerSeeds [][][]byte) error
}

// SignerChecker reports whether a key is a signer of the governing record.
type SignerChecker interface {
	IsSigner(key solana.PublicKey) bool
}

// Params are the inputs of NewExecutableMessage.
type Params struct {
	Message *contracts.Message
	// Accounts are aligned with Message.AccountKeys.
	Accounts         []*contracts.AccountInfo
	Vault            authority.Derived
	EphemeralSigners []authority.Derived
	// Protected records must not appear writable in the message.
	Protected []solana.PublicKey
	Signers   SignerChecker
}

// ExecutableMessage is a validated message ready to run.
type ExecutableMessage struct {
	message     *contracts.Message
	accounts    []*contracts.AccountInfo
	stripped    map[int]bool
	signerSeeds [][][]byte
}

// NewExecutableMessage validates p and prepares the signer set.
func NewExecutableMessage(p Params) (*ExecutableMessage, error) {
	m := p.Message
	if m == nil {
		return nil, errs.ErrInvalidTransactionMessage.With("missing message")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if len(p.Accounts) != len(m.AccountKeys) {
		return nil, errs.ErrInvalidNumberOfAccounts.With("message has %d keys, got %d accounts", len(m.AccountKeys), len(p.Accounts))
	}

	derived := map[solana.PublicKey]bool{p.Vault.Address: true}
	seeds := [][][]byte{p.Vault.SignerSeeds()}
	for _, e := range p.EphemeralSigners {
		derived[e.Address] = true
		seeds = append(seeds, e.SignerSeeds())
	}
	protected := make(map[solana.PublicKey]bool, len(p.Protected))
	for _, k := range p.Protected {
		protected[k] = true
	}

	em := &ExecutableMessage{
		message:     m,
		accounts:    p.Accounts,
		stripped:    make(map[int]bool),
		signerSeeds: seeds,
	}
	for i, key := range m.AccountKeys {
		info := p.Accounts[i]
		if info == nil || info.Key != key {
			return nil, errs.ErrInvalidAccount.With("account %d does not match message key %s", i, key)
		}
		writable := m.IsWritableIndex(i)
		if writable && protected[key] {
			return nil, errs.ErrProtectedAccount.With("%s", key)
		}
		if writable && !info.IsWritable {
			return nil, errs.ErrInvalidAccount.With("account %s must be writable", key)
		}
		if m.IsSignerIndex(i) && !derived[key] && !info.IsSigner {
			return nil, errs.ErrMissingSignature.With("%s", key)
		}
		if !derived[key] && p.Signers != nil && p.Signers.IsSigner(key) {
			em.stripped[i] = true
		}
	}
	return em, nil
}

// Len is the number of instructions.
func (em *ExecutableMessage) Len() int { return len(em.message.Instructions) }

// Accounts returns the account views the instructions operate on.
func (em *ExecutableMessage) Accounts() []*contracts.AccountInfo { return em.accounts }

// Instruction resolves instruction i with stripped signer flags applied.
func (em *ExecutableMessage) Instruction(i int) (contracts.Instruction, []*contracts.AccountInfo) {
	ci := em.message.Instructions[i]
	ix := em.message.Instruction(i)
	infos := make([]*contracts.AccountInfo, len(ci.AccountIndexes))
	for j, idx := range ci.AccountIndexes {
		if em.stripped[int(idx)] {
			ix.Accounts[j].IsSigner = false
		}
		infos[j] = em.accounts[idx]
	}
	return ix, infos
}

// Execute replays the instructions in order. The first failure aborts the
// remainder; rolling back applied effects is the caller's job.
func (em *ExecutableMessage) Execute(ctx context.Context, inv Invoker) error {
	for i := range em.message.Instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		ix, infos := em.Instruction(i)
		if err := inv.Invoke(ctx, ix, infos, em.signerSeeds); err != nil {
			return fmt.Errorf("instruction %d (%s): %w", i, ix.ProgramID, err)
		}
	}
	return nil
}
