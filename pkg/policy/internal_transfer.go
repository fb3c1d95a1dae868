package policy

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	splToken "github.com/gagliardetto/solana-go/programs/token"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/token"
)

// AccountMask is a set of vault indices, one bit per index 0..255.
type AccountMask [32]byte

// MaskOf returns a mask with the given indices set.
func MaskOf(indices ...uint8) AccountMask {
	var m AccountMask
	for _, i := range indices {
		m.Set(i)
	}
	return m
}

// Set adds index to the mask.
func (m *AccountMask) Set(index uint8) { m[index/8] |= 1 << (index % 8) }

// Has reports whether index is in the mask.
func (m AccountMask) Has(index uint8) bool { return m[index/8]&(1<<(index%8)) != 0 }

// Empty reports whether no index is set.
func (m AccountMask) Empty() bool { return m == AccountMask{} }

// InternalFundTransfer lets the policy signers move funds between vaults of
// the same smart account.
type InternalFundTransfer struct {
	SourceAccountMask      AccountMask `json:"source_account_mask"`
	DestinationAccountMask AccountMask `json:"destination_account_mask"`
	// AllowedMints restricts the assets. Empty allows any; the zero key is
	// the native balance.
	AllowedMints []solana.PublicKey `json:"allowed_mints"`
}

// InternalFundTransferPayload moves Amount of Mint from one vault to another.
// Decimals is required for token transfers.
type InternalFundTransferPayload struct {
	SourceIndex      uint8            `json:"source_index"`
	DestinationIndex uint8            `json:"destination_index"`
	Mint             solana.PublicKey `json:"mint"`
	Decimals         uint8            `json:"decimals"`
	Amount           uint64           `json:"amount"`
}

func (t *InternalFundTransfer) clone() *InternalFundTransfer {
	c := *t
	c.AllowedMints = append([]solana.PublicKey(nil), t.AllowedMints...)
	return &c
}

func (t *InternalFundTransfer) validate() error {
	if t.SourceAccountMask.Empty() || t.DestinationAccountMask.Empty() {
		return errs.ErrInvalidPolicyPayload.With("internal transfer needs source and destination accounts")
	}
	seen := make(map[solana.PublicKey]bool, len(t.AllowedMints))
	for _, m := range t.AllowedMints {
		if seen[m] {
			return errs.ErrInvalidPolicyPayload.With("duplicate mint %s", m)
		}
		seen[m] = true
	}
	return nil
}

func (t *InternalFundTransfer) allowsMint(mint solana.PublicKey) bool {
	if len(t.AllowedMints) == 0 {
		return true
	}
	for _, m := range t.AllowedMints {
		if m == mint {
			return true
		}
	}
	return false
}

func (t *InternalFundTransfer) validatePayload(_ *Env, payload *Payload) error {
	p := payload.InternalFundTransfer
	if p.SourceIndex == p.DestinationIndex {
		return errs.ErrInternalTransferSameAccount.With("index %d", p.SourceIndex)
	}
	if p.Amount == 0 {
		return errs.ErrInvalidAmount.With("amount must be positive")
	}
	if !t.SourceAccountMask.Has(p.SourceIndex) {
		return errs.ErrInternalTransferSource.With("index %d", p.SourceIndex)
	}
	if !t.DestinationAccountMask.Has(p.DestinationIndex) {
		return errs.ErrInternalTransferDestination.With("index %d", p.DestinationIndex)
	}
	if !t.allowsMint(p.Mint) {
		return errs.ErrInternalTransferMint.With("%s", p.Mint)
	}
	return nil
}

func (t *InternalFundTransfer) executePayload(ctx context.Context, env *Env, payload *Payload) error {
	p := payload.InternalFundTransfer
	source, err := env.Vault(p.SourceIndex)
	if err != nil {
		return err
	}
	dest, err := env.Vault(p.DestinationIndex)
	if err != nil {
		return err
	}
	return Transfer(ctx, env, source, dest.Address, p.Mint, p.Decimals, p.Amount)
}

// Transfer moves funds out of the vault. For tokens, to is the receiving
// wallet and the funds land in its associated token account.
func Transfer(ctx context.Context, env *Env, from authority.Derived, to, mint solana.PublicKey, decimals uint8, amount uint64) error {
	var built solana.Instruction
	if mint.IsZero() {
		built = system.NewTransferInstruction(amount, from.Address, to).Build()
	} else {
		src, err := token.Address(from.Address, mint)
		if err != nil {
			return err
		}
		dst, err := token.Address(to, mint)
		if err != nil {
			return err
		}
		built = splToken.NewTransferCheckedInstruction(amount, decimals, src, mint, dst, from.Address, nil).Build()
	}
	ix, err := contracts.FromSolana(built)
	if err != nil {
		return errs.ErrInvalidTransactionMessage.Wrap(err)
	}
	return env.invoke(ctx, ix, from)
}

// TransferKeys lists the accounts Transfer touches.
func TransferKeys(from, to, mint solana.PublicKey) ([]solana.PublicKey, error) {
	if mint.IsZero() {
		return []solana.PublicKey{from, to, solana.SystemProgramID}, nil
	}
	src, err := token.Address(from, mint)
	if err != nil {
		return nil, err
	}
	dst, err := token.Address(to, mint)
	if err != nil {
		return nil, err
	}
	return []solana.PublicKey{from, src, mint, dst, solana.TokenProgramID}, nil
}
