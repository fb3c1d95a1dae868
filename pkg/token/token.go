// Package token reads and writes SPL token accounts held by smart account
// vaults. The layout is the token program's 165-byte account.
package token

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	splToken "github.com/gagliardetto/solana-go/programs/token"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// AccountSize is the length of an initialized token account.
const AccountSize = 165

const amountOffset = 64

// Account is the decoded token account.
type Account = splToken.Account

// Decode parses a token account.
func Decode(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, errs.ErrParsing.With("token account is %d bytes", len(data))
	}
	var acc Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return nil, errs.ErrParsing.Wrap(err)
	}
	return &acc, nil
}

// Encode serializes acc in the token program layout.
func Encode(acc *Account) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBinEncoder(&buf).Encode(acc); err != nil {
		return nil, errs.ErrParsing.Wrap(err)
	}
	if buf.Len() != AccountSize {
		return nil, errs.ErrParsing.With("encoded token account is %d bytes", buf.Len())
	}
	return buf.Bytes(), nil
}

// NewAccount returns an initialized account with no delegate.
func NewAccount(mint, owner solana.PublicKey, amount uint64) *Account {
	return &Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  splToken.Initialized,
	}
}

// IsTokenAccount reports whether info looks like an initialized token account.
func IsTokenAccount(info *contracts.AccountInfo) bool {
	return info.Owner == solana.TokenProgramID && len(info.Data) == AccountSize
}

// SetAmount rewrites the amount field in place.
func SetAmount(data []byte, amount uint64) error {
	if len(data) != AccountSize {
		return errs.ErrParsing.With("token account is %d bytes", len(data))
	}
	binary.LittleEndian.PutUint64(data[amountOffset:amountOffset+8], amount)
	return nil
}

// Address returns the associated token account of wallet for mint.
func Address(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	return addr, err
}
