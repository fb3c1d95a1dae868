// Package contracts holds the wire-level types shared between the governance
// engine and its collaborators: account views, instructions and the compiled
// transaction message that external actions are stored as.
package contracts

import (
	"github.com/gagliardetto/solana-go"
)

// Account is a stored account as the storage layer sees it.
type Account struct {
	Key      solana.PublicKey `json:"key"`
	Owner    solana.PublicKey `json:"owner"`
	Lamports uint64           `json:"lamports"`
	Data     []byte           `json:"data"`
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// AccountInfo is an account handed to an instruction together with the
// signer and writable flags of the call.
type AccountInfo struct {
	Account
	IsSigner   bool `json:"is_signer"`
	IsWritable bool `json:"is_writable"`
}

// Meta returns the account meta matching the info flags.
func (a *AccountInfo) Meta() *solana.AccountMeta {
	return solana.NewAccountMeta(a.Key, a.IsWritable, a.IsSigner)
}

// Closed reports whether the account has been emptied.
func (a *AccountInfo) Closed() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Instruction is one call into a program.
type Instruction struct {
	ProgramID solana.PublicKey      `json:"program_id"`
	Accounts  []*solana.AccountMeta `json:"accounts"`
	Data      []byte                `json:"data"`
}

// FromSolana converts an instruction produced by the solana-go builders.
func FromSolana(ix solana.Instruction) (Instruction, error) {
	data, err := ix.Data()
	if err != nil {
		return Instruction{}, err
	}
	return Instruction{
		ProgramID: ix.ProgramID(),
		Accounts:  ix.Accounts(),
		Data:      data,
	}, nil
}

// MustFromSolana is FromSolana for builders that cannot fail.
func MustFromSolana(ix solana.Instruction) Instruction {
	out, err := FromSolana(ix)
	if err != nil {
		panic(err)
	}
	return out
}
