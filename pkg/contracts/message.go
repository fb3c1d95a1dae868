package contracts

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// CompiledInstruction references its program and accounts by position in
// Message.AccountKeys.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `json:"program_id_index"`
	AccountIndexes []uint8 `json:"account_indexes"`
	Data           []byte  `json:"data"`
}

// Message is a compact list of instructions to run on behalf of a vault.
// AccountKeys are ordered: writable signers, read-only signers, writable
// non-signers, read-only non-signers.
type Message struct {
	NumSigners            uint8                 `json:"num_signers"`
	NumWritableSigners    uint8                 `json:"num_writable_signers"`
	NumWritableNonSigners uint8                 `json:"num_writable_non_signers"`
	AccountKeys           []solana.PublicKey    `json:"account_keys"`
	Instructions          []CompiledInstruction `json:"instructions"`
}

// IsSignerIndex reports whether position i is a signer slot.
func (m *Message) IsSignerIndex(i int) bool {
	return i < int(m.NumSigners)
}

// IsWritableIndex reports whether position i is writable.
func (m *Message) IsWritableIndex(i int) bool {
	if i >= len(m.AccountKeys) {
		return false
	}
	if i < int(m.NumSigners) {
		return i < int(m.NumWritableSigners)
	}
	return i-int(m.NumSigners) < int(m.NumWritableNonSigners)
}

// Validate checks header counts and that every index is in range.
func (m *Message) Validate() error {
	n := len(m.AccountKeys)
	if n > 256 {
		return errs.ErrInvalidTransactionMessage.With("%d account keys", n)
	}
	if int(m.NumSigners) > n {
		return errs.ErrInvalidTransactionMessage.With("num_signers %d above %d keys", m.NumSigners, n)
	}
	if m.NumWritableSigners > m.NumSigners {
		return errs.ErrInvalidTransactionMessage.With("writable signers %d above signers %d", m.NumWritableSigners, m.NumSigners)
	}
	if int(m.NumWritableNonSigners) > n-int(m.NumSigners) {
		return errs.ErrInvalidTransactionMessage.With("writable non-signers %d above %d", m.NumWritableNonSigners, n-int(m.NumSigners))
	}
	for i, ix := range m.Instructions {
		if int(ix.ProgramIDIndex) >= n {
			return errs.ErrInvalidTransactionMessage.With("instruction %d program index %d out of range", i, ix.ProgramIDIndex)
		}
		for _, a := range ix.AccountIndexes {
			if int(a) >= n {
				return errs.ErrInvalidTransactionMessage.With("instruction %d account index %d out of range", i, a)
			}
		}
	}
	return nil
}

// Instruction resolves compiled instruction i against the account keys.
func (m *Message) Instruction(i int) Instruction {
	ci := m.Instructions[i]
	ix := Instruction{
		ProgramID: m.AccountKeys[ci.ProgramIDIndex],
		Accounts:  make([]*solana.AccountMeta, len(ci.AccountIndexes)),
		Data:      append([]byte(nil), ci.Data...),
	}
	for j, a := range ci.AccountIndexes {
		ix.Accounts[j] = solana.NewAccountMeta(m.AccountKeys[a], m.IsWritableIndex(int(a)), m.IsSignerIndex(int(a)))
	}
	return ix
}

// CompileMessage builds a Message with payer as the first writable signer.
// Keys referenced by several instructions are merged, keeping the strongest
// signer and writable flags.
func CompileMessage(payer solana.PublicKey, instructions []Instruction) (*Message, error) {
	type flags struct{ signer, writable bool }
	order := []solana.PublicKey{payer}
	seen := map[solana.PublicKey]*flags{payer: {signer: true, writable: true}}
	note := func(k solana.PublicKey, signer, writable bool) {
		f, ok := seen[k]
		if !ok {
			f = &flags{}
			seen[k] = f
			order = append(order, k)
		}
		f.signer = f.signer || signer
		f.writable = f.writable || writable
	}
	for _, ix := range instructions {
		note(ix.ProgramID, false, false)
		for _, a := range ix.Accounts {
			note(a.PublicKey, a.IsSigner, a.IsWritable)
		}
	}

	var groups [4][]solana.PublicKey
	for _, k := range order {
		f := seen[k]
		switch {
		case f.signer && f.writable:
			groups[0] = append(groups[0], k)
		case f.signer:
			groups[1] = append(groups[1], k)
		case f.writable:
			groups[2] = append(groups[2], k)
		default:
			groups[3] = append(groups[3], k)
		}
	}
	keys := make([]solana.PublicKey, 0, len(order))
	for _, g := range groups {
		keys = append(keys, g...)
	}
	if len(keys) > 256 {
		return nil, errs.ErrInvalidTransactionMessage.With("%d distinct accounts", len(keys))
	}
	pos := make(map[solana.PublicKey]uint8, len(keys))
	for i, k := range keys {
		pos[k] = uint8(i)
	}

	m := &Message{
		NumSigners:            uint8(len(groups[0]) + len(groups[1])),
		NumWritableSigners:    uint8(len(groups[0])),
		NumWritableNonSigners: uint8(len(groups[2])),
		AccountKeys:           keys,
		Instructions:          make([]CompiledInstruction, len(instructions)),
	}
	for i, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: pos[ix.ProgramID],
			AccountIndexes: make([]uint8, len(ix.Accounts)),
			Data:           append([]byte(nil), ix.Data...),
		}
		for j, a := range ix.Accounts {
			ci.AccountIndexes[j] = pos[a.PublicKey]
		}
		m.Instructions[i] = ci
	}
	return m, nil
}
