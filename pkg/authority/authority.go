// Package authority derives the deterministic, key-less identities used by
// the governance engine: record addresses and the vault and ephemeral
// signers that authorize sub-calls. Derivation is pure; signing with a
// derived identity means handing its seeds to the invoker.
package authority

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Seed prefixes.
var (
	SeedPrefix            = []byte("smart_account")
	SeedProgramConfig     = []byte("program_config")
	SeedSettings          = []byte("settings")
	SeedSmartAccount      = []byte("smart_account")
	SeedTransaction       = []byte("transaction")
	SeedProposal          = []byte("proposal")
	SeedBatchTransaction  = []byte("batch_transaction")
	SeedEphemeralSigner   = []byte("ephemeral_signer")
	SeedSpendingLimit     = []byte("spending_limit")
	SeedPolicy            = []byte("policy")
	SeedTransactionBuffer = []byte("transaction_buffer")
)

// Derived is an address plus the seeds and bump that prove it.
type Derived struct {
	Address solana.PublicKey
	Bump    uint8
	Seeds   [][]byte
}

// SignerSeeds returns the seeds including the bump, in the form the invoker
// needs to sign as this address.
func (d Derived) SignerSeeds() [][]byte {
	out := make([][]byte, 0, len(d.Seeds)+1)
	out = append(out, d.Seeds...)
	return append(out, []byte{d.Bump})
}

// Deriver derives addresses under one program id.
type Deriver struct {
	ProgramID solana.PublicKey
}

// New returns a Deriver for programID.
func New(programID solana.PublicKey) Deriver {
	return Deriver{ProgramID: programID}
}

// Derive finds the canonical off-curve address for seeds.
func (d Deriver) Derive(seeds ...[]byte) (Derived, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, d.ProgramID)
	if err != nil {
		return Derived{}, fmt.Errorf("authority: derive: %w", err)
	}
	return Derived{Address: addr, Bump: bump, Seeds: seeds}, nil
}

// Verify reports whether signerSeeds (with the trailing bump) derive addr.
func (d Deriver) Verify(addr solana.PublicKey, signerSeeds [][]byte) bool {
	got, err := solana.CreateProgramAddress(signerSeeds, d.ProgramID)
	return err == nil && got == addr
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// U128 is a 128-bit little-endian seed value.
type U128 [16]byte

// U128From builds a U128 from a uint64.
func U128From(v uint64) U128 {
	var u U128
	binary.LittleEndian.PutUint64(u[:8], v)
	return u
}

// Uint64 returns the low 64 bits and whether the value fits.
func (u U128) Uint64() (uint64, bool) {
	return binary.LittleEndian.Uint64(u[:8]), binary.LittleEndian.Uint64(u[8:]) == 0
}

// ProgramConfig derives the singleton program config address.
func (d Deriver) ProgramConfig() (Derived, error) {
	return d.Derive(SeedPrefix, SeedProgramConfig)
}

// Settings derives the settings address for a creation seed.
func (d Deriver) Settings(seed U128) (Derived, error) {
	return d.Derive(SeedPrefix, SeedSettings, seed[:])
}

// SmartAccount derives the vault at accountIndex of settings.
func (d Deriver) SmartAccount(settings solana.PublicKey, accountIndex uint8) (Derived, error) {
	return d.Derive(SeedPrefix, settings[:], SeedSmartAccount, []byte{accountIndex})
}

// Transaction derives the action record at index under a consensus account.
func (d Deriver) Transaction(consensusAccount solana.PublicKey, index uint64) (Derived, error) {
	return d.Derive(SeedPrefix, consensusAccount[:], SeedTransaction, u64le(index))
}

// Proposal derives the proposal for the action at index.
func (d Deriver) Proposal(consensusAccount solana.PublicKey, index uint64) (Derived, error) {
	return d.Derive(SeedPrefix, consensusAccount[:], SeedTransaction, u64le(index), SeedProposal)
}

// BatchTransaction derives element elementIndex of the batch at batchIndex.
func (d Deriver) BatchTransaction(settings solana.PublicKey, batchIndex uint64, elementIndex uint32) (Derived, error) {
	var e [4]byte
	binary.LittleEndian.PutUint32(e[:], elementIndex)
	return d.Derive(SeedPrefix, settings[:], SeedTransaction, u64le(batchIndex), SeedBatchTransaction, e[:])
}

// EphemeralSigner derives the per-action signer at signerIndex for the
// action record at txKey.
func (d Deriver) EphemeralSigner(txKey solana.PublicKey, signerIndex uint8) (Derived, error) {
	return d.Derive(SeedPrefix, txKey[:], SeedEphemeralSigner, []byte{signerIndex})
}

// SpendingLimit derives a settings-level spending limit address.
func (d Deriver) SpendingLimit(settings, seed solana.PublicKey) (Derived, error) {
	return d.Derive(SeedPrefix, settings[:], SeedSpendingLimit, seed[:])
}

// Policy derives the policy with the given seed under settings.
func (d Deriver) Policy(settings solana.PublicKey, seed uint64) (Derived, error) {
	return d.Derive(SeedPrefix, SeedPolicy, settings[:], u64le(seed))
}

// TransactionBuffer derives the staging buffer of creator at bufferIndex.
func (d Deriver) TransactionBuffer(settings, creator solana.PublicKey, bufferIndex uint8) (Derived, error) {
	return d.Derive(SeedPrefix, settings[:], SeedTransactionBuffer, creator[:], []byte{bufferIndex})
}
