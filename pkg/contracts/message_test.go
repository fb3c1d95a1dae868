package contracts_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

func TestCompileMessage_OrdersKeys(t *testing.T) {
	vault := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	readonly := solana.NewWallet().PublicKey()

	transfer := contracts.MustFromSolana(system.NewTransferInstruction(5, vault, dest).Build())
	memo := contracts.Instruction{
		ProgramID: solana.MemoProgramID,
		Accounts:  []*solana.AccountMeta{solana.Meta(readonly)},
		Data:      []byte("hi"),
	}

	m, err := contracts.CompileMessage(vault, []contracts.Instruction{transfer, memo})
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, vault, m.AccountKeys[0])
	assert.Equal(t, uint8(1), m.NumSigners)
	assert.Equal(t, uint8(1), m.NumWritableSigners)
	assert.Equal(t, uint8(1), m.NumWritableNonSigners)
	assert.Equal(t, dest, m.AccountKeys[1])
	assert.True(t, m.IsWritableIndex(1))
	assert.False(t, m.IsWritableIndex(2))
	assert.False(t, m.IsSignerIndex(1))

	got := m.Instruction(0)
	assert.Equal(t, solana.SystemProgramID, got.ProgramID)
	assert.Equal(t, transfer.Data, got.Data)
	require.Len(t, got.Accounts, 2)
	assert.True(t, got.Accounts[0].IsSigner)
	assert.True(t, got.Accounts[1].IsWritable)

	assert.Equal(t, []byte("hi"), m.Instruction(1).Data)
}

func TestMessage_Validate(t *testing.T) {
	k := solana.NewWallet().PublicKey()
	tests := []struct {
		name string
		msg  contracts.Message
	}{
		{"too many signers", contracts.Message{NumSigners: 2, AccountKeys: []solana.PublicKey{k}}},
		{"writable signers above signers", contracts.Message{NumSigners: 1, NumWritableSigners: 2, AccountKeys: []solana.PublicKey{k, k}}},
		{"writable non-signers above remainder", contracts.Message{NumSigners: 1, NumWritableNonSigners: 1, AccountKeys: []solana.PublicKey{k}}},
		{"program index out of range", contracts.Message{AccountKeys: []solana.PublicKey{k}, Instructions: []contracts.CompiledInstruction{{ProgramIDIndex: 1}}}},
		{"account index out of range", contracts.Message{AccountKeys: []solana.PublicKey{k}, Instructions: []contracts.CompiledInstruction{{AccountIndexes: []uint8{3}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.msg.Validate(), errs.ErrInvalidTransactionMessage)
		})
	}
}
