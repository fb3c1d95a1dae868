package policy_test

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	splToken "github.com/gagliardetto/solana-go/programs/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/token"
)

func internalTransferPolicy(f *fixture, mints ...solana.PublicKey) *policy.Policy {
	return f.policy(policy.State{InternalFundTransfer: &policy.InternalFundTransfer{
		SourceAccountMask:      policy.MaskOf(0, 1),
		DestinationAccountMask: policy.MaskOf(1, 2),
		AllowedMints:           mints,
	}})
}

func TestInternalFundTransfer_Validation(t *testing.T) {
	f := newFixture(t)
	mint := solana.PublicKey{0x77}
	p := internalTransferPolicy(f, solana.PublicKey{}, mint)

	tests := []struct {
		name    string
		payload policy.InternalFundTransferPayload
		want    error
	}{
		{"same account", policy.InternalFundTransferPayload{SourceIndex: 1, DestinationIndex: 1, Amount: 1}, errs.ErrInternalTransferSameAccount},
		{"zero amount", policy.InternalFundTransferPayload{SourceIndex: 0, DestinationIndex: 1}, errs.ErrInvalidAmount},
		{"source not allowed", policy.InternalFundTransferPayload{SourceIndex: 2, DestinationIndex: 1, Amount: 1}, errs.ErrInternalTransferSource},
		{"destination not allowed", policy.InternalFundTransferPayload{SourceIndex: 1, DestinationIndex: 0, Amount: 1}, errs.ErrInternalTransferDestination},
		{"mint not allowed", policy.InternalFundTransferPayload{SourceIndex: 0, DestinationIndex: 2, Mint: solana.PublicKey{0x78}, Amount: 1}, errs.ErrInternalTransferMint},
		{"native ok", policy.InternalFundTransferPayload{SourceIndex: 0, DestinationIndex: 2, Amount: 1}, nil},
		{"listed mint ok", policy.InternalFundTransferPayload{SourceIndex: 0, DestinationIndex: 2, Mint: mint, Amount: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := tt.payload
			err := p.ValidatePayload(f.env(), &policy.Payload{InternalFundTransfer: &payload})
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestInternalFundTransfer_MovesNativeBetweenVaults(t *testing.T) {
	f := newFixture(t)
	p := internalTransferPolicy(f)

	err := p.Evaluate(context.Background(), f.env(), &policy.Payload{InternalFundTransfer: &policy.InternalFundTransferPayload{
		SourceIndex: 0, DestinationIndex: 2, Amount: 400,
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(600), f.accounts[f.vaults[0].Address].Lamports)
	assert.Equal(t, uint64(1_400), f.accounts[f.vaults[2].Address].Lamports)
}

func TestInternalFundTransfer_MovesTokensBetweenVaults(t *testing.T) {
	f := newFixture(t)
	mint := solana.NewWallet().PublicKey()
	f.tokenAccount(t, f.vaults[1].Address, mint, 50)
	f.tokenAccount(t, f.vaults[2].Address, mint, 0)
	p := internalTransferPolicy(f, mint)

	err := p.Evaluate(context.Background(), f.env(), &policy.Payload{InternalFundTransfer: &policy.InternalFundTransferPayload{
		SourceIndex: 1, DestinationIndex: 2, Mint: mint, Decimals: 6, Amount: 20,
	}})
	require.NoError(t, err)
	assert.Equal(t, uint64(30), f.tokenAmount(t, f.vaults[1].Address, mint))
	assert.Equal(t, uint64(20), f.tokenAmount(t, f.vaults[2].Address, mint))
}

func TestSpendingLimitPolicy_DayAllowance(t *testing.T) {
	f := newFixture(t)
	dest := solana.NewWallet().PublicKey()
	f.native(dest, 0)
	limit := budget.NewLimit(solana.PublicKey{}, 0, budget.PeriodDay, 100)
	p := f.policy(policy.State{SpendingLimit: &policy.SpendingLimit{
		SourceAccountIndex: 0,
		Limit:              *limit,
		Destinations:       []solana.PublicKey{dest},
	}})
	use := func(env *policy.Env, amount uint64, to solana.PublicKey) error {
		return p.Evaluate(context.Background(), env, &policy.Payload{SpendingLimit: &policy.SpendingLimitPayload{Amount: amount, Destination: to}})
	}

	env := f.env()
	require.NoError(t, use(env, 60, dest))
	assert.Equal(t, uint64(40), p.State.SpendingLimit.Limit.RemainingInPeriod)
	assert.Equal(t, uint64(60), f.accounts[dest].Lamports)

	assert.ErrorIs(t, use(env, 50, dest), errs.ErrSpendingLimitExceeded)
	assert.ErrorIs(t, use(env, 10, solana.PublicKey{0x99}), errs.ErrInvalidDestination)

	env.Now += 24 * 60 * 60
	require.NoError(t, use(env, 100, dest))
	assert.Equal(t, uint64(0), p.State.SpendingLimit.Limit.RemainingInPeriod)
}

func TestSpendingLimitPolicy_ValidateDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	limit := budget.NewLimit(solana.PublicKey{}, 0, budget.PeriodWeek, 100)
	p := f.policy(policy.State{SpendingLimit: &policy.SpendingLimit{Limit: *limit}})

	payload := &policy.Payload{SpendingLimit: &policy.SpendingLimitPayload{Amount: 80, Destination: solana.PublicKey{5}}}
	require.NoError(t, p.ValidatePayload(f.env(), payload))
	require.NoError(t, p.ValidatePayload(f.env(), payload))
	assert.Equal(t, uint64(100), p.State.SpendingLimit.Limit.RemainingInPeriod)
}

func memoShape(first uint8) policy.InstructionConstraint {
	return policy.InstructionConstraint{
		ProgramID: solana.MemoProgramID,
		Data:      []policy.DataConstraint{{DataOffset: 0, Value: policy.U8(first), Operator: policy.OpEquals}},
	}
}

func TestProgramInteraction_ShapesAreOredConstraintsAnded(t *testing.T) {
	f := newFixture(t)
	p := f.policy(policy.State{ProgramInteraction: &policy.ProgramInteraction{
		Instructions: []policy.InstructionConstraint{memoShape('a'), memoShape('b')},
	}})
	vault := f.vaults[0].Address
	f.program(solana.MemoProgramID)

	check := func(ixs ...contracts.Instruction) error {
		m, err := contracts.CompileMessage(vault, ixs)
		require.NoError(t, err)
		return p.ValidatePayload(f.env(), &policy.Payload{ProgramInteraction: &policy.ProgramInteractionPayload{Message: *m}})
	}
	memo := func(data string) contracts.Instruction {
		return contracts.Instruction{ProgramID: solana.MemoProgramID, Data: []byte(data)}
	}

	assert.NoError(t, check(memo("a1"), memo("b2")))
	assert.ErrorIs(t, check(memo("c")), errs.ErrDataConstraintFailed)
	assert.ErrorIs(t, check(memo("")), errs.ErrDataTooShort)

	transfer := contracts.MustFromSolana(system.NewTransferInstruction(1, vault, solana.PublicKey{3}).Build())
	assert.ErrorIs(t, check(transfer), errs.ErrProgramInteractionCall)
}

func TestProgramInteraction_AccountConstraint(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	allowed := solana.NewWallet().PublicKey()
	f.native(allowed, 0)
	other := solana.NewWallet().PublicKey()
	f.native(other, 0)

	p := f.policy(policy.State{ProgramInteraction: &policy.ProgramInteraction{
		Instructions: []policy.InstructionConstraint{{
			ProgramID: solana.SystemProgramID,
			Accounts:  []policy.AccountConstraint{{AccountIndex: 1, Keys: []solana.PublicKey{allowed}}},
			Data:      []policy.DataConstraint{{DataOffset: 4, Value: policy.U64(100), Operator: policy.OpLessThanOrEqual}},
		}},
	}})
	run := func(to solana.PublicKey, lamports uint64) error {
		ix := contracts.MustFromSolana(system.NewTransferInstruction(lamports, vault, to).Build())
		m, err := contracts.CompileMessage(vault, []contracts.Instruction{ix})
		require.NoError(t, err)
		return p.Evaluate(context.Background(), f.env(), &policy.Payload{ProgramInteraction: &policy.ProgramInteractionPayload{Message: *m}})
	}

	assert.ErrorIs(t, run(other, 10), errs.ErrAccountConstraintFailed)
	assert.ErrorIs(t, run(allowed, 101), errs.ErrDataConstraintFailed)
	require.NoError(t, run(allowed, 100))
	assert.Equal(t, uint64(100), f.accounts[allowed].Lamports)

	trailing := contracts.Instruction{
		ProgramID: solana.SystemProgramID,
		Accounts:  []*solana.AccountMeta{solana.Meta(vault).WRITE().SIGNER()},
		Data:      make([]byte, 12),
	}
	m, err := contracts.CompileMessage(vault, []contracts.Instruction{trailing})
	require.NoError(t, err)
	err = p.ValidatePayload(f.env(), &policy.Payload{ProgramInteraction: &policy.ProgramInteractionPayload{Message: *m}})
	assert.ErrorIs(t, err, errs.ErrAccountIndexOutOfBounds)
}

func TestProgramInteraction_ReadonlyDestinationIsNotCredited(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	dest := f.native(solana.NewWallet().PublicKey(), 5)
	p := f.policy(policy.State{ProgramInteraction: &policy.ProgramInteraction{}})

	ix := contracts.MustFromSolana(system.NewTransferInstruction(100, vault, dest.Key).Build())
	m, err := contracts.CompileMessage(vault, []contracts.Instruction{ix})
	require.NoError(t, err)
	m.NumWritableNonSigners = 0

	err = p.Evaluate(context.Background(), f.env(), &policy.Payload{ProgramInteraction: &policy.ProgramInteractionPayload{Message: *m}})
	assert.ErrorIs(t, err, errs.ErrReadonlyModified)
	assert.False(t, dest.IsWritable, "message writability narrows the passed account")
	assert.Equal(t, uint64(1_000), f.accounts[vault].Lamports)
	assert.Equal(t, uint64(5), dest.Lamports)
}

func balancePolicy(f *fixture, limits ...budget.Limit) *policy.Policy {
	return f.policy(policy.State{ProgramInteraction: &policy.ProgramInteraction{Spending: limits}})
}

func runMessage(t *testing.T, f *fixture, p *policy.Policy, ixs ...contracts.Instruction) error {
	t.Helper()
	m, err := contracts.CompileMessage(f.vaults[0].Address, ixs)
	require.NoError(t, err)
	return p.Evaluate(context.Background(), f.env(), &policy.Payload{ProgramInteraction: &policy.ProgramInteractionPayload{Message: *m}})
}

func TestBalanceConstraint_NativeAllowance(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	dest := solana.NewWallet().PublicKey()
	f.native(dest, 0)
	p := balancePolicy(f, *budget.NewLimit(solana.PublicKey{}, 0, budget.PeriodDay, 300))

	require.NoError(t, runMessage(t, f, p, contracts.MustFromSolana(system.NewTransferInstruction(200, vault, dest).Build())))
	assert.Equal(t, uint64(100), p.State.ProgramInteraction.Spending[0].RemainingInPeriod)

	err := runMessage(t, f, p, contracts.MustFromSolana(system.NewTransferInstruction(150, vault, dest).Build()))
	assert.ErrorIs(t, err, errs.ErrInsufficientAllowance)
	assert.ErrorIs(t, err, errs.ErrSpendingLimitExceeded)
}

func TestBalanceConstraint_UnlistedMintCannotDecrease(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	mint := solana.NewWallet().PublicKey()
	src := f.tokenAccount(t, vault, mint, 10)
	dst := f.tokenAccount(t, solana.NewWallet().PublicKey(), mint, 0)
	p := balancePolicy(f, *budget.NewLimit(solana.PublicKey{}, 0, budget.PeriodDay, 300))

	ix := contracts.MustFromSolana(splToken.NewTransferCheckedInstruction(5, 6, src.Key, mint, dst.Key, vault, nil).Build())
	assert.ErrorIs(t, runMessage(t, f, p, ix), errs.ErrInsufficientAllowance)
}

func TestBalanceConstraint_TokenWithinAllowance(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	mint := solana.NewWallet().PublicKey()
	src := f.tokenAccount(t, vault, mint, 10)
	dst := f.tokenAccount(t, solana.NewWallet().PublicKey(), mint, 0)
	p := balancePolicy(f, *budget.NewLimit(mint, 0, budget.PeriodDay, 8))

	ix := contracts.MustFromSolana(splToken.NewTransferCheckedInstruction(5, 6, src.Key, mint, dst.Key, vault, nil).Build())
	require.NoError(t, runMessage(t, f, p, ix))
	assert.Equal(t, uint64(3), p.State.ProgramInteraction.Spending[0].RemainingInPeriod)
	assert.Equal(t, uint64(5), f.tokenAmount(t, vault, mint))
}

func TestBalanceConstraint_DelegateChangeIsRejected(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	mint := solana.NewWallet().PublicKey()
	src := f.tokenAccount(t, vault, mint, 10)
	spender := solana.NewWallet().PublicKey()
	f.native(spender, 0)
	p := balancePolicy(f, *budget.NewLimit(mint, 0, budget.PeriodDay, 8))

	ix := contracts.MustFromSolana(splToken.NewApproveInstruction(10, src.Key, spender, vault, nil).Build())
	assert.ErrorIs(t, runMessage(t, f, p, ix), errs.ErrTokenAuthorityChanged)
}

func TestBalanceConstraint_ClosedTokenAccountIsRejected(t *testing.T) {
	f := newFixture(t)
	vault := f.vaults[0].Address
	mint := solana.NewWallet().PublicKey()
	empty := f.tokenAccount(t, vault, mint, 0)
	p := balancePolicy(f, *budget.NewLimit(solana.PublicKey{}, 0, budget.PeriodDay, 8))

	ix := contracts.MustFromSolana(splToken.NewCloseAccountInstruction(empty.Key, vault, vault, nil).Build())
	assert.ErrorIs(t, runMessage(t, f, p, ix), errs.ErrTokenAccountClosed)
}

func TestSettingsChange(t *testing.T) {
	f := newFixture(t)
	newcomer := solana.PublicKey{9}
	tl := uint32(3600)
	p := f.policy(policy.State{SettingsChange: &policy.SettingsChange{Allowed: []policy.AllowedChange{
		{Kind: policy.ChangeAddSigner, Key: &newcomer},
		{Kind: policy.ChangeTimeLock, TimeLock: &tl},
	}}})
	eval := func(reqs ...policy.SettingsChangeRequest) error {
		return p.Evaluate(context.Background(), f.env(), &policy.Payload{SettingsChange: &policy.SettingsChangePayload{Changes: reqs}})
	}
	add := policy.SettingsAction{Kind: policy.ChangeAddSigner, Signer: signers.Signer{Key: newcomer, Permissions: signers.NewPermissions(signers.Vote)}}

	assert.ErrorIs(t, eval(), errs.ErrEmptyActions)
	assert.ErrorIs(t, eval(policy.SettingsChangeRequest{AllowedIndex: 1, Action: add}), errs.ErrSettingsChangeNotAllowed)
	assert.ErrorIs(t, eval(policy.SettingsChangeRequest{AllowedIndex: 5, Action: add}), errs.ErrSettingsChangeNotAllowed)
	stranger := add
	stranger.Signer.Key = solana.PublicKey{10}
	assert.ErrorIs(t, eval(policy.SettingsChangeRequest{AllowedIndex: 0, Action: stranger}), errs.ErrSettingsChangeNotAllowed)
	wrongLock := policy.SettingsAction{Kind: policy.ChangeTimeLock, TimeLock: 60}
	assert.ErrorIs(t, eval(policy.SettingsChangeRequest{AllowedIndex: 1, Action: wrongLock}), errs.ErrSettingsChangeNotAllowed)

	require.NoError(t, eval(
		policy.SettingsChangeRequest{AllowedIndex: 0, Action: add},
		policy.SettingsChangeRequest{AllowedIndex: 1, Action: policy.SettingsAction{Kind: policy.ChangeTimeLock, TimeLock: tl}},
	))
	assert.True(t, f.settings.IsSigner(newcomer))
	assert.Equal(t, tl, f.settings.TimeLock)
	assert.Equal(t, f.settings.TransactionIndex, f.settings.StaleTransactionIndex, "settings changes invalidate pending actions")
}

func TestDataConstraint_Evaluate(t *testing.T) {
	data := []byte{0x05, 0x00, 0x01, 0x00, 0xff, 0xff, 0xff, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	var big [16]byte
	big[15] = 1

	tests := []struct {
		name string
		c    policy.DataConstraint
		want error
	}{
		{"u8 eq", policy.DataConstraint{DataOffset: 0, Value: policy.U8(5), Operator: policy.OpEquals}, nil},
		{"u8 ne fails", policy.DataConstraint{DataOffset: 0, Value: policy.U8(5), Operator: policy.OpNotEquals}, errs.ErrDataConstraintFailed},
		{"u16 gt", policy.DataConstraint{DataOffset: 2, Value: policy.U16(0), Operator: policy.OpGreaterThan}, nil},
		{"u16 little endian", policy.DataConstraint{DataOffset: 2, Value: policy.U16(1), Operator: policy.OpEquals}, nil},
		{"u32 gte", policy.DataConstraint{DataOffset: 4, Value: policy.U32(0xffffffff), Operator: policy.OpGreaterThanOrEqual}, nil},
		{"u64 lt", policy.DataConstraint{DataOffset: 8, Value: policy.U64(1), Operator: policy.OpLessThan}, nil},
		{"u128 lte", policy.DataConstraint{DataOffset: 8, Value: policy.U128(big), Operator: policy.OpLessThanOrEqual}, nil},
		{"u128 gt fails", policy.DataConstraint{DataOffset: 8, Value: policy.U128(big), Operator: policy.OpGreaterThan}, errs.ErrDataConstraintFailed},
		{"bytes eq", policy.DataConstraint{DataOffset: 4, Value: policy.Bytes([]byte{0xff, 0xff}), Operator: policy.OpEquals}, nil},
		{"bytes ne fails", policy.DataConstraint{DataOffset: 4, Value: policy.Bytes([]byte{0xff}), Operator: policy.OpNotEquals}, errs.ErrDataConstraintFailed},
		{"bytes gt invalid", policy.DataConstraint{DataOffset: 0, Value: policy.Bytes([]byte{1}), Operator: policy.OpGreaterThan}, errs.ErrInvalidOperator},
		{"past end", policy.DataConstraint{DataOffset: 20, Value: policy.U64(0), Operator: policy.OpEquals}, errs.ErrDataTooShort},
		{"offset beyond data", policy.DataConstraint{DataOffset: 1 << 40, Value: policy.U8(0), Operator: policy.OpEquals}, errs.ErrDataTooShort},
		{"bad width", policy.DataConstraint{Value: policy.DataValue{Kind: policy.ValueU32, Bytes: []byte{1}}}, errs.ErrInvalidPolicyPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Evaluate(data)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTokenFixtureOwnedByVault(t *testing.T) {
	f := newFixture(t)
	mint := solana.NewWallet().PublicKey()
	info := f.tokenAccount(t, f.vaults[0].Address, mint, 1)
	acc, err := token.Decode(info.Data)
	require.NoError(t, err)
	assert.Equal(t, f.vaults[0].Address, acc.Owner)
}
