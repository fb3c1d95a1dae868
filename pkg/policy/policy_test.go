package policy_test

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/codec"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/executor"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/token"
)

var (
	programID = solana.MustPublicKeyFromBase58("SMRTzfY6DfH5ik3TKiyLFfXexV8uSG3d2UksSCYdunG")
	member    = solana.PublicKey{1}
	voter     = solana.PublicKey{2}
)

type fixture struct {
	deriver     authority.Deriver
	settingsKey solana.PublicKey
	settings    *settings.Settings
	vaults      []authority.Derived
	accounts    map[solana.PublicKey]*contracts.AccountInfo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d := authority.New(programID)
	sd, err := d.Settings(authority.U128From(7))
	require.NoError(t, err)
	f := &fixture{
		deriver:     d,
		settingsKey: sd.Address,
		settings: &settings.Settings{Core: consensus.Core{
			Signers: signers.NewSet(
				signers.Signer{Key: member, Permissions: signers.AllPermissions},
				signers.Signer{Key: voter, Permissions: signers.NewPermissions(signers.Vote)},
			),
			Threshold:        1,
			TransactionIndex: 4,
		}},
		accounts: make(map[solana.PublicKey]*contracts.AccountInfo),
	}
	for i := uint8(0); i < 3; i++ {
		v, err := d.SmartAccount(sd.Address, i)
		require.NoError(t, err)
		f.vaults = append(f.vaults, v)
		f.native(v.Address, 1_000)
	}
	f.program(solana.SystemProgramID)
	f.program(solana.TokenProgramID)
	return f
}

func (f *fixture) native(key solana.PublicKey, lamports uint64) *contracts.AccountInfo {
	info := &contracts.AccountInfo{Account: contracts.Account{Key: key, Owner: solana.SystemProgramID, Lamports: lamports}, IsWritable: true}
	f.accounts[key] = info
	return info
}

func (f *fixture) program(key solana.PublicKey) {
	f.accounts[key] = &contracts.AccountInfo{Account: contracts.Account{Key: key, Owner: solana.BPFLoaderUpgradeableProgramID, Lamports: 1}}
}

func (f *fixture) tokenAccount(t *testing.T, wallet, mint solana.PublicKey, amount uint64) *contracts.AccountInfo {
	t.Helper()
	addr, err := token.Address(wallet, mint)
	require.NoError(t, err)
	data, err := token.Encode(token.NewAccount(mint, wallet, amount))
	require.NoError(t, err)
	info := &contracts.AccountInfo{Account: contracts.Account{Key: addr, Owner: solana.TokenProgramID, Lamports: 2_039_280, Data: data}, IsWritable: true}
	f.accounts[addr] = info
	if _, ok := f.accounts[mint]; !ok {
		f.accounts[mint] = &contracts.AccountInfo{Account: contracts.Account{Key: mint, Owner: solana.TokenProgramID, Lamports: 1, Data: make([]byte, 82)}}
	}
	return info
}

func (f *fixture) tokenAmount(t *testing.T, wallet, mint solana.PublicKey) uint64 {
	t.Helper()
	addr, err := token.Address(wallet, mint)
	require.NoError(t, err)
	acc, err := token.Decode(f.accounts[addr].Data)
	require.NoError(t, err)
	return acc.Amount
}

func (f *fixture) env() *policy.Env {
	infos := make([]*contracts.AccountInfo, 0, len(f.accounts))
	for _, info := range f.accounts {
		infos = append(infos, info)
	}
	return &policy.Env{
		SettingsKey: f.settingsKey,
		Settings:    f.settings,
		PolicyKey:   solana.PublicKey{0xee},
		Deriver:     f.deriver,
		Invoker:     executor.NewLocalInvoker(programID),
		Accounts:    infos,
		Now:         1_000,
	}
}

func (f *fixture) policy(state policy.State) *policy.Policy {
	return &policy.Policy{
		Settings: f.settingsKey,
		Seed:     1,
		Core: consensus.Core{
			Signers:   signers.NewSet(signers.Signer{Key: member, Permissions: signers.AllPermissions}),
			Threshold: 1,
		},
		State: state,
	}
}

func TestPolicy_StateNeedsExactlyOneBehavior(t *testing.T) {
	var s policy.State
	_, err := s.Kind()
	assert.ErrorIs(t, err, errs.ErrInvalidPolicyPayload)

	s.InternalFundTransfer = &policy.InternalFundTransfer{SourceAccountMask: policy.MaskOf(0), DestinationAccountMask: policy.MaskOf(1)}
	kind, err := s.Kind()
	require.NoError(t, err)
	assert.Equal(t, policy.KindInternalFundTransfer, kind)

	s.SettingsChange = &policy.SettingsChange{}
	_, err = s.Kind()
	assert.ErrorIs(t, err, errs.ErrInvalidPolicyPayload)
}

func TestPolicy_PayloadKindMustMatch(t *testing.T) {
	f := newFixture(t)
	p := f.policy(policy.State{InternalFundTransfer: &policy.InternalFundTransfer{
		SourceAccountMask: policy.MaskOf(0), DestinationAccountMask: policy.MaskOf(1),
	}})
	err := p.Evaluate(context.Background(), f.env(), &policy.Payload{SpendingLimit: &policy.SpendingLimitPayload{Amount: 1}})
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)

	err = p.Evaluate(context.Background(), f.env(), &policy.Payload{})
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)
}

func TestPolicy_SettingsMismatch(t *testing.T) {
	f := newFixture(t)
	p := f.policy(policy.State{InternalFundTransfer: &policy.InternalFundTransfer{
		SourceAccountMask: policy.MaskOf(0), DestinationAccountMask: policy.MaskOf(1),
	}})
	p.Settings = solana.PublicKey{0x42}
	err := p.ValidatePayload(f.env(), &policy.Payload{InternalFundTransfer: &policy.InternalFundTransferPayload{SourceIndex: 0, DestinationIndex: 1, Amount: 1}})
	assert.ErrorIs(t, err, errs.ErrSettingsMismatch)
}

func TestPolicy_IsActive(t *testing.T) {
	f := newFixture(t)
	p := f.policy(policy.State{SettingsChange: &policy.SettingsChange{Allowed: []policy.AllowedChange{{Kind: policy.ChangeThreshold}}}})
	p.Start = 100

	assert.ErrorIs(t, p.IsActive(99, f.settings), errs.ErrPolicyNotActive)
	assert.NoError(t, p.IsActive(100, f.settings))

	ts := int64(200)
	p.Expiration.Timestamp = &ts
	assert.NoError(t, p.IsActive(199, f.settings))
	assert.ErrorIs(t, p.IsActive(200, f.settings), errs.ErrPolicyNotActive)

	p.Expiration.Timestamp = nil
	h, err := f.settings.StateHash()
	require.NoError(t, err)
	p.Expiration.SettingsState = &h
	assert.NoError(t, p.IsActive(150, f.settings))

	require.NoError(t, f.settings.SetTimeLock(60))
	assert.ErrorIs(t, p.IsActive(150, f.settings), errs.ErrPolicyNotActive, "a voting change retires the policy")
}

func TestPolicy_InvariantAndCodec(t *testing.T) {
	f := newFixture(t)
	perUse := uint64(10)
	p := f.policy(policy.State{ProgramInteraction: &policy.ProgramInteraction{
		Instructions: []policy.InstructionConstraint{{
			ProgramID: solana.MemoProgramID,
			Data:      []policy.DataConstraint{{DataOffset: 0, Value: policy.U8(7), Operator: policy.OpEquals}},
		}},
		Spending: []budget.Limit{{MaxPerPeriod: 100, MaxPerUse: &perUse, RemainingInPeriod: 100, Period: budget.PeriodDay}},
	}})
	require.NoError(t, p.Invariant())

	data, err := codec.Encode(p)
	require.NoError(t, err)
	var back policy.Policy
	require.NoError(t, codec.Decode(data, &back))
	require.NoError(t, back.Invariant())
	kind, err := back.State.Kind()
	require.NoError(t, err)
	assert.Equal(t, policy.KindProgramInteraction, kind)
	assert.Equal(t, p.Signers, back.Signers)

	clone := p.Clone()
	clone.State.ProgramInteraction.Spending[0].RemainingInPeriod = 1
	assert.Equal(t, uint64(100), p.State.ProgramInteraction.Spending[0].RemainingInPeriod)

	p.Threshold = 0
	assert.ErrorIs(t, p.Invariant(), errs.ErrInvalidThreshold)
}

func TestAccountMask(t *testing.T) {
	m := policy.MaskOf(0, 9, 255)
	assert.True(t, m.Has(0))
	assert.True(t, m.Has(9))
	assert.True(t, m.Has(255))
	assert.False(t, m.Has(1))
	assert.False(t, m.Empty())
	assert.True(t, policy.AccountMask{}.Empty())
}
