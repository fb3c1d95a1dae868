package smartaccount_test

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/observability"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/smartaccount"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/store"
)

var (
	programID    = solana.PublicKey{0x50, 0x52, 0x4f, 0x47}
	initializer  = solana.PublicKey{0x10}
	cfgAuthority = solana.PublicKey{0x11}
	treasury     = solana.PublicKey{0x12}
	controller   = solana.PublicKey{0x13}
	dest         = solana.PublicKey{0xde}

	s1 = solana.PublicKey{1}
	s2 = solana.PublicKey{2}
	s3 = solana.PublicKey{3}
)

const (
	creationFee = 1_000_000
	startFunds  = 10_000_000_000
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	st     *store.Store
	engine *smartaccount.Engine
	sink   *smartaccount.MemorySink
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:    t,
		ctx:  context.Background(),
		st:   store.New(store.NewMemoryBackend()),
		sink: smartaccount.NewMemorySink(),
		now:  time.Unix(1_700_000_000, 0),
	}
	f.engine = smartaccount.New(f.st, programID,
		smartaccount.WithEventSink(f.sink),
		smartaccount.WithInitializers(initializer),
	).WithClock(func() time.Time { return f.now })

	for _, k := range []solana.PublicKey{initializer, cfgAuthority, controller, s1, s2, s3} {
		require.NoError(t, f.st.Fund(f.ctx, k, startFunds))
	}
	require.NoError(t, f.engine.InitializeProgramConfig(f.ctx, smartaccount.InitializeProgramConfigRequest{
		Initializer:             initializer,
		Authority:               cfgAuthority,
		SmartAccountCreationFee: creationFee,
		Treasury:                treasury,
	}))
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// threeSigners is S1(all), S2(vote), S3(vote).
func threeSigners() []signers.Signer {
	return []signers.Signer{
		{Key: s1, Permissions: signers.AllPermissions},
		{Key: s2, Permissions: signers.NewPermissions(signers.Vote)},
		{Key: s3, Permissions: signers.NewPermissions(signers.Vote)},
	}
}

func (f *fixture) createSettings(threshold uint16, timeLock uint32, authority solana.PublicKey) solana.PublicKey {
	f.t.Helper()
	res, err := f.engine.CreateSettings(f.ctx, smartaccount.CreateSettingsRequest{
		Creator:           s1,
		SettingsAuthority: authority,
		Signers:           threeSigners(),
		Threshold:         threshold,
		TimeLock:          timeLock,
		Treasury:          treasury,
	})
	require.NoError(f.t, err)
	return res.Settings
}

func (f *fixture) vault(settingsKey solana.PublicKey, index uint8) solana.PublicKey {
	f.t.Helper()
	d, err := f.engine.Deriver().SmartAccount(settingsKey, index)
	require.NoError(f.t, err)
	return d.Address
}

func (f *fixture) lamports(key solana.PublicKey) uint64 {
	f.t.Helper()
	acc, err := f.st.Get(f.ctx, key)
	require.NoError(f.t, err)
	if acc == nil {
		return 0
	}
	return acc.Lamports
}

func (f *fixture) transfer(from, to solana.PublicKey, amount uint64) *contracts.Message {
	f.t.Helper()
	ix := contracts.MustFromSolana(system.NewTransferInstruction(amount, from, to).Build())
	m, err := contracts.CompileMessage(from, []contracts.Instruction{ix})
	require.NoError(f.t, err)
	return m
}

func (f *fixture) proposalStatus(consensusKey solana.PublicKey, index uint64) proposal.StatusKind {
	f.t.Helper()
	p, err := f.engine.Proposal(f.ctx, consensusKey, index)
	require.NoError(f.t, err)
	require.NotNil(f.t, p)
	return p.Status.Kind
}

func (f *fixture) vote(fn func(context.Context, smartaccount.VoteRequest) error, consensusKey solana.PublicKey, index uint64, signer solana.PublicKey) error {
	return fn(f.ctx, smartaccount.VoteRequest{Consensus: consensusKey, TransactionIndex: index, Signer: signer})
}

// proposeTransfer stores a vault transfer and opens an active proposal.
func (f *fixture) proposeTransfer(settingsKey solana.PublicKey, amount uint64) uint64 {
	f.t.Helper()
	idx, err := f.engine.CreateTransaction(f.ctx, smartaccount.CreateTransactionRequest{
		Consensus: settingsKey,
		Creator:   s1,
		Message:   f.transfer(f.vault(settingsKey, 0), dest, amount),
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.engine.CreateProposal(f.ctx, smartaccount.CreateProposalRequest{
		Consensus:        settingsKey,
		TransactionIndex: idx,
		Creator:          s1,
	}))
	return idx
}

func (f *fixture) eventRecord(kind smartaccount.EventKind) solana.PublicKey {
	f.t.Helper()
	for _, ev := range f.sink.Events() {
		if ev.Kind == kind {
			return ev.Record
		}
	}
	f.t.Fatalf("no %s event", kind)
	return solana.PublicKey{}
}

func TestEngine_CreateSettingsChargesFee(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})

	assert.Equal(t, uint64(creationFee), f.lamports(treasury))
	s, err := f.engine.Settings(f.ctx, key)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), s.Threshold)
	assert.Len(t, s.Signers, 3)

	cfg, err := f.engine.ProgramConfig(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.SmartAccountIndex)

	second := f.createSettings(1, 0, solana.PublicKey{})
	assert.NotEqual(t, key, second)
	assert.Equal(t, uint64(2*creationFee), f.lamports(treasury))
}

func TestEngine_CreateSettingsRejectsWrongTreasury(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateSettings(f.ctx, smartaccount.CreateSettingsRequest{
		Creator:   s1,
		Signers:   threeSigners(),
		Threshold: 2,
		Treasury:  solana.PublicKey{0x99},
	})
	assert.ErrorIs(t, err, errs.ErrInvalidTreasury)
}

func TestEngine_CreateSettingsRejectsBadThreshold(t *testing.T) {
	f := newFixture(t)
	before := f.lamports(s1)
	_, err := f.engine.CreateSettings(f.ctx, smartaccount.CreateSettingsRequest{
		Creator:   s1,
		Signers:   threeSigners(),
		Threshold: 4,
		Treasury:  treasury,
	})
	assert.ErrorIs(t, err, errs.ErrInvalidThreshold)
	assert.Equal(t, before, f.lamports(s1))
	assert.Zero(t, f.lamports(treasury))
}

func TestEngine_ProgramConfigAuthority(t *testing.T) {
	f := newFixture(t)

	err := f.engine.InitializeProgramConfig(f.ctx, smartaccount.InitializeProgramConfigRequest{
		Initializer: s1,
		Authority:   s1,
		Treasury:    s1,
	})
	assert.ErrorIs(t, err, errs.ErrNotInitializer)

	assert.ErrorIs(t, f.engine.SetProgramConfigFee(f.ctx, s1, 5), errs.ErrNotProgramAuthority)
	require.NoError(t, f.engine.SetProgramConfigFee(f.ctx, cfgAuthority, 5))
	require.NoError(t, f.engine.SetProgramConfigTreasury(f.ctx, cfgAuthority, s3))
	require.NoError(t, f.engine.SetProgramConfigAuthority(f.ctx, cfgAuthority, s2))
	assert.ErrorIs(t, f.engine.SetProgramConfigFee(f.ctx, cfgAuthority, 6), errs.ErrNotProgramAuthority)

	cfg, err := f.engine.ProgramConfig(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cfg.SmartAccountCreationFee)
	assert.Equal(t, s3, cfg.Treasury)
	assert.Equal(t, s2, cfg.Authority)
}

func TestEngine_ScenarioA_ApproveAndExecute(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 60, solana.PublicKey{})
	vault := f.vault(key, 0)
	require.NoError(t, f.st.Fund(f.ctx, vault, 5_000_000))

	idx := f.proposeTransfer(key, 1_000_000)
	assert.Equal(t, uint64(1), idx)
	assert.Equal(t, proposal.Active, f.proposalStatus(key, idx))

	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s1))
	assert.Equal(t, proposal.Active, f.proposalStatus(key, idx))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))
	assert.Equal(t, proposal.Approved, f.proposalStatus(key, idx))

	exec := smartaccount.ExecuteRequest{Consensus: key, TransactionIndex: idx, Executor: s1}
	assert.ErrorIs(t, f.engine.ExecuteTransaction(f.ctx, exec), errs.ErrTimeLockNotReleased)

	f.advance(60 * time.Second)
	require.NoError(t, f.engine.ExecuteTransaction(f.ctx, exec))
	assert.Equal(t, proposal.Executed, f.proposalStatus(key, idx))
	assert.Equal(t, uint64(1_000_000), f.lamports(dest))
	assert.Equal(t, uint64(4_000_000), f.lamports(vault))

	tx, err := f.engine.Transaction(f.ctx, key, idx)
	require.NoError(t, err)
	assert.True(t, tx.Payload.Empty())

	assert.ErrorIs(t, f.engine.ExecuteTransaction(f.ctx, exec), errs.ErrInvalidProposalStatus)
	assert.Equal(t, uint64(1_000_000), f.lamports(dest))

	kinds := f.sink.Kinds()
	assert.Contains(t, kinds, smartaccount.EventProposalApproved)
	assert.Contains(t, kinds, smartaccount.EventTransactionExecuted)
	assert.Contains(t, kinds, smartaccount.EventProposalExecuted)
}

func TestEngine_ExecuteRequiresExecutePermission(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	require.NoError(t, f.st.Fund(f.ctx, f.vault(key, 0), 5_000_000))
	idx := f.proposeTransfer(key, 1)
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s1))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))

	err := f.engine.ExecuteTransaction(f.ctx, smartaccount.ExecuteRequest{Consensus: key, TransactionIndex: idx, Executor: s2})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestEngine_ScenarioB_RejectAtCutoff(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	idx := f.proposeTransfer(key, 1)

	require.NoError(t, f.vote(f.engine.RejectProposal, key, idx, s1))
	assert.Equal(t, proposal.Active, f.proposalStatus(key, idx))
	require.NoError(t, f.vote(f.engine.RejectProposal, key, idx, s3))
	assert.Equal(t, proposal.Rejected, f.proposalStatus(key, idx))

	assert.ErrorIs(t, f.vote(f.engine.ApproveProposal, key, idx, s2), errs.ErrInvalidProposalStatus)
}

func TestEngine_CloseRefundsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	before := f.lamports(s1)
	idx := f.proposeTransfer(key, 1)
	require.NoError(t, f.vote(f.engine.RejectProposal, key, idx, s1))
	require.NoError(t, f.vote(f.engine.RejectProposal, key, idx, s3))

	req := smartaccount.CloseRequest{Consensus: key, TransactionIndex: idx}
	require.NoError(t, f.engine.CloseTransaction(f.ctx, req))
	assert.GreaterOrEqual(t, f.lamports(s1), before)

	_, err := f.engine.Transaction(f.ctx, key, idx)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	p, err := f.engine.Proposal(f.ctx, key, idx)
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, f.engine.CloseTransaction(f.ctx, req))
	require.NoError(t, f.engine.CloseTransaction(f.ctx, smartaccount.CloseRequest{Consensus: key, TransactionIndex: 42}))
}

func TestEngine_CloseActiveProposalFails(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	idx := f.proposeTransfer(key, 1)

	err := f.engine.CloseTransaction(f.ctx, smartaccount.CloseRequest{Consensus: key, TransactionIndex: idx})
	assert.ErrorIs(t, err, errs.ErrTransactionNotClosable)
}

func TestEngine_FailedExecutionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	vault := f.vault(key, 0)
	require.NoError(t, f.st.Fund(f.ctx, vault, 100))
	idx := f.proposeTransfer(key, 1_000)
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s1))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))
	events := len(f.sink.Events())

	err := f.engine.ExecuteTransaction(f.ctx, smartaccount.ExecuteRequest{Consensus: key, TransactionIndex: idx, Executor: s1})
	assert.ErrorIs(t, err, errs.ErrInsufficientFunds)

	assert.Equal(t, proposal.Approved, f.proposalStatus(key, idx))
	tx, err := f.engine.Transaction(f.ctx, key, idx)
	require.NoError(t, err)
	assert.False(t, tx.Payload.Empty())
	assert.Equal(t, uint64(100), f.lamports(vault))
	assert.Len(t, f.sink.Events(), events)
}

func TestEngine_ProtectedAccountCannotBeWritable(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	vault := f.vault(key, 0)
	require.NoError(t, f.st.Fund(f.ctx, vault, 5_000_000))

	idx, err := f.engine.CreateTransaction(f.ctx, smartaccount.CreateTransactionRequest{
		Consensus: key,
		Creator:   s1,
		Message:   f.transfer(vault, key, 1),
	})
	require.NoError(t, err)
	require.NoError(t, f.engine.CreateProposal(f.ctx, smartaccount.CreateProposalRequest{Consensus: key, TransactionIndex: idx, Creator: s1}))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s1))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))

	err = f.engine.ExecuteTransaction(f.ctx, smartaccount.ExecuteRequest{Consensus: key, TransactionIndex: idx, Executor: s1})
	assert.ErrorIs(t, err, errs.ErrProtectedAccount)
}

func TestEngine_ObservabilityTracksOutcomes(t *testing.T) {
	f := newFixture(t)
	obs, err := observability.New(f.ctx, &observability.Config{Enabled: false})
	require.NoError(t, err)
	obs.SLO().SetTarget(&observability.SLOTarget{
		Operation:   "smartaccount.approve_proposal",
		LatencyP99:  time.Minute,
		SuccessRate: 0.99,
		Window:      time.Hour,
	})
	f.engine = smartaccount.New(f.st, programID,
		smartaccount.WithEventSink(f.sink),
		smartaccount.WithObservability(obs),
	).WithClock(func() time.Time { return f.now })

	key := f.createSettings(2, 0, solana.PublicKey{})
	idx := f.proposeTransfer(key, 100)

	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))
	assert.ErrorIs(t, f.vote(f.engine.ApproveProposal, key, idx, s2), errs.ErrAlreadyApproved)

	status, err := obs.SLO().Status("smartaccount.approve_proposal")
	require.NoError(t, err)
	assert.Equal(t, 2, status.ObservationCount)
	assert.Equal(t, 0.5, status.CurrentSuccess)
	assert.False(t, status.InCompliance)
}

func TestEngine_ReadonlyDestinationKeepsFunds(t *testing.T) {
	f := newFixture(t)
	key := f.createSettings(2, 0, solana.PublicKey{})
	vault := f.vault(key, 0)
	require.NoError(t, f.st.Fund(f.ctx, vault, 5_000_000))
	require.NoError(t, f.st.Fund(f.ctx, dest, 1))

	msg := f.transfer(vault, dest, 1_000_000)
	msg.NumWritableNonSigners = 0
	idx, err := f.engine.CreateTransaction(f.ctx, smartaccount.CreateTransactionRequest{Consensus: key, Creator: s1, Message: msg})
	require.NoError(t, err)
	require.NoError(t, f.engine.CreateProposal(f.ctx, smartaccount.CreateProposalRequest{Consensus: key, TransactionIndex: idx, Creator: s1}))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s1))
	require.NoError(t, f.vote(f.engine.ApproveProposal, key, idx, s2))

	err = f.engine.ExecuteTransaction(f.ctx, smartaccount.ExecuteRequest{Consensus: key, TransactionIndex: idx, Executor: s1})
	assert.ErrorIs(t, err, errs.ErrReadonlyModified)
	assert.Equal(t, uint64(5_000_000), f.lamports(vault))
	assert.Equal(t, uint64(1), f.lamports(dest))
	assert.Equal(t, proposal.Approved, f.proposalStatus(key, idx))
}
