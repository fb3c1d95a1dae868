package proposal_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/proposal"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

var (
	s1 = solana.PublicKey{1}
	s2 = solana.PublicKey{2}
	s3 = solana.PublicKey{3}
)

// threeOfTwo builds S1(all), S2(vote), S3(vote) with threshold 2 and one
// action created.
func threeOfTwo() *settings.Settings {
	return &settings.Settings{Core: consensus.Core{
		Signers: signers.NewSet(
			signers.Signer{Key: s1, Permissions: signers.AllPermissions},
			signers.Signer{Key: s2, Permissions: signers.NewPermissions(signers.Vote)},
			signers.Signer{Key: s3, Permissions: signers.NewPermissions(signers.Vote)},
		),
		Threshold:        2,
		TransactionIndex: 1,
	}}
}

func newActive(t *testing.T, s *settings.Settings) *proposal.Proposal {
	t.Helper()
	p, err := proposal.Create(s, solana.PublicKey{0xaa}, s1, s1, 1, false, 100)
	require.NoError(t, err)
	require.Equal(t, proposal.Active, p.Status.Kind)
	return p
}

func TestStatusKind_String(t *testing.T) {
	want := map[proposal.StatusKind]string{
		proposal.Draft:     "draft",
		proposal.Active:    "active",
		proposal.Rejected:  "rejected",
		proposal.Approved:  "approved",
		proposal.Executed:  "executed",
		proposal.Cancelled: "cancelled",
	}
	for k, name := range want {
		assert.Equal(t, name, k.String())
	}
	assert.Equal(t, "unknown", (proposal.Cancelled + 1).String())
	assert.Equal(t, proposal.Approved+1, proposal.Executed, "approval leads straight to execution")
}

func TestProposal_ApproveReachesThreshold(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)

	require.NoError(t, p.Approve(s, s1, 101))
	assert.Equal(t, proposal.Active, p.Status.Kind)
	require.NoError(t, p.Approve(s, s2, 102))
	assert.Equal(t, proposal.Status{Kind: proposal.Approved, Timestamp: 102}, p.Status)

	assert.ErrorIs(t, p.Approve(s, s3, 103), errs.ErrInvalidProposalStatus)
}

func TestProposal_RejectReachesCutoff(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)

	require.NoError(t, p.Reject(s, s1, 101))
	assert.Equal(t, proposal.Active, p.Status.Kind)
	require.NoError(t, p.Reject(s, s3, 102))
	assert.Equal(t, proposal.Rejected, p.Status.Kind, "cutoff 3-2+1 = 2 reached without S2")
}

func TestProposal_VoteSwitchingNeverDoubleCounts(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)

	require.NoError(t, p.Approve(s, s2, 1))
	require.NoError(t, p.Reject(s, s2, 2))
	require.NoError(t, p.Approve(s, s2, 3))
	assert.Equal(t, []solana.PublicKey{s2}, p.Approved)
	assert.Empty(t, p.Rejected)

	assert.ErrorIs(t, p.Approve(s, s2, 4), errs.ErrAlreadyApproved)
	require.NoError(t, p.Reject(s, s2, 5))
	assert.ErrorIs(t, p.Reject(s, s2, 6), errs.ErrAlreadyRejected)
	assert.Empty(t, p.Approved)
}

func TestProposal_VotePermissions(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)

	assert.ErrorIs(t, p.Approve(s, solana.PublicKey{9}, 1), errs.ErrNotASigner)

	require.NoError(t, s.AddSigner(signers.Signer{Key: solana.PublicKey{4}, Permissions: signers.NewPermissions(signers.Execute)}))
	assert.ErrorIs(t, p.Approve(s, solana.PublicKey{4}, 1), errs.ErrUnauthorized)
}

func TestProposal_CreateRules(t *testing.T) {
	s := threeOfTwo()

	_, err := proposal.Create(s, solana.PublicKey{}, s1, s1, 2, false, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidTxIndex)

	s.StaleTransactionIndex = 1
	_, err = proposal.Create(s, solana.PublicKey{}, s1, s1, 1, false, 0)
	assert.ErrorIs(t, err, errs.ErrInvalidStaleTx)

	require.NoError(t, s.AddSigner(signers.Signer{Key: solana.PublicKey{5}, Permissions: signers.NewPermissions(signers.Execute)}))
	s.TransactionIndex = 2
	_, err = proposal.Create(s, solana.PublicKey{}, solana.PublicKey{5}, s1, 2, false, 0)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	p, err := proposal.Create(s, solana.PublicKey{}, s2, s2, 2, true, 0)
	require.NoError(t, err, "voters may create proposals")
	assert.Equal(t, proposal.Draft, p.Status.Kind)
}

func TestProposal_ActivateStale(t *testing.T) {
	s := threeOfTwo()
	p, err := proposal.Create(s, solana.PublicKey{}, s1, s1, 1, true, 0)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Activate(s, s2, 1), errs.ErrUnauthorized)

	require.NoError(t, s.ChangeThreshold(3))
	assert.ErrorIs(t, p.Activate(s, s1, 1), errs.ErrStaleProposal)
	assert.Equal(t, proposal.Draft, p.Status.Kind)
}

func TestProposal_StaleVotesRejected(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)
	require.NoError(t, s.SetTimeLock(10))

	assert.ErrorIs(t, p.Approve(s, s1, 1), errs.ErrStaleProposal)
	assert.ErrorIs(t, p.Reject(s, s1, 1), errs.ErrStaleProposal)
}

func TestProposal_Cancel(t *testing.T) {
	s := threeOfTwo()
	p := newActive(t, s)
	assert.ErrorIs(t, p.Cancel(s, s1, 1), errs.ErrInvalidProposalStatus)

	require.NoError(t, p.Approve(s, s1, 1))
	require.NoError(t, p.Approve(s, s2, 2))

	require.NoError(t, p.Cancel(s, s3, 3))
	assert.ErrorIs(t, p.Cancel(s, s3, 4), errs.ErrAlreadyCancelled)

	// S3 leaves; its cancel vote no longer counts, and staleness does not
	// block cancellation.
	require.NoError(t, s.RemoveSigner(s3))
	require.NoError(t, p.Cancel(s, s1, 5))
	assert.Equal(t, proposal.Approved, p.Status.Kind)
	assert.Equal(t, []solana.PublicKey{s1}, p.Cancelled)

	require.NoError(t, p.Cancel(s, s2, 6))
	assert.Equal(t, proposal.Status{Kind: proposal.Cancelled, Timestamp: 6}, p.Status)
}

func TestProposal_MarkExecutedWaitsForTimeLock(t *testing.T) {
	s := threeOfTwo()
	s.TimeLock = 60
	p := newActive(t, s)
	require.NoError(t, p.Approve(s, s1, 1000))
	require.NoError(t, p.Approve(s, s2, 1000))

	assert.ErrorIs(t, p.MarkExecuted(s, 1059), errs.ErrTimeLockNotReleased)
	require.NoError(t, p.MarkExecuted(s, 1060))
	assert.Equal(t, proposal.Executed, p.Status.Kind)
	assert.ErrorIs(t, p.MarkExecuted(s, 1061), errs.ErrInvalidProposalStatus)
}

func TestCloseEligibility(t *testing.T) {
	fresh := &consensus.Core{TransactionIndex: 5, StaleTransactionIndex: 2}
	stale := &consensus.Core{TransactionIndex: 5, StaleTransactionIndex: 5}

	at := func(k proposal.StatusKind) *proposal.Proposal {
		return &proposal.Proposal{TransactionIndex: 4, Status: proposal.Status{Kind: k}}
	}

	tests := []struct {
		name             string
		core             *consensus.Core
		p                *proposal.Proposal
		settings, extern bool
	}{
		{"missing fresh", fresh, nil, false, false},
		{"missing stale", stale, nil, true, true},
		{"active fresh", fresh, at(proposal.Active), false, false},
		{"active stale", stale, at(proposal.Active), true, true},
		{"draft stale", stale, at(proposal.Draft), true, true},
		{"approved fresh", fresh, at(proposal.Approved), false, false},
		{"approved stale", stale, at(proposal.Approved), true, false},
		{"executed fresh", fresh, at(proposal.Executed), true, true},
		{"rejected fresh", fresh, at(proposal.Rejected), true, true},
		{"cancelled fresh", fresh, at(proposal.Cancelled), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.settings, proposal.CanCloseSettingsAction(tt.core, 4, tt.p))
			assert.Equal(t, tt.extern, proposal.CanCloseExternalAction(tt.core, 4, tt.p))
		})
	}
}
