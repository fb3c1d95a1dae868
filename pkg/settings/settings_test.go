package settings_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/codec"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

func newSettings() *settings.Settings {
	return &settings.Settings{
		Core: consensus.Core{
			Signers: signers.NewSet(
				signers.Signer{Key: solana.PublicKey{1}, Permissions: signers.AllPermissions},
				signers.Signer{Key: solana.PublicKey{2}, Permissions: signers.NewPermissions(signers.Vote)},
			),
			Threshold:        1,
			TransactionIndex: 3,
		},
	}
}

func TestSettings_ImplementsAccount(t *testing.T) {
	var acct consensus.Account = newSettings()
	assert.Equal(t, consensus.KindSettings, acct.Kind())
	assert.Equal(t, uint16(1), acct.Consensus().Threshold)
	assert.NoError(t, acct.Invariant())
}

func TestSettings_BookkeepingDoesNotInvalidate(t *testing.T) {
	s := newSettings()
	collector := solana.PublicKey{9}
	s.SetRentCollector(&collector)
	s.SetArchivalAuthority(&collector)
	assert.Zero(t, s.StaleTransactionIndex)

	require.NoError(t, s.ChangeThreshold(2))
	assert.Equal(t, uint64(3), s.StaleTransactionIndex)
}

func TestSettings_StateHashTracksVotingConfig(t *testing.T) {
	s := newSettings()
	h1, err := s.StateHash()
	require.NoError(t, err)

	collector := solana.PublicKey{7}
	s.SetRentCollector(&collector)
	s.TransactionIndex = 10
	h2, err := s.StateHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "bookkeeping fields are not part of the state hash")

	require.NoError(t, s.SetTimeLock(30))
	h3, err := s.StateHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestSettings_CloneIsIndependent(t *testing.T) {
	s := newSettings()
	c := s.Clone()
	require.NoError(t, c.AddSigner(signers.Signer{Key: solana.PublicKey{3}, Permissions: signers.NewPermissions(signers.Vote)}))
	assert.Len(t, s.Signers, 2)
	assert.Len(t, c.Signers, 3)
}

func TestSettings_Persisted(t *testing.T) {
	s := newSettings()
	data, err := codec.Encode(s)
	require.NoError(t, err)

	var out settings.Settings
	require.NoError(t, codec.Decode(data, &out))
	assert.Equal(t, s.Signers, out.Signers)
	assert.Equal(t, s.TransactionIndex, out.TransactionIndex)
	assert.False(t, out.IsControlled())
}

func TestSettings_NextPolicySeed(t *testing.T) {
	s := newSettings()
	seed, err := s.NextPolicySeed()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seed)
}
