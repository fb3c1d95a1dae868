package signers_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

func TestSet_SortedLookup(t *testing.T) {
	s := signers.NewSet(
		signers.Signer{Key: key(3), Permissions: signers.NewPermissions(signers.Vote)},
		signers.Signer{Key: key(1), Permissions: signers.AllPermissions},
		signers.Signer{Key: key(2), Permissions: signers.NewPermissions(signers.Vote)},
	)
	require.NoError(t, s.Validate())
	assert.Equal(t, []solana.PublicKey{key(1), key(2), key(3)}, s.Keys())

	i, ok := s.IsSigner(key(2))
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = s.IsSigner(key(9))
	assert.False(t, ok)

	assert.True(t, s.HasPermission(key(1), signers.Execute))
	assert.False(t, s.HasPermission(key(3), signers.Initiate))
	assert.False(t, s.HasPermission(key(9), signers.Vote))
	assert.Equal(t, 3, s.NumVoters())
	assert.Equal(t, 1, s.NumProposers())
	assert.Equal(t, 1, s.NumExecutors())
}

func TestSet_AddRemove(t *testing.T) {
	s := signers.NewSet(signers.Signer{Key: key(5), Permissions: signers.AllPermissions})

	require.NoError(t, s.Add(signers.Signer{Key: key(2), Permissions: signers.NewPermissions(signers.Vote)}))
	assert.Equal(t, []solana.PublicKey{key(2), key(5)}, s.Keys())

	err := s.Add(signers.Signer{Key: key(2)})
	assert.ErrorIs(t, err, errs.ErrDuplicateSigner)

	require.NoError(t, s.Remove(key(2)))
	assert.Len(t, s, 1)
	assert.ErrorIs(t, s.Remove(key(2)), errs.ErrNotASigner)
}

func TestSet_Validate(t *testing.T) {
	all := signers.AllPermissions
	vote := signers.NewPermissions(signers.Vote)

	tests := []struct {
		name string
		set  signers.Set
		want *errs.Error
	}{
		{"empty", signers.Set{}, errs.ErrEmptySigners},
		{"duplicate", signers.Set{{Key: key(1), Permissions: all}, {Key: key(1), Permissions: all}}, errs.ErrDuplicateSigner},
		{"unknown bits", signers.Set{{Key: key(1), Permissions: signers.Permissions{Mask: 8}}}, errs.ErrUnknownPermission},
		{"unsorted", signers.Set{{Key: key(2), Permissions: all}, {Key: key(1), Permissions: all}}, errs.ErrInvariantViolated},
		{"no proposer", signers.Set{{Key: key(1), Permissions: signers.NewPermissions(signers.Vote, signers.Execute)}}, errs.ErrNoProposers},
		{"no voter", signers.Set{{Key: key(1), Permissions: signers.NewPermissions(signers.Initiate, signers.Execute)}}, errs.ErrNoVoters},
		{"no executor", signers.Set{{Key: key(1), Permissions: signers.NewPermissions(signers.Initiate)}, {Key: key(2), Permissions: vote}}, errs.ErrNoExecutors},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.set.Validate(), tt.want)
		})
	}
}

func TestParsePermissions(t *testing.T) {
	p, err := signers.ParsePermissions("initiate|vote")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), p.Mask)
	assert.Equal(t, "initiate|vote", p.String())

	p, err = signers.ParsePermissions("all")
	require.NoError(t, err)
	assert.Equal(t, signers.AllPermissions, p)

	_, err = signers.ParsePermissions("admin")
	assert.Error(t, err)
}
