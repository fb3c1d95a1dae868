package authority_test

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
)

var programID = solana.MustPublicKeyFromBase58("SMRTzfY6DfH5ik3TKiyLFfXexV8uSG3d2UksSCYdunG")

func TestDeriver_Deterministic(t *testing.T) {
	d := authority.New(programID)
	a, err := d.Settings(authority.U128From(7))
	require.NoError(t, err)
	b, err := d.Settings(authority.U128From(7))
	require.NoError(t, err)
	c, err := d.Settings(authority.U128From(8))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Address, c.Address)
	assert.False(t, a.Address.IsOnCurve(), "derived addresses have no private key")
}

func TestDeriver_VerifySignerSeeds(t *testing.T) {
	d := authority.New(programID)
	settings, err := d.Settings(authority.U128From(1))
	require.NoError(t, err)

	vault, err := d.SmartAccount(settings.Address, 0)
	require.NoError(t, err)
	assert.True(t, d.Verify(vault.Address, vault.SignerSeeds()))

	other, err := d.SmartAccount(settings.Address, 1)
	require.NoError(t, err)
	assert.False(t, d.Verify(other.Address, vault.SignerSeeds()))
	assert.NotEqual(t, vault.Address, other.Address)
}

func TestDeriver_RecordsAreDistinct(t *testing.T) {
	d := authority.New(programID)
	settings, err := d.Settings(authority.U128From(1))
	require.NoError(t, err)

	tx, err := d.Transaction(settings.Address, 1)
	require.NoError(t, err)
	prop, err := d.Proposal(settings.Address, 1)
	require.NoError(t, err)
	eph, err := d.EphemeralSigner(tx.Address, 0)
	require.NoError(t, err)
	batchTx, err := d.BatchTransaction(settings.Address, 1, 1)
	require.NoError(t, err)

	seen := map[solana.PublicKey]bool{}
	for _, k := range []solana.PublicKey{settings.Address, tx.Address, prop.Address, eph.Address, batchTx.Address} {
		assert.False(t, seen[k])
		seen[k] = true
	}
}

func TestU128(t *testing.T) {
	v, ok := authority.U128From(42).Uint64()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), v)

	big := authority.U128From(1)
	big[15] = 1
	_, ok = big.Uint64()
	assert.False(t, ok)
}
