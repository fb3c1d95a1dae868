package transaction

import (
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// ProgramConfig is the global record governing settings creation.
type ProgramConfig struct {
	Authority               solana.PublicKey `json:"authority"`
	SmartAccountCreationFee uint64           `json:"smart_account_creation_fee"`
	Treasury                solana.PublicKey `json:"treasury"`
	// SmartAccountIndex counts created settings; each new settings record is
	// seeded with the incremented value.
	SmartAccountIndex uint64 `json:"smart_account_index"`
}

func (*ProgramConfig) AccountName() string { return "ProgramConfig" }

// RequireAuthority fails unless caller is the config authority.
func (c *ProgramConfig) RequireAuthority(caller solana.PublicKey) error {
	if caller != c.Authority {
		return errs.ErrNotProgramAuthority.With("caller %s", caller)
	}
	return nil
}

// NextSettingsSeed reserves the seed of the next settings record.
func (c *ProgramConfig) NextSettingsSeed() (authority.U128, error) {
	if c.SmartAccountIndex == math.MaxUint64 {
		return authority.U128{}, errs.ErrOverflow.With("smart account index")
	}
	c.SmartAccountIndex++
	return authority.U128From(c.SmartAccountIndex), nil
}
