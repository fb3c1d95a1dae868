package consensus

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// VerifyLiveQuorum checks that the presented signers can authorize an action
// on the spot, standing in for a proposal. expected is the number of signers
// the caller declared; present are the keys that actually signed.
func (c *Core) VerifyLiveQuorum(expected int, present []solana.PublicKey) error {
	if c.TimeLock != 0 {
		return errs.ErrTimeLockNotZero.With("time lock %d", c.TimeLock)
	}
	if expected != len(present) {
		return errs.ErrInvalidSignerCount.With("declared %d, presented %d", expected, len(present))
	}

	seen := make(map[solana.PublicKey]struct{}, len(present))
	var aggregate signers.Permissions
	voters := 0
	for _, k := range present {
		if _, dup := seen[k]; dup {
			return errs.ErrDuplicateSigner.With("%s", k)
		}
		seen[k] = struct{}{}

		i, ok := c.Signers.IsSigner(k)
		if !ok {
			return errs.ErrNotASigner.With("%s", k)
		}
		p := c.Signers[i].Permissions
		aggregate.Mask |= p.Mask
		if p.Has(signers.Vote) {
			voters++
		}
	}

	if !aggregate.Has(signers.Initiate) || !aggregate.Has(signers.Vote) || !aggregate.Has(signers.Execute) {
		return errs.ErrInsufficientAggregate.With("aggregate %s", aggregate)
	}
	if voters < int(c.Threshold) {
		return errs.ErrInsufficientVotePower.With("%d voters, threshold %d", voters, c.Threshold)
	}
	return nil
}
