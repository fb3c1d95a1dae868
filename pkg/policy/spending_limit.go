package policy

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// SpendingLimit lets the policy signers spend from one vault within a
// periodic allowance.
type SpendingLimit struct {
	SourceAccountIndex uint8        `json:"source_account_index"`
	Limit              budget.Limit `json:"limit"`
	// Destinations restricts who may receive funds. Empty allows anyone.
	Destinations []solana.PublicKey `json:"destinations"`
}

// SpendingLimitPayload sends Amount of the limit's mint to Destination.
type SpendingLimitPayload struct {
	Amount      uint64           `json:"amount"`
	Destination solana.PublicKey `json:"destination"`
	Decimals    uint8            `json:"decimals"`
}

func (s *SpendingLimit) clone() *SpendingLimit {
	c := *s
	c.Limit = *s.Limit.Clone()
	c.Destinations = append([]solana.PublicKey(nil), s.Destinations...)
	return &c
}

func (s *SpendingLimit) validate() error {
	return s.Limit.Invariant()
}

func (s *SpendingLimit) allowsDestination(dest solana.PublicKey) bool {
	if len(s.Destinations) == 0 {
		return true
	}
	for _, d := range s.Destinations {
		if d == dest {
			return true
		}
	}
	return false
}

// validatePayload checks the amount against a reset copy of the limit.
func (s *SpendingLimit) validatePayload(env *Env, payload *Payload) error {
	p := payload.SpendingLimit
	if !s.allowsDestination(p.Destination) {
		return errs.ErrInvalidDestination.With("%s", p.Destination)
	}
	l := s.Limit.Clone()
	if err := l.CheckActive(env.Now); err != nil {
		return err
	}
	if err := l.ResetIfNeeded(env.Now); err != nil {
		return err
	}
	return l.CheckAmount(p.Amount)
}

func (s *SpendingLimit) executePayload(ctx context.Context, env *Env, payload *Payload) error {
	p := payload.SpendingLimit
	if err := s.Limit.Use(env.Now, p.Amount); err != nil {
		return err
	}
	source, err := env.Vault(s.SourceAccountIndex)
	if err != nil {
		return err
	}
	return Transfer(ctx, env, source, p.Destination, s.Limit.Mint, p.Decimals, p.Amount)
}
