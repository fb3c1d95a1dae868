package smartaccount

import (
	"context"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
)

// UseSpendingLimitRequest moves funds out of a vault under a settings-level
// spending limit, without a proposal.
type UseSpendingLimitRequest struct {
	Settings      solana.PublicKey
	SpendingLimit solana.PublicKey
	Signer        solana.PublicKey
	Destination   solana.PublicKey
	Amount        uint64
	Decimals      uint8
}

// UseSpendingLimit checks and decrements the limit, then transfers Amount
// from the limit's vault to Destination. It returns the receipt of the use.
func (e *Engine) UseSpendingLimit(ctx context.Context, req UseSpendingLimitRequest) (*budget.Receipt, error) {
	var receipt *budget.Receipt
	err := e.run(ctx, "use_spending_limit", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		var sl budget.SpendingLimit
		if err := t.batch.Load(ctx, req.SpendingLimit, e.ProgramID(), &sl); err != nil {
			return err
		}
		if sl.Settings != req.Settings {
			return errs.ErrSpendingLimitMismatch.With("limit belongs to %s", sl.Settings)
		}
		if receipt, err = sl.Use(time.Unix(t.now, 0), req.SpendingLimit, req.Signer, req.Destination, req.Amount); err != nil {
			return err
		}

		vault, err := e.deriver.SmartAccount(req.Settings, sl.AccountIndex)
		if err != nil {
			return err
		}
		keys, err := policy.TransferKeys(vault.Address, req.Destination, sl.Mint)
		if err != nil {
			return err
		}
		protected := []solana.PublicKey{req.Settings, req.SpendingLimit}
		set, err := t.loadAccounts(ctx, keys, []solana.PublicKey{req.Signer}, protected)
		if err != nil {
			return err
		}
		env := &policy.Env{
			SettingsKey: req.Settings,
			Settings:    c.settings,
			Deriver:     e.deriver,
			Invoker:     e.invoker,
			Accounts:    set.infos,
			Protected:   protected,
			Now:         t.now,
		}
		if err := policy.Transfer(ctx, env, vault, req.Destination, sl.Mint, req.Decimals, req.Amount); err != nil {
			return err
		}
		t.persist(set)
		if err := t.batch.Put(ctx, req.SpendingLimit, req.Signer, &sl); err != nil {
			return err
		}
		t.emit(EventSpendingLimitUsed, req.SpendingLimit, 0, map[string]string{
			"signer":      req.Signer.String(),
			"destination": req.Destination.String(),
			"amount":      strconv.FormatUint(req.Amount, 10),
			"remaining":   strconv.FormatUint(sl.RemainingAmount, 10),
			"receipt":     receipt.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
