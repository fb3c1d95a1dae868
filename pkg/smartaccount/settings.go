package smartaccount

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// CreateSettingsRequest describes a new smart account.
type CreateSettingsRequest struct {
	Creator solana.PublicKey
	// SettingsAuthority makes the settings controlled when set.
	SettingsAuthority solana.PublicKey
	Signers           []signers.Signer
	Threshold         uint16
	TimeLock          uint32
	RentCollector     *solana.PublicKey
	// Treasury must match the program config treasury.
	Treasury solana.PublicKey
}

// CreateSettingsResult identifies the created settings.
type CreateSettingsResult struct {
	Settings solana.PublicKey
	Seed     authority.U128
}

// CreateSettings creates a smart account under the next program seed. The
// creator pays the creation fee to the treasury and the rent.
func (e *Engine) CreateSettings(ctx context.Context, req CreateSettingsRequest) (*CreateSettingsResult, error) {
	var res CreateSettingsResult
	err := e.run(ctx, "create_settings", func(ctx context.Context, t *opTx) error {
		cfgKey, err := e.ProgramConfigKey()
		if err != nil {
			return err
		}
		var cfg transaction.ProgramConfig
		if err := t.batch.Load(ctx, cfgKey, e.ProgramID(), &cfg); err != nil {
			return err
		}
		if req.Treasury != cfg.Treasury {
			return errs.ErrInvalidTreasury.With("got %s, config has %s", req.Treasury, cfg.Treasury)
		}
		seed, err := cfg.NextSettingsSeed()
		if err != nil {
			return err
		}
		d, err := e.deriver.Settings(seed)
		if err != nil {
			return err
		}

		s := &settings.Settings{
			Seed:              seed,
			SettingsAuthority: req.SettingsAuthority,
			Core: consensus.Core{
				Signers:   signers.NewSet(req.Signers...),
				Threshold: req.Threshold,
				TimeLock:  req.TimeLock,
			},
			RentCollector: req.RentCollector,
			Bump:          d.Bump,
		}
		if err := s.Invariant(); err != nil {
			return err
		}

		if cfg.SmartAccountCreationFee > 0 {
			if err := t.chargeFee(ctx, req.Creator, cfg.Treasury, cfg.SmartAccountCreationFee); err != nil {
				return err
			}
		}
		if err := t.batch.Create(ctx, d.Address, e.ProgramID(), req.Creator, s); err != nil {
			return err
		}
		if err := t.batch.Put(ctx, cfgKey, req.Creator, &cfg); err != nil {
			return err
		}

		res = CreateSettingsResult{Settings: d.Address, Seed: seed}
		t.emit(EventSettingsCreated, d.Address, cfg.SmartAccountIndex, map[string]string{
			"creator":    req.Creator.String(),
			"threshold":  strconv.Itoa(int(req.Threshold)),
			"signers":    strconv.Itoa(len(s.Signers)),
			"controlled": strconv.FormatBool(s.IsControlled()),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// chargeFee moves the creation fee through the sub-call layer, signed by
// the payer itself.
func (t *opTx) chargeFee(ctx context.Context, payer, treasury solana.PublicKey, fee uint64) error {
	ix, err := contracts.FromSolana(system.NewTransferInstruction(fee, payer, treasury).Build())
	if err != nil {
		return errs.ErrInvalidTransactionMessage.Wrap(err)
	}
	set, err := t.loadAccounts(ctx, []solana.PublicKey{payer, treasury}, []solana.PublicKey{payer}, nil)
	if err != nil {
		return err
	}
	if err := t.engine.invoker.Invoke(ctx, ix, set.aligned([]solana.PublicKey{payer, treasury}), nil); err != nil {
		return err
	}
	t.persist(set)
	return nil
}

// Settings returns the settings record at key.
func (e *Engine) Settings(ctx context.Context, key solana.PublicKey) (*settings.Settings, error) {
	var s settings.Settings
	if err := e.store.Load(ctx, key, e.ProgramID(), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Policy returns the policy record at key.
func (e *Engine) Policy(ctx context.Context, key solana.PublicKey) (*policy.Policy, error) {
	var p policy.Policy
	if err := e.store.Load(ctx, key, e.ProgramID(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SpendingLimit returns the settings-level spending limit at key.
func (e *Engine) SpendingLimit(ctx context.Context, key solana.PublicKey) (*budget.SpendingLimit, error) {
	var sl budget.SpendingLimit
	if err := e.store.Load(ctx, key, e.ProgramID(), &sl); err != nil {
		return nil, err
	}
	return &sl, nil
}

// SettingsActionsRequest applies actions directly with the settings
// authority of controlled settings.
type SettingsActionsRequest struct {
	Settings  solana.PublicKey
	Authority solana.PublicKey
	RentPayer solana.PublicKey
	Actions   []transaction.SettingsAction
}

// ExecuteSettingsActionsAsAuthority lets the settings authority of
// controlled settings change them without a proposal.
func (e *Engine) ExecuteSettingsActionsAsAuthority(ctx context.Context, req SettingsActionsRequest) error {
	return e.run(ctx, "execute_settings_actions_as_authority", func(ctx context.Context, t *opTx) error {
		c, err := t.loadSettingsRecord(ctx, req.Settings)
		if err != nil {
			return err
		}
		if !c.settings.IsControlled() {
			return errs.ErrNotControlled.With("%s", req.Settings)
		}
		if req.Authority != c.settings.SettingsAuthority {
			return errs.ErrNotSettingsAuthority.With("%s", req.Authority)
		}
		if err := transaction.ValidateActions(req.Actions); err != nil {
			return err
		}
		return t.applySettingsActions(ctx, req.Settings, c.settings, req.Actions, payerOr(req.RentPayer, req.Authority))
	})
}

func payerOr(payer, fallback solana.PublicKey) solana.PublicKey {
	if payer.IsZero() {
		return fallback
	}
	return payer
}

// applySettingsActions applies actions in order to s, creating and closing
// spending limits and policies as needed, then stages s.
func (t *opTx) applySettingsActions(ctx context.Context, key solana.PublicKey, s *settings.Settings, actions []transaction.SettingsAction, payer solana.PublicKey) error {
	e := t.engine
	for i := range actions {
		a := &actions[i]
		kind, err := a.Kind()
		if err != nil {
			return err
		}
		handled, err := a.ApplyToSettings(s)
		if err != nil {
			return err
		}
		if handled {
			t.emit(EventSettingsChanged, key, s.TransactionIndex, map[string]string{"action": kind.String()})
			continue
		}

		switch {
		case a.AddSpendingLimit != nil:
			d, err := e.deriver.SpendingLimit(key, a.AddSpendingLimit.Seed)
			if err != nil {
				return err
			}
			sl, err := a.AddSpendingLimit.NewSpendingLimit(key, d.Bump, t.now)
			if err != nil {
				return err
			}
			if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, sl); err != nil {
				return err
			}
			t.emit(EventSpendingLimitAdded, d.Address, 0, map[string]string{
				"settings": key.String(),
				"mint":     sl.Mint.String(),
				"amount":   strconv.FormatUint(sl.Amount, 10),
			})

		case a.RemoveSpendingLimit != nil:
			var sl budget.SpendingLimit
			if err := t.batch.Load(ctx, *a.RemoveSpendingLimit, e.ProgramID(), &sl); err != nil {
				return err
			}
			if sl.Settings != key {
				return errs.ErrSettingsMismatch.With("spending limit %s belongs to %s", *a.RemoveSpendingLimit, sl.Settings)
			}
			if err := t.batch.Close(ctx, *a.RemoveSpendingLimit, refundTarget(s, payer)); err != nil {
				return err
			}
			t.emit(EventSpendingLimitRemoved, *a.RemoveSpendingLimit, 0, map[string]string{"settings": key.String()})

		case a.PolicyCreate != nil:
			seed, err := s.NextPolicySeed()
			if err != nil {
				return err
			}
			d, err := e.deriver.Policy(key, seed)
			if err != nil {
				return err
			}
			p := a.PolicyCreate.NewPolicy(key, seed, d.Bump, refundTarget(s, payer))
			if err := p.Invariant(); err != nil {
				return err
			}
			if err := t.batch.Create(ctx, d.Address, e.ProgramID(), payer, p); err != nil {
				return err
			}
			pk, _ := p.State.Kind()
			t.emit(EventPolicyCreated, d.Address, seed, map[string]string{"settings": key.String(), "policy_kind": pk.String()})

		case a.PolicyUpdate != nil:
			var p policy.Policy
			if err := t.batch.Load(ctx, a.PolicyUpdate.Policy, e.ProgramID(), &p); err != nil {
				return err
			}
			if p.Settings != key {
				return errs.ErrSettingsMismatch.With("policy %s belongs to %s", a.PolicyUpdate.Policy, p.Settings)
			}
			a.PolicyUpdate.Apply(&p)
			if err := p.Invariant(); err != nil {
				return err
			}
			if err := t.batch.Put(ctx, a.PolicyUpdate.Policy, payer, &p); err != nil {
				return err
			}
			t.emit(EventPolicyUpdated, a.PolicyUpdate.Policy, p.StaleTransactionIndex, map[string]string{"settings": key.String()})

		case a.PolicyRemove != nil:
			var p policy.Policy
			if err := t.batch.Load(ctx, *a.PolicyRemove, e.ProgramID(), &p); err != nil {
				return err
			}
			if p.Settings != key {
				return errs.ErrSettingsMismatch.With("policy %s belongs to %s", *a.PolicyRemove, p.Settings)
			}
			if err := t.batch.Close(ctx, *a.PolicyRemove, payerOr(p.RentCollector, payer)); err != nil {
				return err
			}
			t.emit(EventPolicyRemoved, *a.PolicyRemove, 0, map[string]string{"settings": key.String()})

		default:
			return errs.ErrInvalidAction.With("action %d (%s)", i, kind)
		}
	}
	return t.putSettings(ctx, key, s, payer)
}

func refundTarget(s *settings.Settings, fallback solana.PublicKey) solana.PublicKey {
	if s.RentCollector != nil {
		return *s.RentCollector
	}
	return fallback
}
