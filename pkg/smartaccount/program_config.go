package smartaccount

import (
	"context"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/transaction"
)

// InitializeProgramConfigRequest creates the global program config.
type InitializeProgramConfigRequest struct {
	Initializer             solana.PublicKey
	Authority               solana.PublicKey
	SmartAccountCreationFee uint64
	Treasury                solana.PublicKey
}

// ProgramConfigKey is the address of the program config.
func (e *Engine) ProgramConfigKey() (solana.PublicKey, error) {
	d, err := e.deriver.ProgramConfig()
	return d.Address, err
}

// InitializeProgramConfig creates the program config. Only an allowed
// initializer may call it; the initializer pays the rent.
func (e *Engine) InitializeProgramConfig(ctx context.Context, req InitializeProgramConfigRequest) error {
	return e.run(ctx, "initialize_program_config", func(ctx context.Context, t *opTx) error {
		if !e.initializers[req.Initializer] {
			return errs.ErrNotInitializer.With("%s", req.Initializer)
		}
		if req.Authority.IsZero() || req.Treasury.IsZero() {
			return errs.ErrInvalidAccount.With("program config needs an authority and a treasury")
		}
		key, err := e.ProgramConfigKey()
		if err != nil {
			return err
		}
		cfg := &transaction.ProgramConfig{
			Authority:               req.Authority,
			SmartAccountCreationFee: req.SmartAccountCreationFee,
			Treasury:                req.Treasury,
		}
		if err := t.batch.Create(ctx, key, e.ProgramID(), req.Initializer, cfg); err != nil {
			return err
		}
		t.emit(EventProgramConfigInitialized, key, 0, map[string]string{
			"authority": req.Authority.String(),
			"treasury":  req.Treasury.String(),
			"fee":       strconv.FormatUint(req.SmartAccountCreationFee, 10),
		})
		return nil
	})
}

// ProgramConfig returns the current program config.
func (e *Engine) ProgramConfig(ctx context.Context) (*transaction.ProgramConfig, error) {
	key, err := e.ProgramConfigKey()
	if err != nil {
		return nil, err
	}
	var cfg transaction.ProgramConfig
	if err := e.store.Load(ctx, key, e.ProgramID(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (e *Engine) updateProgramConfig(ctx context.Context, name string, caller solana.PublicKey, apply func(*transaction.ProgramConfig) map[string]string) error {
	return e.run(ctx, name, func(ctx context.Context, t *opTx) error {
		key, err := e.ProgramConfigKey()
		if err != nil {
			return err
		}
		var cfg transaction.ProgramConfig
		if err := t.batch.Load(ctx, key, e.ProgramID(), &cfg); err != nil {
			return err
		}
		if err := cfg.RequireAuthority(caller); err != nil {
			return err
		}
		attrs := apply(&cfg)
		if err := t.batch.Put(ctx, key, caller, &cfg); err != nil {
			return err
		}
		t.emit(EventProgramConfigUpdated, key, 0, attrs)
		return nil
	})
}

// SetProgramConfigAuthority hands the program config to a new authority.
func (e *Engine) SetProgramConfigAuthority(ctx context.Context, caller, newAuthority solana.PublicKey) error {
	if newAuthority.IsZero() {
		return errs.ErrInvalidAccount.With("program config authority cannot be empty")
	}
	return e.updateProgramConfig(ctx, "set_program_config_authority", caller, func(c *transaction.ProgramConfig) map[string]string {
		c.Authority = newAuthority
		return map[string]string{"authority": newAuthority.String()}
	})
}

// SetProgramConfigFee changes the settings creation fee.
func (e *Engine) SetProgramConfigFee(ctx context.Context, caller solana.PublicKey, fee uint64) error {
	return e.updateProgramConfig(ctx, "set_program_config_fee", caller, func(c *transaction.ProgramConfig) map[string]string {
		c.SmartAccountCreationFee = fee
		return map[string]string{"fee": strconv.FormatUint(fee, 10)}
	})
}

// SetProgramConfigTreasury changes where creation fees go.
func (e *Engine) SetProgramConfigTreasury(ctx context.Context, caller, treasury solana.PublicKey) error {
	if treasury.IsZero() {
		return errs.ErrInvalidTreasury.With("treasury cannot be empty")
	}
	return e.updateProgramConfig(ctx, "set_program_config_treasury", caller, func(c *transaction.ProgramConfig) map[string]string {
		c.Treasury = treasury
		return map[string]string{"treasury": treasury.String()}
	})
}
