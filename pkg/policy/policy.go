// Package policy implements the scoped consensus records of a smart account.
// A policy has its own signers, threshold and time lock, and exactly one
// behavior: internal fund transfers between vaults, a spending limit, a
// constrained set of program interactions, or a narrow set of settings
// changes. Every use is checked by ValidatePayload before ExecutePayload
// performs its effect.
package policy

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/contracts"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/executor"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
)

// Kind names a policy behavior.
type Kind uint8

const (
	KindInternalFundTransfer Kind = iota + 1
	KindSpendingLimit
	KindProgramInteraction
	KindSettingsChange
)

func (k Kind) String() string {
	switch k {
	case KindInternalFundTransfer:
		return "internal_fund_transfer"
	case KindSpendingLimit:
		return "spending_limit"
	case KindProgramInteraction:
		return "program_interaction"
	case KindSettingsChange:
		return "settings_change"
	default:
		return "unknown"
	}
}

// Expiration ends a policy either at a timestamp or as soon as the voting
// configuration of its settings no longer hashes to SettingsState. Both
// unset means the policy never expires.
type Expiration struct {
	Timestamp     *int64    `json:"timestamp,omitempty"`
	SettingsState *[32]byte `json:"settings_state,omitempty"`
}

// State holds the behavior of a policy. Exactly one field is set.
type State struct {
	InternalFundTransfer *InternalFundTransfer `json:"internal_fund_transfer,omitempty"`
	SpendingLimit        *SpendingLimit        `json:"spending_limit,omitempty"`
	ProgramInteraction   *ProgramInteraction   `json:"program_interaction,omitempty"`
	SettingsChange       *SettingsChange       `json:"settings_change,omitempty"`
}

// Payload is one use of a policy. Exactly one field is set and it must match
// the policy kind.
type Payload struct {
	InternalFundTransfer *InternalFundTransferPayload `json:"internal_fund_transfer,omitempty"`
	SpendingLimit        *SpendingLimitPayload        `json:"spending_limit,omitempty"`
	ProgramInteraction   *ProgramInteractionPayload   `json:"program_interaction,omitempty"`
	SettingsChange       *SettingsChangePayload       `json:"settings_change,omitempty"`
}

type evaluator interface {
	validatePayload(env *Env, payload *Payload) error
	executePayload(ctx context.Context, env *Env, payload *Payload) error
	validate() error
}

// Kind reports which behavior s holds.
func (s *State) Kind() (Kind, error) {
	_, kind, err := s.evaluator()
	return kind, err
}

func (s *State) evaluator() (evaluator, Kind, error) {
	var (
		ev    evaluator
		kind  Kind
		count int
	)
	if s.InternalFundTransfer != nil {
		ev, kind = s.InternalFundTransfer, KindInternalFundTransfer
		count++
	}
	if s.SpendingLimit != nil {
		ev, kind = s.SpendingLimit, KindSpendingLimit
		count++
	}
	if s.ProgramInteraction != nil {
		ev, kind = s.ProgramInteraction, KindProgramInteraction
		count++
	}
	if s.SettingsChange != nil {
		ev, kind = s.SettingsChange, KindSettingsChange
		count++
	}
	if count != 1 {
		return nil, 0, errs.ErrInvalidPolicyPayload.With("policy must hold exactly one behavior, has %d", count)
	}
	return ev, kind, nil
}

// Clone returns a deep copy.
func (s State) Clone() State {
	var c State
	if s.InternalFundTransfer != nil {
		c.InternalFundTransfer = s.InternalFundTransfer.clone()
	}
	if s.SpendingLimit != nil {
		c.SpendingLimit = s.SpendingLimit.clone()
	}
	if s.ProgramInteraction != nil {
		c.ProgramInteraction = s.ProgramInteraction.clone()
	}
	if s.SettingsChange != nil {
		c.SettingsChange = s.SettingsChange.clone()
	}
	return c
}

// Kind reports which behavior the payload targets.
func (p *Payload) Kind() (Kind, error) {
	var (
		kind  Kind
		count int
	)
	if p.InternalFundTransfer != nil {
		kind = KindInternalFundTransfer
		count++
	}
	if p.SpendingLimit != nil {
		kind = KindSpendingLimit
		count++
	}
	if p.ProgramInteraction != nil {
		kind = KindProgramInteraction
		count++
	}
	if p.SettingsChange != nil {
		kind = KindSettingsChange
		count++
	}
	if count != 1 {
		return 0, errs.ErrInvalidPayload.With("payload must hold exactly one action, has %d", count)
	}
	return kind, nil
}

// Policy is the record of one policy.
type Policy struct {
	Settings solana.PublicKey `json:"settings"`
	Seed     uint64           `json:"seed"`
	Bump     uint8            `json:"bump"`
	consensus.Core
	State         State            `json:"policy_state"`
	Start         int64            `json:"start"`
	Expiration    Expiration       `json:"expiration"`
	RentCollector solana.PublicKey `json:"rent_collector"`
}

func (*Policy) AccountName() string { return "Policy" }

// Kind implements consensus.Account.
func (*Policy) Kind() consensus.Kind { return consensus.KindPolicy }

// Invariant checks the consensus invariants and the behavior configuration.
func (p *Policy) Invariant() error {
	if err := p.Core.Invariant(); err != nil {
		return err
	}
	ev, _, err := p.State.evaluator()
	if err != nil {
		return err
	}
	return ev.validate()
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	c := *p
	c.Core = p.Core.Clone()
	c.State = p.State.Clone()
	if p.Expiration.Timestamp != nil {
		v := *p.Expiration.Timestamp
		c.Expiration.Timestamp = &v
	}
	if p.Expiration.SettingsState != nil {
		v := *p.Expiration.SettingsState
		c.Expiration.SettingsState = &v
	}
	return &c
}

// IsActive fails with ErrPolicyNotActive before Start, at or after an
// expiration timestamp, or once the settings voting configuration has
// changed from the recorded state hash.
func (p *Policy) IsActive(now int64, s *settings.Settings) error {
	if now < p.Start {
		return errs.ErrPolicyNotActive.With("starts at %d, now %d", p.Start, now)
	}
	if ts := p.Expiration.Timestamp; ts != nil && now >= *ts {
		return errs.ErrPolicyNotActive.With("expired at %d", *ts)
	}
	if want := p.Expiration.SettingsState; want != nil {
		if s == nil {
			return errs.ErrPolicyNotActive.With("settings state unavailable")
		}
		got, err := s.StateHash()
		if err != nil {
			return err
		}
		if got != *want {
			return errs.ErrPolicyNotActive.With("settings changed since the policy was created")
		}
	}
	return nil
}

// Env carries what a payload needs to run: the governing settings, the
// accounts passed by the caller and the sub-call layer.
type Env struct {
	SettingsKey solana.PublicKey
	Settings    *settings.Settings
	PolicyKey   solana.PublicKey
	Deriver     authority.Deriver
	Invoker     executor.Invoker
	// Accounts are looked up by key. The caller marks which are writable.
	Accounts []*contracts.AccountInfo
	// Protected records may not be handed out writable.
	Protected []solana.PublicKey
	Now       int64

	core *consensus.Core
}

// Account returns the passed account with the given key.
func (e *Env) Account(key solana.PublicKey) (*contracts.AccountInfo, error) {
	for _, a := range e.Accounts {
		if a != nil && a.Key == key {
			return a, nil
		}
	}
	return nil, errs.ErrInvalidNumberOfAccounts.With("account %s was not passed", key)
}

// Vault derives the smart account at index under the governing settings.
func (e *Env) Vault(index uint8) (authority.Derived, error) {
	return e.Deriver.SmartAccount(e.SettingsKey, index)
}

func (e *Env) invoke(ctx context.Context, ix contracts.Instruction, signer authority.Derived) error {
	infos := make([]*contracts.AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		info, err := e.Account(meta.PublicKey)
		if err != nil {
			return err
		}
		infos[i] = info
	}
	return e.Invoker.Invoke(ctx, ix, infos, [][][]byte{signer.SignerSeeds()})
}

func (p *Policy) prepare(env *Env, payload *Payload) (evaluator, error) {
	ev, kind, err := p.State.evaluator()
	if err != nil {
		return nil, err
	}
	pk, err := payload.Kind()
	if err != nil {
		return nil, err
	}
	if pk != kind {
		return nil, errs.ErrInvalidPayload.With("%s payload for a %s policy", pk, kind)
	}
	if env.Settings == nil {
		return nil, errs.ErrSettingsMismatch.With("policy needs its settings")
	}
	if env.SettingsKey != p.Settings {
		return nil, errs.ErrSettingsMismatch.With("policy belongs to %s, not %s", p.Settings, env.SettingsKey)
	}
	env.core = &p.Core
	return ev, nil
}

// ValidatePayload checks payload against the policy without side effects.
func (p *Policy) ValidatePayload(env *Env, payload *Payload) error {
	ev, err := p.prepare(env, payload)
	if err != nil {
		return err
	}
	return ev.validatePayload(env, payload)
}

// Evaluate checks that the policy is active, validates payload and performs
// its effect. Behaviors with usage accounting update the policy state in
// place, so the caller must persist p afterwards.
func (p *Policy) Evaluate(ctx context.Context, env *Env, payload *Payload) error {
	if err := p.IsActive(env.Now, env.Settings); err != nil {
		return err
	}
	ev, err := p.prepare(env, payload)
	if err != nil {
		return err
	}
	if err := ev.validatePayload(env, payload); err != nil {
		return err
	}
	return ev.executePayload(ctx, env, payload)
}

// AccountKeys lists the accounts that evaluating payload reads or writes,
// so the caller can load them into an Env.
func (p *Policy) AccountKeys(d authority.Deriver, settingsKey solana.PublicKey, payload *Payload) ([]solana.PublicKey, error) {
	vault := func(i uint8) (solana.PublicKey, error) {
		v, err := d.SmartAccount(settingsKey, i)
		return v.Address, err
	}
	switch {
	case payload.InternalFundTransfer != nil:
		pl := payload.InternalFundTransfer
		src, err := vault(pl.SourceIndex)
		if err != nil {
			return nil, err
		}
		dst, err := vault(pl.DestinationIndex)
		if err != nil {
			return nil, err
		}
		return TransferKeys(src, dst, pl.Mint)
	case payload.SpendingLimit != nil && p.State.SpendingLimit != nil:
		src, err := vault(p.State.SpendingLimit.SourceAccountIndex)
		if err != nil {
			return nil, err
		}
		return TransferKeys(src, payload.SpendingLimit.Destination, p.State.SpendingLimit.Limit.Mint)
	case payload.ProgramInteraction != nil && p.State.ProgramInteraction != nil:
		v, err := vault(p.State.ProgramInteraction.AccountIndex)
		if err != nil {
			return nil, err
		}
		return append([]solana.PublicKey{v}, payload.ProgramInteraction.Message.AccountKeys...), nil
	default:
		return nil, nil
	}
}
