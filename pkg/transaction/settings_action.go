package transaction

import (
	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/budget"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/policy"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/settings"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// ActionKind names a settings action.
type ActionKind uint8

const (
	ActionAddSigner ActionKind = iota + 1
	ActionRemoveSigner
	ActionChangeThreshold
	ActionSetTimeLock
	ActionSetRentCollector
	ActionSetArchivalAuthority
	ActionAddSpendingLimit
	ActionRemoveSpendingLimit
	ActionPolicyCreate
	ActionPolicyUpdate
	ActionPolicyRemove
)

var actionNames = map[ActionKind]string{
	ActionAddSigner:            "add_signer",
	ActionRemoveSigner:         "remove_signer",
	ActionChangeThreshold:      "change_threshold",
	ActionSetTimeLock:          "set_time_lock",
	ActionSetRentCollector:     "set_rent_collector",
	ActionSetArchivalAuthority: "set_archival_authority",
	ActionAddSpendingLimit:     "add_spending_limit",
	ActionRemoveSpendingLimit:  "remove_spending_limit",
	ActionPolicyCreate:         "policy_create",
	ActionPolicyUpdate:         "policy_update",
	ActionPolicyRemove:         "policy_remove",
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return "unknown"
}

// AddSpendingLimit creates a settings-level spending limit.
type AddSpendingLimit struct {
	Seed         solana.PublicKey   `json:"seed"`
	AccountIndex uint8              `json:"account_index"`
	Mint         solana.PublicKey   `json:"mint"`
	Amount       uint64             `json:"amount"`
	Period       budget.Period      `json:"period"`
	Signers      []solana.PublicKey `json:"signers"`
	Destinations []solana.PublicKey `json:"destinations"`
	// Expiration is a unix timestamp; zero means never.
	Expiration int64 `json:"expiration"`
}

// PolicyCreate creates a policy under the next policy seed of the settings.
type PolicyCreate struct {
	Signers    signers.Set       `json:"signers"`
	Threshold  uint16            `json:"threshold"`
	TimeLock   uint32            `json:"time_lock"`
	State      policy.State      `json:"policy_state"`
	Start      int64             `json:"start"`
	Expiration policy.Expiration `json:"expiration"`
	// RentCollector receives the rent when the policy is removed; zero means
	// the settings rent collector or the payer.
	RentCollector solana.PublicKey `json:"rent_collector"`
}

// PolicyUpdate replaces the consensus and behavior of an existing policy.
// The policy's pending transactions become stale.
type PolicyUpdate struct {
	Policy     solana.PublicKey  `json:"policy"`
	Signers    signers.Set       `json:"signers"`
	Threshold  uint16            `json:"threshold"`
	TimeLock   uint32            `json:"time_lock"`
	State      policy.State      `json:"policy_state"`
	Expiration policy.Expiration `json:"expiration"`
}

// SettingsAction is one governance change. Exactly one field is set.
type SettingsAction struct {
	AddSigner            *signers.Signer   `json:"add_signer,omitempty"`
	RemoveSigner         *solana.PublicKey `json:"remove_signer,omitempty"`
	ChangeThreshold      *uint16           `json:"change_threshold,omitempty"`
	SetTimeLock          *uint32           `json:"set_time_lock,omitempty"`
	SetRentCollector     *RentCollector    `json:"set_rent_collector,omitempty"`
	SetArchivalAuthority *RentCollector    `json:"set_archival_authority,omitempty"`
	AddSpendingLimit     *AddSpendingLimit `json:"add_spending_limit,omitempty"`
	RemoveSpendingLimit  *solana.PublicKey `json:"remove_spending_limit,omitempty"`
	PolicyCreate         *PolicyCreate     `json:"policy_create,omitempty"`
	PolicyUpdate         *PolicyUpdate     `json:"policy_update,omitempty"`
	PolicyRemove         *solana.PublicKey `json:"policy_remove,omitempty"`
}

// RentCollector is an optional key. A nil Key clears the field.
type RentCollector struct {
	Key *solana.PublicKey `json:"key,omitempty"`
}

// Kind reports which action a holds.
func (a *SettingsAction) Kind() (ActionKind, error) {
	set := []struct {
		on   bool
		kind ActionKind
	}{
		{a.AddSigner != nil, ActionAddSigner},
		{a.RemoveSigner != nil, ActionRemoveSigner},
		{a.ChangeThreshold != nil, ActionChangeThreshold},
		{a.SetTimeLock != nil, ActionSetTimeLock},
		{a.SetRentCollector != nil, ActionSetRentCollector},
		{a.SetArchivalAuthority != nil, ActionSetArchivalAuthority},
		{a.AddSpendingLimit != nil, ActionAddSpendingLimit},
		{a.RemoveSpendingLimit != nil, ActionRemoveSpendingLimit},
		{a.PolicyCreate != nil, ActionPolicyCreate},
		{a.PolicyUpdate != nil, ActionPolicyUpdate},
		{a.PolicyRemove != nil, ActionPolicyRemove},
	}
	var (
		kind  ActionKind
		count int
	)
	for _, s := range set {
		if s.on {
			kind = s.kind
			count++
		}
	}
	if count != 1 {
		return 0, errs.ErrInvalidAction.With("action must hold exactly one change, has %d", count)
	}
	return kind, nil
}

// Invalidates reports whether the action changes voting power, which makes
// every pending action of the settings stale.
func (k ActionKind) Invalidates() bool {
	switch k {
	case ActionAddSigner, ActionRemoveSigner, ActionChangeThreshold, ActionSetTimeLock:
		return true
	default:
		return false
	}
}

// ApplyToSettings performs actions that only touch the settings record. It
// reports false for actions that create or remove other records, which the
// caller must handle. The caller checks s.Invariant after the last action.
func (a *SettingsAction) ApplyToSettings(s *settings.Settings) (bool, error) {
	switch {
	case a.AddSigner != nil:
		return true, s.AddSigner(*a.AddSigner)
	case a.RemoveSigner != nil:
		return true, s.RemoveSigner(*a.RemoveSigner)
	case a.ChangeThreshold != nil:
		return true, s.SetThreshold(*a.ChangeThreshold)
	case a.SetTimeLock != nil:
		return true, s.SetTimeLock(*a.SetTimeLock)
	case a.SetRentCollector != nil:
		s.SetRentCollector(a.SetRentCollector.Key)
		return true, nil
	case a.SetArchivalAuthority != nil:
		s.SetArchivalAuthority(a.SetArchivalAuthority.Key)
		return true, nil
	default:
		return false, nil
	}
}

// NewPolicy builds the record described by a PolicyCreate.
func (c *PolicyCreate) NewPolicy(settingsKey solana.PublicKey, seed uint64, bump uint8, rentCollector solana.PublicKey) *policy.Policy {
	if !c.RentCollector.IsZero() {
		rentCollector = c.RentCollector
	}
	return &policy.Policy{
		Settings: settingsKey,
		Seed:     seed,
		Bump:     bump,
		Core: consensus.Core{
			Signers:   signers.NewSet(c.Signers...),
			Threshold: c.Threshold,
			TimeLock:  c.TimeLock,
		},
		State:         c.State.Clone(),
		Start:         c.Start,
		Expiration:    c.Expiration,
		RentCollector: rentCollector,
	}
}

// Apply replaces the consensus and behavior of p and invalidates its
// pending transactions.
func (u *PolicyUpdate) Apply(p *policy.Policy) {
	p.Signers = signers.NewSet(u.Signers...)
	p.Threshold = u.Threshold
	p.TimeLock = u.TimeLock
	p.State = u.State.Clone()
	p.Expiration = u.Expiration
	p.InvalidatePriorTransactions()
}

// NewSpendingLimit builds the record described by an AddSpendingLimit.
func (a *AddSpendingLimit) NewSpendingLimit(settingsKey solana.PublicKey, bump uint8, now int64) (*budget.SpendingLimit, error) {
	exp := a.Expiration
	if exp == 0 {
		exp = budget.NoExpiration
	}
	sl := &budget.SpendingLimit{
		Settings:        settingsKey,
		Seed:            a.Seed,
		AccountIndex:    a.AccountIndex,
		Mint:            a.Mint,
		Amount:          a.Amount,
		Period:          a.Period,
		RemainingAmount: a.Amount,
		LastReset:       now,
		Bump:            bump,
		Signers:         append([]solana.PublicKey(nil), a.Signers...),
		Destinations:    append([]solana.PublicKey(nil), a.Destinations...),
		Expiration:      exp,
	}
	if err := sl.Normalize(); err != nil {
		return nil, err
	}
	if err := sl.Invariant(); err != nil {
		return nil, err
	}
	return sl, nil
}

// SettingsTransaction is a list of governance changes awaiting a vote.
type SettingsTransaction struct {
	Settings      solana.PublicKey `json:"settings"`
	Creator       solana.PublicKey `json:"creator"`
	RentCollector solana.PublicKey `json:"rent_collector"`
	Index         uint64           `json:"index"`
	Bump          uint8            `json:"bump"`
	Actions       []SettingsAction `json:"actions"`
}

func (*SettingsTransaction) AccountName() string { return "SettingsTransaction" }

// Validate checks that there is at least one well-formed action.
func (t *SettingsTransaction) Validate() error {
	return ValidateActions(t.Actions)
}

// ValidateActions checks every action holds exactly one change.
func ValidateActions(actions []SettingsAction) error {
	if len(actions) == 0 {
		return errs.ErrEmptyActions
	}
	for i := range actions {
		if _, err := actions[i].Kind(); err != nil {
			return errs.ErrInvalidAction.Wrap(err).With("action %d", i)
		}
	}
	return nil
}
