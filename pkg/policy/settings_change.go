package policy

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// ChangeKind is a settings change a policy may authorize.
type ChangeKind uint8

const (
	ChangeAddSigner ChangeKind = iota + 1
	ChangeRemoveSigner
	ChangeThreshold
	ChangeTimeLock
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAddSigner:
		return "add_signer"
	case ChangeRemoveSigner:
		return "remove_signer"
	case ChangeThreshold:
		return "change_threshold"
	case ChangeTimeLock:
		return "set_time_lock"
	default:
		return "unknown"
	}
}

// AllowedChange declares one permitted change. Optional fields pin the
// change to a specific key, permission set or time lock.
type AllowedChange struct {
	Kind        ChangeKind           `json:"kind"`
	Key         *solana.PublicKey    `json:"key,omitempty"`
	Permissions *signers.Permissions `json:"permissions,omitempty"`
	TimeLock    *uint32              `json:"time_lock,omitempty"`
}

// SettingsAction is a settings change a policy can perform.
type SettingsAction struct {
	Kind      ChangeKind       `json:"kind"`
	Signer    signers.Signer   `json:"signer"`
	Key       solana.PublicKey `json:"key"`
	Threshold uint16           `json:"threshold"`
	TimeLock  uint32           `json:"time_lock"`
}

// SettingsChange lets the policy signers make the listed changes to the
// governing settings.
type SettingsChange struct {
	Allowed []AllowedChange `json:"allowed"`
}

// SettingsChangeRequest pairs an action with the allowed change it claims.
type SettingsChangeRequest struct {
	AllowedIndex uint8          `json:"allowed_index"`
	Action       SettingsAction `json:"action"`
}

// SettingsChangePayload is a list of changes applied in order.
type SettingsChangePayload struct {
	Changes []SettingsChangeRequest `json:"changes"`
}

func (s *SettingsChange) clone() *SettingsChange {
	c := &SettingsChange{Allowed: make([]AllowedChange, len(s.Allowed))}
	for i, a := range s.Allowed {
		a.Key = copyKey(a.Key)
		if a.Permissions != nil {
			p := *a.Permissions
			a.Permissions = &p
		}
		if a.TimeLock != nil {
			t := *a.TimeLock
			a.TimeLock = &t
		}
		c.Allowed[i] = a
	}
	return c
}

func (s *SettingsChange) validate() error {
	if len(s.Allowed) == 0 {
		return errs.ErrInvalidPolicyPayload.With("settings change policy allows nothing")
	}
	if len(s.Allowed) > 256 {
		return errs.ErrInvalidPolicyPayload.With("%d allowed changes", len(s.Allowed))
	}
	for i, a := range s.Allowed {
		if a.Kind < ChangeAddSigner || a.Kind > ChangeTimeLock {
			return errs.ErrInvalidPolicyPayload.With("allowed change %d has kind %d", i, a.Kind)
		}
		if a.Permissions != nil && !a.Permissions.Valid() {
			return errs.ErrUnknownPermission.With("allowed change %d", i)
		}
	}
	return nil
}

func (a AllowedChange) matches(act SettingsAction) bool {
	if a.Kind != act.Kind {
		return false
	}
	switch act.Kind {
	case ChangeAddSigner:
		if a.Key != nil && *a.Key != act.Signer.Key {
			return false
		}
		if a.Permissions != nil && *a.Permissions != act.Signer.Permissions {
			return false
		}
	case ChangeRemoveSigner:
		if a.Key != nil && *a.Key != act.Key {
			return false
		}
	case ChangeTimeLock:
		if a.TimeLock != nil && *a.TimeLock != act.TimeLock {
			return false
		}
	}
	return true
}

func (s *SettingsChange) validatePayload(_ *Env, payload *Payload) error {
	p := payload.SettingsChange
	if len(p.Changes) == 0 {
		return errs.ErrEmptyActions
	}
	for i, c := range p.Changes {
		if int(c.AllowedIndex) >= len(s.Allowed) {
			return errs.ErrSettingsChangeNotAllowed.With("change %d names allowed index %d", i, c.AllowedIndex)
		}
		if !s.Allowed[c.AllowedIndex].matches(c.Action) {
			return errs.ErrSettingsChangeNotAllowed.With("change %d (%s) does not match allowed change %d", i, c.Action.Kind, c.AllowedIndex)
		}
	}
	return nil
}

// executePayload applies the changes to env.Settings. Each one invalidates
// pending settings actions.
func (s *SettingsChange) executePayload(_ context.Context, env *Env, payload *Payload) error {
	core := &env.Settings.Core
	for _, c := range payload.SettingsChange.Changes {
		var err error
		switch c.Action.Kind {
		case ChangeAddSigner:
			err = core.AddSigner(c.Action.Signer)
		case ChangeRemoveSigner:
			err = core.RemoveSigner(c.Action.Key)
		case ChangeThreshold:
			err = core.SetThreshold(c.Action.Threshold)
		case ChangeTimeLock:
			err = core.SetTimeLock(c.Action.TimeLock)
		default:
			err = errs.ErrInvalidAction.With("kind %d", c.Action.Kind)
		}
		if err != nil {
			return err
		}
	}
	return env.Settings.Invariant()
}
