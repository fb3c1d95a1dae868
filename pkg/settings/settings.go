// Package settings implements the account-wide consensus record of a smart
// account: its signers, threshold and time lock plus the bookkeeping fields
// that do not affect voting power.
package settings

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/gowebpki/jcs"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/authority"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/consensus"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/signers"
)

// Settings is the governing record of one smart account.
type Settings struct {
	Seed              authority.U128   `json:"seed"`
	SettingsAuthority solana.PublicKey `json:"settings_authority"`
	consensus.Core
	RentCollector      *solana.PublicKey `json:"rent_collector,omitempty"`
	ArchivalAuthority  *solana.PublicKey `json:"archival_authority,omitempty"`
	ArchivableAfter    uint64            `json:"archivable_after"`
	Bump               uint8             `json:"bump"`
	AccountUtilization uint8             `json:"account_utilization"`
	PolicySeed         uint64            `json:"policy_seed"`
}

func (*Settings) AccountName() string { return "Settings" }

// Kind implements consensus.Account.
func (*Settings) Kind() consensus.Kind { return consensus.KindSettings }

// IsControlled reports whether a settings authority can mutate the record
// directly, bypassing proposals.
func (s *Settings) IsControlled() bool {
	return !s.SettingsAuthority.IsZero()
}

// Invariant checks the consensus invariants of the record.
func (s *Settings) Invariant() error {
	return s.Core.Invariant()
}

// SetRentCollector changes where closed records refund their rent. Voting
// power is unaffected, so pending actions stay valid.
func (s *Settings) SetRentCollector(collector *solana.PublicKey) {
	s.RentCollector = collector
}

// SetArchivalAuthority changes the archival authority without invalidation.
func (s *Settings) SetArchivalAuthority(a *solana.PublicKey) {
	s.ArchivalAuthority = a
}

// NextPolicySeed reserves the seed for a new policy.
func (s *Settings) NextPolicySeed() (uint64, error) {
	if s.PolicySeed == math.MaxUint64 {
		return 0, errs.ErrOverflow.With("policy seed")
	}
	s.PolicySeed++
	return s.PolicySeed, nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	c := *s
	c.Core = s.Core.Clone()
	if s.RentCollector != nil {
		k := *s.RentCollector
		c.RentCollector = &k
	}
	if s.ArchivalAuthority != nil {
		k := *s.ArchivalAuthority
		c.ArchivalAuthority = &k
	}
	return &c
}

type stateView struct {
	Signers   signers.Set `json:"signers"`
	Threshold uint16      `json:"threshold"`
	TimeLock  uint32      `json:"time_lock"`
}

// StateHash digests the voting configuration: sha256 of the canonical JSON
// (RFC 8785) of signers, threshold and time lock.
func (s *Settings) StateHash() ([32]byte, error) {
	raw, err := json.Marshal(stateView{Signers: s.Signers, Threshold: s.Threshold, TimeLock: s.TimeLock})
	if err != nil {
		return [32]byte{}, fmt.Errorf("settings: state hash: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return [32]byte{}, fmt.Errorf("settings: state hash: %w", err)
	}
	return sha256.Sum256(canonical), nil
}
