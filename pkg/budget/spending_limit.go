package budget

import (
	"bytes"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// SpendingLimit is a settings-level allowance that lets the listed signers
// move funds out of one vault without a proposal. It behaves like a Limit
// that never accumulates and has no per-use cap.
type SpendingLimit struct {
	Settings        solana.PublicKey   `json:"settings"`
	Seed            solana.PublicKey   `json:"seed"`
	AccountIndex    uint8              `json:"account_index"`
	Mint            solana.PublicKey   `json:"mint"`
	Amount          uint64             `json:"amount"`
	Period          Period             `json:"period"`
	RemainingAmount uint64             `json:"remaining_amount"`
	LastReset       int64              `json:"last_reset"`
	Bump            uint8              `json:"bump"`
	Signers         []solana.PublicKey `json:"signers"`
	Destinations    []solana.PublicKey `json:"destinations"`
	Expiration      int64              `json:"expiration"`
}

func (*SpendingLimit) AccountName() string { return "SpendingLimit" }

// NoExpiration marks a spending limit that never expires.
const NoExpiration int64 = 1<<63 - 1

// Receipt records one accepted use of a spending limit.
type Receipt struct {
	ID          string           `json:"id"`
	Limit       solana.PublicKey `json:"limit"`
	Signer      solana.PublicKey `json:"signer"`
	Destination solana.PublicKey `json:"destination"`
	Amount      uint64           `json:"amount"`
	Remaining   uint64           `json:"remaining"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Normalize sorts and deduplicates the signer list, which is searched by
// binary search afterwards.
func (s *SpendingLimit) Normalize() error {
	sort.Slice(s.Signers, func(i, j int) bool {
		return bytes.Compare(s.Signers[i][:], s.Signers[j][:]) < 0
	})
	for i := 1; i < len(s.Signers); i++ {
		if s.Signers[i] == s.Signers[i-1] {
			return errs.ErrDuplicateSigner.With("spending limit signer %s", s.Signers[i])
		}
	}
	return nil
}

// HasSigner reports whether key may use the limit.
func (s *SpendingLimit) HasSigner(key solana.PublicKey) bool {
	i := sort.Search(len(s.Signers), func(i int) bool {
		return bytes.Compare(s.Signers[i][:], key[:]) >= 0
	})
	return i < len(s.Signers) && s.Signers[i] == key
}

// AllowsDestination reports whether funds may go to dest. An empty list
// allows every destination.
func (s *SpendingLimit) AllowsDestination(dest solana.PublicKey) bool {
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

// AsLimit views the record as a generic Limit.
func (s *SpendingLimit) AsLimit() *Limit {
	l := &Limit{
		Mint:              s.Mint,
		Start:             s.LastReset,
		Period:            s.Period,
		MaxPerPeriod:      s.Amount,
		RemainingInPeriod: s.RemainingAmount,
		LastReset:         s.LastReset,
	}
	if s.Expiration != NoExpiration {
		exp := s.Expiration
		l.Expiration = &exp
	}
	return l
}

// Invariant checks the record configuration.
func (s *SpendingLimit) Invariant() error {
	if s.Amount == 0 {
		return errs.ErrInvalidLimit.With("spending limit amount must be positive")
	}
	if len(s.Signers) == 0 {
		return errs.ErrInvalidLimit.With("spending limit needs at least one signer")
	}
	if s.RemainingAmount > s.Amount {
		return errs.ErrInvalidLimit.With("remaining %d above amount %d", s.RemainingAmount, s.Amount)
	}
	for i := 1; i < len(s.Signers); i++ {
		if bytes.Compare(s.Signers[i-1][:], s.Signers[i][:]) >= 0 {
			return errs.ErrInvalidLimit.With("spending limit signers not sorted or duplicated")
		}
	}
	if s.Period.Kind == Custom && s.Period.Seconds <= 0 {
		return errs.ErrInvalidLimit.With("custom period needs positive seconds")
	}
	return nil
}

// Use authorizes signer to send amount to destination at now. key is the
// address the record is stored under and is copied into the receipt. On
// failure the record is left untouched.
func (s *SpendingLimit) Use(now time.Time, key, signer, destination solana.PublicKey, amount uint64) (*Receipt, error) {
	if !s.HasSigner(signer) {
		return nil, errs.ErrSpendingLimitSigner.With("%s", signer)
	}
	if !s.AllowsDestination(destination) {
		return nil, errs.ErrInvalidDestination.With("%s", destination)
	}
	if s.Expiration != NoExpiration && now.Unix() >= s.Expiration {
		return nil, errs.ErrSpendingLimitExpired.With("expired at %d", s.Expiration)
	}

	l := s.AsLimit()
	l.Start = 0
	l.Expiration = nil
	if err := l.ResetIfNeeded(now.Unix()); err != nil {
		return nil, err
	}
	if err := l.CheckAmount(amount); err != nil {
		return nil, err
	}
	if err := l.Decrement(amount); err != nil {
		return nil, err
	}
	s.RemainingAmount = l.RemainingInPeriod
	s.LastReset = l.LastReset

	return &Receipt{
		ID:          uuid.New().String(),
		Limit:       key,
		Signer:      signer,
		Destination: destination,
		Amount:      amount,
		Remaining:   s.RemainingAmount,
		Timestamp:   now.UTC(),
	}, nil
}
