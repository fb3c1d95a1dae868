package budget

import (
	"math"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"github.com/Squads-Protocol/smart-account-program-sub000/pkg/errs"
)

// Limit is a periodic allowance for one mint. The zero mint stands for the
// native balance.
type Limit struct {
	Mint                 solana.PublicKey `json:"mint"`
	Start                int64            `json:"start"`
	Expiration           *int64           `json:"expiration,omitempty"`
	Period               Period           `json:"period"`
	AccumulateUnused     bool             `json:"accumulate_unused"`
	MaxPerPeriod         uint64           `json:"max_per_period"`
	MaxPerUse            *uint64          `json:"max_per_use,omitempty"`
	EnforceExactQuantity bool             `json:"enforce_exact_quantity"`
	RemainingInPeriod    uint64           `json:"remaining_in_period"`
	LastReset            int64            `json:"last_reset"`
}

// NewLimit returns a limit whose allowance starts full at start.
func NewLimit(mint solana.PublicKey, start int64, period Period, maxPerPeriod uint64) *Limit {
	return &Limit{
		Mint:              mint,
		Start:             start,
		Period:            period,
		MaxPerPeriod:      maxPerPeriod,
		RemainingInPeriod: maxPerPeriod,
		LastReset:         start,
	}
}

// Clone returns a deep copy.
func (l *Limit) Clone() *Limit {
	c := *l
	if l.Expiration != nil {
		v := *l.Expiration
		c.Expiration = &v
	}
	if l.MaxPerUse != nil {
		v := *l.MaxPerUse
		c.MaxPerUse = &v
	}
	return &c
}

// CheckActive fails when now is before Start or at/after Expiration.
func (l *Limit) CheckActive(now int64) error {
	if now < l.Start {
		return errs.ErrSpendingLimitNotStarted.With("start %d, now %d", l.Start, now)
	}
	if l.Expiration != nil && now >= *l.Expiration {
		return errs.ErrSpendingLimitExpired.With("expired at %d, now %d", *l.Expiration, now)
	}
	return nil
}

// ResetIfNeeded advances LastReset by whole elapsed periods. A limit that
// accumulates keeps unused allowance up to its lifetime cap; otherwise the
// allowance returns to MaxPerPeriod.
func (l *Limit) ResetIfNeeded(now int64) error {
	length, ok := l.Period.Length()
	if !ok {
		return nil
	}
	if now < l.LastReset {
		return nil
	}
	elapsed := now - l.LastReset
	if elapsed < length {
		return nil
	}
	passed := elapsed / length
	l.LastReset += passed * length

	if !l.AccumulateUnused {
		l.RemainingInPeriod = l.MaxPerPeriod
		return nil
	}
	hi, added := bits.Mul64(uint64(passed), l.MaxPerPeriod)
	if hi != 0 {
		added = math.MaxUint64
	}
	sum, carry := bits.Add64(l.RemainingInPeriod, added, 0)
	if carry != 0 {
		sum = math.MaxUint64
	}
	if ceiling, ok := l.accumulationCap(); ok && sum > ceiling {
		sum = ceiling
	}
	l.RemainingInPeriod = sum
	return nil
}

// accumulationCap is the allowance of every period between Start and
// Expiration, rounded up to whole periods and saturating.
func (l *Limit) accumulationCap() (uint64, bool) {
	length, ok := l.Period.Length()
	if !ok || l.Expiration == nil || *l.Expiration <= l.Start {
		return 0, false
	}
	span := *l.Expiration - l.Start
	periods := uint64(span / length)
	if span%length != 0 {
		periods++
	}
	hi, lo := bits.Mul64(periods, l.MaxPerPeriod)
	if hi != 0 {
		return math.MaxUint64, true
	}
	return lo, true
}

// CheckAmount validates a spend against the per-use rules and the remaining
// allowance. It does not mutate the limit.
func (l *Limit) CheckAmount(amount uint64) error {
	if amount == 0 {
		return errs.ErrInvalidAmount.With("amount must be positive")
	}
	if l.EnforceExactQuantity {
		want := l.MaxPerPeriod
		if l.MaxPerUse != nil {
			want = *l.MaxPerUse
		}
		if amount != want {
			return errs.ErrInvalidAmount.With("exact quantity %d required, got %d", want, amount)
		}
	}
	if l.MaxPerUse != nil && amount > *l.MaxPerUse {
		return errs.ErrSpendingLimitExceeded.With("amount %d exceeds max per use %d", amount, *l.MaxPerUse)
	}
	if amount > l.RemainingInPeriod {
		return errs.ErrSpendingLimitExceeded.With("amount %d exceeds remaining %d", amount, l.RemainingInPeriod)
	}
	return nil
}

// Decrement subtracts amount from the remaining allowance. Underflow means a
// caller skipped CheckAmount and is reported as an invariant violation.
func (l *Limit) Decrement(amount uint64) error {
	rem, borrow := bits.Sub64(l.RemainingInPeriod, amount, 0)
	if borrow != 0 {
		return errs.ErrInvariantViolated.With("limit decrement %d below zero (remaining %d)", amount, l.RemainingInPeriod)
	}
	l.RemainingInPeriod = rem
	return nil
}

// Use runs the full spend sequence: activity window, reset, check, decrement.
func (l *Limit) Use(now int64, amount uint64) error {
	if err := l.CheckActive(now); err != nil {
		return err
	}
	if err := l.ResetIfNeeded(now); err != nil {
		return err
	}
	if err := l.CheckAmount(amount); err != nil {
		return err
	}
	return l.Decrement(amount)
}

// Invariant reports whether the limit configuration and counters are sound.
func (l *Limit) Invariant() error {
	if l.MaxPerPeriod == 0 {
		return errs.ErrInvalidLimit.With("max per period must be positive")
	}
	if l.Period.Kind > Custom {
		return errs.ErrInvalidLimit.With("unknown period %d", l.Period.Kind)
	}
	if l.Period.Kind == Custom && l.Period.Seconds <= 0 {
		return errs.ErrInvalidLimit.With("custom period needs positive seconds")
	}
	if l.MaxPerUse != nil && *l.MaxPerUse > l.MaxPerPeriod {
		return errs.ErrInvalidLimit.With("max per use %d exceeds max per period %d", *l.MaxPerUse, l.MaxPerPeriod)
	}
	if l.MaxPerUse != nil && *l.MaxPerUse == 0 {
		return errs.ErrInvalidLimit.With("max per use must be positive when set")
	}
	if l.Expiration != nil && *l.Expiration <= l.Start {
		return errs.ErrInvalidLimit.With("expiration %d not after start %d", *l.Expiration, l.Start)
	}
	if l.AccumulateUnused {
		if l.Period.Kind == OneTime {
			return errs.ErrInvalidLimit.With("one-time limits cannot accumulate")
		}
		if l.Expiration == nil {
			return errs.ErrInvalidLimit.With("accumulating limits need an expiration")
		}
		ceiling, _ := l.accumulationCap()
		if l.RemainingInPeriod > ceiling {
			return errs.ErrInvalidLimit.With("remaining %d above lifetime cap %d", l.RemainingInPeriod, ceiling)
		}
	} else if l.RemainingInPeriod > l.MaxPerPeriod {
		return errs.ErrInvalidLimit.With("remaining %d above max per period %d", l.RemainingInPeriod, l.MaxPerPeriod)
	}
	if l.LastReset < l.Start {
		return errs.ErrInvalidLimit.With("last reset %d before start %d", l.LastReset, l.Start)
	}
	if l.Expiration != nil && l.LastReset > *l.Expiration {
		return errs.ErrInvalidLimit.With("last reset %d after expiration %d", l.LastReset, *l.Expiration)
	}
	return nil
}
