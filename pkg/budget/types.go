// Package budget provides periodic resource-limit accounting shared by
// spending-limit policies, legacy settings spending limits and balance
// constraints. Every check fails closed: an unknown period, an inactive limit
// or any arithmetic overflow denies the spend.
package budget

import (
	"fmt"
)

// PeriodKind selects how often a limit's allowance resets.
type PeriodKind uint8

const (
	// OneTime limits never reset.
	OneTime PeriodKind = iota
	Day
	Week
	// Month is a fixed thirty-day period, not a calendar month.
	Month
	// Custom periods carry their length in seconds.
	Custom
)

const (
	secondsPerDay   int64 = 24 * 60 * 60
	secondsPerWeek        = 7 * secondsPerDay
	secondsPerMonth       = 30 * secondsPerDay
)

// Period is a reset interval.
type Period struct {
	Kind    PeriodKind `json:"kind" yaml:"kind"`
	Seconds int64      `json:"seconds,omitempty" yaml:"seconds,omitempty"`
}

// Predefined periods.
var (
	PeriodOneTime = Period{Kind: OneTime}
	PeriodDay     = Period{Kind: Day}
	PeriodWeek    = Period{Kind: Week}
	PeriodMonth   = Period{Kind: Month}
)

// CustomPeriod returns a period of the given length in seconds.
func CustomPeriod(seconds int64) Period {
	return Period{Kind: Custom, Seconds: seconds}
}

// Length returns the period length in seconds. OneTime reports false.
func (p Period) Length() (int64, bool) {
	switch p.Kind {
	case Day:
		return secondsPerDay, true
	case Week:
		return secondsPerWeek, true
	case Month:
		return secondsPerMonth, true
	case Custom:
		if p.Seconds <= 0 {
			return 0, false
		}
		return p.Seconds, true
	default:
		return 0, false
	}
}

func (p Period) String() string {
	switch p.Kind {
	case OneTime:
		return "one_time"
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Custom:
		return fmt.Sprintf("custom(%ds)", p.Seconds)
	default:
		return fmt.Sprintf("unknown(%d)", p.Kind)
	}
}

// ParsePeriod maps a profile or CLI period name onto a Period.
func ParsePeriod(name string, seconds int64) (Period, error) {
	switch name {
	case "one_time", "onetime", "":
		return PeriodOneTime, nil
	case "day":
		return PeriodDay, nil
	case "week":
		return PeriodWeek, nil
	case "month":
		return PeriodMonth, nil
	case "custom":
		if seconds <= 0 {
			return Period{}, fmt.Errorf("budget: custom period needs positive seconds, got %d", seconds)
		}
		return CustomPeriod(seconds), nil
	default:
		return Period{}, fmt.Errorf("budget: unknown period %q", name)
	}
}
