// Package fees computes the platform's cut of an escrow. Pure functions,
// no I/O: the lifecycle service calls Compute inside its transactions and
// the preview endpoint calls it directly.
package fees

import (
	"errors"
	"math"
)

var (
	ErrInvalidGross     = errors.New("gross amount must be positive")
	ErrInvalidCompleted = errors.New("completed-task count must be non-negative")
)

// TaskBand applies its Percent when the doer's completed-task count is below
// BelowTasks. Bands must be sorted ascending by BelowTasks with
// non-increasing percents (veterans never pay more than newcomers).
type TaskBand struct {
	BelowTasks int
	Percent    float64
}

// ValueBand applies its Percent when the gross amount is at least
// MinGrossCents. Bands must be sorted ascending by MinGrossCents with
// non-increasing percents (larger transactions get the better rate).
type ValueBand struct {
	MinGrossCents int64
	Percent       float64
}

// Schedule is the banded rate table. The engine treats it as an opaque step
// function; thresholds are configuration, not policy the engine knows about.
type Schedule struct {
	TaskBands        []TaskBand
	FinalTaskPercent float64 // for counts past every task band
	ValueBands       []ValueBand
}

// DefaultSchedule mirrors the production rate card.
var DefaultSchedule = Schedule{
	TaskBands: []TaskBand{
		{BelowTasks: 12, Percent: 20},
		{BelowTasks: 50, Percent: 15},
		{BelowTasks: 150, Percent: 12},
	},
	FinalTaskPercent: 10,
	ValueBands: []ValueBand{
		{MinGrossCents: 20_000, Percent: 10},
		{MinGrossCents: 100_000, Percent: 8},
		{MinGrossCents: 500_000, Percent: 6},
	},
}

// Breakdown is the result of a fee computation.
// Invariant: PlatformFeeCents + NetPayoutCents == GrossCents.
type Breakdown struct {
	GrossCents       int64    `json:"gross_cents"`
	TaskTierPercent  float64  `json:"task_tier_percent"`
	ValueTierPercent *float64 `json:"value_tier_percent,omitempty"`
	AppliedPercent   float64  `json:"applied_percent"`
	PlatformFeeCents int64    `json:"platform_fee_cents"`
	NetPayoutCents   int64    `json:"net_payout_cents"`
}

// Compute maps (gross amount, doer completed-task count) to a fee breakdown.
// The applied rate is the lower of the task-tier and value-tier rates.
// The fee is rounded half-up; the net payout is always gross minus fee so the
// invariant holds regardless of rounding.
func (s Schedule) Compute(grossCents int64, doerCompletedTasks int) (Breakdown, error) {
	if grossCents <= 0 {
		return Breakdown{}, ErrInvalidGross
	}
	if doerCompletedTasks < 0 {
		return Breakdown{}, ErrInvalidCompleted
	}

	taskPct := s.taskPercent(doerCompletedTasks)
	valuePct := s.valuePercent(grossCents)

	applied := taskPct
	if valuePct != nil && *valuePct < applied {
		applied = *valuePct
	}

	fee := roundHalfUp(float64(grossCents) * applied / 100)
	return Breakdown{
		GrossCents:       grossCents,
		TaskTierPercent:  taskPct,
		ValueTierPercent: valuePct,
		AppliedPercent:   applied,
		PlatformFeeCents: fee,
		NetPayoutCents:   grossCents - fee,
	}, nil
}

// MaxPercent returns the schedule's highest task-tier rate. Used for the
// provisional fee on an escrow funded before a doer exists.
func (s Schedule) MaxPercent() float64 {
	if len(s.TaskBands) > 0 {
		return s.TaskBands[0].Percent
	}
	return s.FinalTaskPercent
}

func (s Schedule) taskPercent(completed int) float64 {
	for _, b := range s.TaskBands {
		if completed < b.BelowTasks {
			return b.Percent
		}
	}
	return s.FinalTaskPercent
}

func (s Schedule) valuePercent(gross int64) *float64 {
	var pct *float64
	for i := range s.ValueBands {
		if gross >= s.ValueBands[i].MinGrossCents {
			pct = &s.ValueBands[i].Percent
		}
	}
	return pct
}

// roundHalfUp rounds a non-negative value with .5 going up.
func roundHalfUp(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
