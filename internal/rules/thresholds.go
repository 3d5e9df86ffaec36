package rules

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidThresholds wraps every threshold validation failure.
var ErrInvalidThresholds = errors.New("rules: invalid thresholds")

// Thresholds gathers every numeric boundary the rule battery compares
// against. Percentages are expressed in points (50 means 50%).
type Thresholds struct {
	NeedsTarget   float64 `mapstructure:"needs_target"`
	SavingsTarget float64 `mapstructure:"savings_target"`
	WantsTarget   float64 `mapstructure:"wants_target"`
	DebtTarget    float64 `mapstructure:"debt_target"`

	CriticalMultiplier         float64 `mapstructure:"critical_multiplier"`
	LowMultiplier              float64 `mapstructure:"low_multiplier"`
	PleasureCriticalMultiplier float64 `mapstructure:"pleasure_critical_multiplier"`

	GapPoints float64 `mapstructure:"gap_points"`

	RemainsCriticalPct float64 `mapstructure:"remains_critical_pct"`
	RemainsLowPct      float64 `mapstructure:"remains_low_pct"`
	RemainsHealthyPct  float64 `mapstructure:"remains_healthy_pct"`
	MonthLatePct       float64 `mapstructure:"month_late_pct"`

	DeadlineWindowDays  int `mapstructure:"deadline_window_days"`
	DeadlineWarningDays int `mapstructure:"deadline_warning_days"`

	GoalLagPoints float64 `mapstructure:"goal_lag_points"`
	GoalAlmostPct float64 `mapstructure:"goal_almost_pct"`
}

// DefaultThresholds returns the stock 50/30/20 configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NeedsTarget:                50,
		SavingsTarget:              30,
		WantsTarget:                20,
		DebtTarget:                 30,
		CriticalMultiplier:         0.9,
		LowMultiplier:              0.2,
		PleasureCriticalMultiplier: 1.5,
		GapPoints:                  10,
		RemainsCriticalPct:         10,
		RemainsLowPct:              20,
		RemainsHealthyPct:          50,
		MonthLatePct:               75,
		DeadlineWindowDays:         7,
		DeadlineWarningDays:        2,
		GoalLagPoints:              20,
		GoalAlmostPct:              90,
	}
}

// Validate rejects threshold sets under which the branch chains stop making sense.
func (t Thresholds) Validate() error {
	targets := map[string]float64{
		"needs_target":   t.NeedsTarget,
		"savings_target": t.SavingsTarget,
		"wants_target":   t.WantsTarget,
		"debt_target":    t.DebtTarget,
	}
	for name, v := range targets {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%w: %s must be within (0,100], got %v", ErrInvalidThresholds, name, v)
		}
	}
	if t.LowMultiplier <= 0 || t.LowMultiplier >= t.CriticalMultiplier {
		return fmt.Errorf("%w: low_multiplier must be positive and below critical_multiplier", ErrInvalidThresholds)
	}
	if t.CriticalMultiplier >= 1 {
		return fmt.Errorf("%w: critical_multiplier must be below 1", ErrInvalidThresholds)
	}
	if t.PleasureCriticalMultiplier <= t.CriticalMultiplier {
		return fmt.Errorf("%w: pleasure_critical_multiplier must exceed critical_multiplier", ErrInvalidThresholds)
	}
	if t.GapPoints < 0 || t.GoalLagPoints < 0 {
		return fmt.Errorf("%w: gap_points and goal_lag_points cannot be negative", ErrInvalidThresholds)
	}
	if !(0 < t.RemainsCriticalPct && t.RemainsCriticalPct <= t.RemainsLowPct && t.RemainsLowPct <= t.RemainsHealthyPct) {
		return fmt.Errorf("%w: remaining budget thresholds must satisfy 0 < critical <= low <= healthy", ErrInvalidThresholds)
	}
	if t.MonthLatePct <= 0 || t.MonthLatePct >= 100 {
		return fmt.Errorf("%w: month_late_pct must be within (0,100)", ErrInvalidThresholds)
	}
	if t.DeadlineWindowDays < 0 || t.DeadlineWarningDays < 0 || t.DeadlineWarningDays > t.DeadlineWindowDays {
		return fmt.Errorf("%w: deadline_warning_days must be within [0, deadline_window_days]", ErrInvalidThresholds)
	}
	if t.GoalAlmostPct <= 0 || t.GoalAlmostPct >= 100 {
		return fmt.Errorf("%w: goal_almost_pct must be within (0,100)", ErrInvalidThresholds)
	}
	return nil
}

func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func scaled(target, mult float64) decimal.Decimal {
	return decimal.NewFromFloat(target).Mul(decimal.NewFromFloat(mult))
}
