// Package snapshot models the aggregated financial state of one user that the
// rule evaluator reads.
package snapshot

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a snapshot carries no currency code.
const DefaultCurrency = "EUR"

// Goal status values.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalCancelled = "cancelled"
)

var hundred = decimal.NewFromInt(100)

// Expense is a single expense line. ID is the source row identifier and may
// be empty for hand-written snapshots.
type Expense struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	DueDate *time.Time      `json:"due_date,omitempty"`
}

// Goal is a savings target with a deadline.
type Goal struct {
	ID            string          `json:"id,omitempty"`
	Name          string          `json:"name"`
	TargetAmount  decimal.Decimal `json:"target_amount"`
	CurrentAmount decimal.Decimal `json:"current_amount"`
	StartDate     time.Time       `json:"start_date"`
	TargetDate    time.Time       `json:"target_date"`
	Status        string          `json:"status"`
}

// BudgetRule holds needs/savings/wants target percentages next to the
// actual percentages derived from the snapshot sums.
type BudgetRule struct {
	NeedsTarget   decimal.Decimal `json:"needs_target"`
	SavingsTarget decimal.Decimal `json:"savings_target"`
	WantsTarget   decimal.Decimal `json:"wants_target"`
	NeedsActual   decimal.Decimal `json:"needs_actual"`
	SavingsActual decimal.Decimal `json:"savings_actual"`
	WantsActual   decimal.Decimal `json:"wants_actual"`
}

// Snapshot is an immutable read of a user's totals at one point in time.
type Snapshot struct {
	UserID        string          `json:"user_id"`
	Currency      string          `json:"currency"`
	TotalBudget   decimal.Decimal `json:"total_budget"`
	TotalFixed    decimal.Decimal `json:"total_fixed"`
	TotalVariable decimal.Decimal `json:"total_variable"`
	TotalDebt     decimal.Decimal `json:"total_debt"`
	TotalSavings  decimal.Decimal `json:"total_savings"`
	TotalPleasure decimal.Decimal `json:"total_pleasure"`
	RemainsBudget decimal.Decimal `json:"remains_budget"`
	Expenses      []Expense       `json:"expenses,omitempty"`
	Goals         []Goal          `json:"goals,omitempty"`
	BudgetRule    *BudgetRule     `json:"budget_rule,omitempty"`
}

// Normalize returns a copy with negative sums clamped to zero and a default
// currency filled in. RemainsBudget may legitimately be negative and is kept.
func (s Snapshot) Normalize() Snapshot {
	out := s
	out.Currency = strings.ToUpper(strings.TrimSpace(out.Currency))
	if out.Currency == "" {
		out.Currency = DefaultCurrency
	}
	out.TotalFixed = nonNegative(out.TotalFixed)
	out.TotalVariable = nonNegative(out.TotalVariable)
	out.TotalDebt = nonNegative(out.TotalDebt)
	out.TotalSavings = nonNegative(out.TotalSavings)
	out.TotalPleasure = nonNegative(out.TotalPleasure)

	out.Expenses = make([]Expense, len(s.Expenses))
	for i, e := range s.Expenses {
		e.ID = strings.TrimSpace(e.ID)
		e.Amount = nonNegative(e.Amount)
		out.Expenses[i] = e
	}
	out.Goals = make([]Goal, len(s.Goals))
	for i, g := range s.Goals {
		g.ID = strings.TrimSpace(g.ID)
		g.TargetAmount = nonNegative(g.TargetAmount)
		g.CurrentAmount = nonNegative(g.CurrentAmount)
		g.Status = strings.ToLower(strings.TrimSpace(g.Status))
		out.Goals[i] = g
	}
	if s.BudgetRule != nil {
		rule := *s.BudgetRule
		out.BudgetRule = &rule
	}
	return out
}

// Needs is the essential spending total.
func (s Snapshot) Needs() decimal.Decimal {
	return s.TotalFixed.Add(s.TotalVariable)
}

// Percent returns part as a percentage of TotalBudget, or zero when the
// budget is not positive.
func (s Snapshot) Percent(part decimal.Decimal) decimal.Decimal {
	if !s.TotalBudget.IsPositive() {
		return decimal.Zero
	}
	return part.Div(s.TotalBudget).Mul(hundred)
}

// WithRuleTargets attaches a BudgetRule with the given targets and actual
// percentages derived from the sums. Savings include debt service.
func (s Snapshot) WithRuleTargets(needs, savings, wants decimal.Decimal) Snapshot {
	s.BudgetRule = &BudgetRule{
		NeedsTarget:   needs,
		SavingsTarget: savings,
		WantsTarget:   wants,
		NeedsActual:   s.Percent(s.Needs()),
		SavingsActual: s.Percent(s.TotalSavings.Add(s.TotalDebt)),
		WantsActual:   s.Percent(s.TotalPleasure),
	}
	return s
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
