package rules

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/notification"
	"budgetwatch/internal/snapshot"
)

const day = 24 * time.Hour

var (
	actionSettings = &notification.Action{Label: "Set up budget", Route: "/settings"}
	actionExpenses = &notification.Action{Label: "Review expenses", Route: "/expenses"}
	actionSavings  = &notification.Action{Label: "Add savings", Route: "/savings"}
	actionDebts    = &notification.Action{Label: "Review debts", Route: "/debts"}
	actionPleasure = &notification.Action{Label: "Review pleasures", Route: "/pleasures"}
	actionBudget   = &notification.Action{Label: "Open budget", Route: "/budget"}
	actionGoals    = &notification.Action{Label: "View goals", Route: "/goals"}
)

// DefaultRules returns the standard battery in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "budget_guard",
			Category: notification.CategoryBudget,
			Subkeys:  []string{"budget_undefined"},
			Guard:    true,
			Eval:     budgetUndefined,
		},
		{
			Name:     "needs_ratio",
			Category: notification.CategoryExpenses,
			Subkeys:  []string{"no_needs", "critical_needs", "low_needs", "good_needs"},
			Eval:     needsRatio,
		},
		{
			Name:     "savings_ratio",
			Category: notification.CategorySavings,
			Subkeys:  []string{"good_savings", "low_savings", "below_target_savings"},
			Eval:     savingsRatio,
		},
		{
			Name:     "debt_ratio",
			Category: notification.CategoryDebt,
			Subkeys:  []string{"critical_debt", "high_debt", "debt_exceeds_savings"},
			Eval:     debtRatio,
		},
		{
			Name:     "pleasure_ratio",
			Category: notification.CategoryExpenses,
			Subkeys:  []string{"no_pleasure", "critical_pleasure", "high_pleasure", "good_pleasure"},
			Eval:     pleasureRatio,
		},
		{
			Name:     "remaining_budget",
			Category: notification.CategoryBudget,
			Subkeys:  []string{"budget_exceeded", "budget_almost_exhausted", "budget_low_early", "budget_on_track"},
			Eval:     remainingBudget,
		},
		{
			Name:     "due_dates",
			Category: notification.CategoryExpenses,
			Subkeys:  []string{"deadline_"},
			Eval:     upcomingDeadlines,
		},
		{
			Name:     "goal_progress",
			Category: notification.CategorySavings,
			Subkeys:  []string{"goal_achieved_", "goal_missed_", "goal_almost_", "goal_behind_"},
			Eval:     goalProgress,
		},
		{
			Name:     "budget_rule_gap",
			Category: notification.CategoryBudget,
			Subkeys: []string{
				"rule_needs_over", "rule_needs_under",
				"rule_savings_over", "rule_savings_under",
				"rule_wants_over", "rule_wants_under",
			},
			Eval: budgetRuleGap,
		},
	}
}

func budgetUndefined(in Input) []Alert {
	return []Alert{{
		Subkey:   "budget_undefined",
		Severity: notification.SeverityWarning,
		Priority: 1,
		Title:    "Budget not defined",
		Message:  "Set a monthly budget to receive spending and savings advice.",
		Action:   actionSettings,
	}}
}

func needsRatio(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	if s.Needs().IsZero() {
		return []Alert{{
			Subkey: "no_needs", Severity: notification.SeverityInfo, Priority: 5,
			Title:   "No essential expenses",
			Message: "No fixed or variable expenses are recorded for this month yet.",
			Action:  actionExpenses,
		}}
	}

	ratio := s.Percent(s.Needs())
	target := pct(t.NeedsTarget)
	switch {
	case ratio.GreaterThan(scaled(t.NeedsTarget, t.CriticalMultiplier)):
		return []Alert{{
			Subkey: "critical_needs", Severity: notification.SeverityWarning, Priority: 1,
			Title:   "Essential expenses too high",
			Message: fmt.Sprintf("Essential expenses take %s of your budget, at or above the %s target.", percent(ratio), percent(target)),
			Action:  actionExpenses,
		}}
	case ratio.LessThanOrEqual(scaled(t.NeedsTarget, t.LowMultiplier)):
		return []Alert{{
			Subkey: "low_needs", Severity: notification.SeverityInfo, Priority: 4,
			Title:   "Essential expenses unusually low",
			Message: fmt.Sprintf("Essential expenses take only %s of your budget. Check that all bills are recorded.", percent(ratio)),
			Action:  actionExpenses,
		}}
	default:
		return []Alert{{
			Subkey: "good_needs", Severity: notification.SeveritySuccess, Priority: 5,
			Title:   "Essential expenses under control",
			Message: fmt.Sprintf("Essential expenses take %s of your budget, within the %s target.", percent(ratio), percent(target)),
		}}
	}
}

func savingsRatio(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	ratio := s.Percent(s.TotalSavings)
	target := pct(t.SavingsTarget)
	switch {
	case ratio.GreaterThanOrEqual(target):
		return []Alert{{
			Subkey: "good_savings", Severity: notification.SeveritySuccess, Priority: 5,
			Title:   "Savings on target",
			Message: fmt.Sprintf("You are saving %s of your budget. Keep it up.", percent(ratio)),
		}}
	case ratio.LessThan(scaled(t.SavingsTarget, t.LowMultiplier)):
		return []Alert{{
			Subkey: "low_savings", Severity: notification.SeverityWarning, Priority: 2,
			Title:   "Savings far below target",
			Message: fmt.Sprintf("You are saving %s of your budget against a %s target.", percent(ratio), percent(target)),
			Action:  actionSavings,
		}}
	default:
		return []Alert{{
			Subkey: "below_target_savings", Severity: notification.SeverityInfo, Priority: 4,
			Title:   "Savings below target",
			Message: fmt.Sprintf("You are saving %s of your budget. The target is %s.", percent(ratio), percent(target)),
			Action:  actionSavings,
		}}
	}
}

func debtRatio(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	if !s.TotalDebt.IsPositive() {
		return nil
	}

	var out []Alert
	ratio := s.Percent(s.TotalDebt)
	target := pct(t.DebtTarget)
	switch {
	case ratio.GreaterThan(target):
		out = append(out, Alert{
			Subkey: "critical_debt", Severity: notification.SeverityCritical, Priority: 1,
			Title:   "Debt load critical",
			Message: fmt.Sprintf("Debt repayments take %s of your budget, above the %s limit.", percent(ratio), percent(target)),
			Action:  actionDebts,
		})
	case ratio.GreaterThan(target.Div(decimal.NewFromInt(2))):
		out = append(out, Alert{
			Subkey: "high_debt", Severity: notification.SeverityWarning, Priority: 2,
			Title:   "Debt load high",
			Message: fmt.Sprintf("Debt repayments take %s of your budget.", percent(ratio)),
			Action:  actionDebts,
		})
	}

	if s.TotalSavings.LessThan(s.TotalDebt) {
		out = append(out, Alert{
			Subkey: "debt_exceeds_savings", Severity: notification.SeverityInfo, Priority: 3,
			Title: "Debt exceeds savings",
			Message: fmt.Sprintf("Your debt (%s) is larger than your savings (%s).",
				money(s.TotalDebt, s.Currency), money(s.TotalSavings, s.Currency)),
			Action: actionDebts,
		})
	}
	return out
}

func pleasureRatio(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	if s.TotalPleasure.IsZero() {
		return []Alert{{
			Subkey: "no_pleasure", Severity: notification.SeverityInfo, Priority: 5,
			Title:   "No leisure spending",
			Message: "You have not spent anything on leisure this month. A small treat is part of a healthy budget.",
		}}
	}

	ratio := s.Percent(s.TotalPleasure)
	target := pct(t.WantsTarget)
	switch {
	case ratio.GreaterThan(scaled(t.WantsTarget, t.PleasureCriticalMultiplier)):
		return []Alert{{
			Subkey: "critical_pleasure", Severity: notification.SeverityCritical, Priority: 1,
			Title:   "Leisure spending far over limit",
			Message: fmt.Sprintf("Leisure spending takes %s of your budget against a %s target.", percent(ratio), percent(target)),
			Action:  actionPleasure,
		}}
	case ratio.GreaterThan(scaled(t.WantsTarget, t.CriticalMultiplier)):
		return []Alert{{
			Subkey: "high_pleasure", Severity: notification.SeverityWarning, Priority: 2,
			Title:   "Leisure spending close to limit",
			Message: fmt.Sprintf("Leisure spending takes %s of your budget, close to the %s target.", percent(ratio), percent(target)),
			Action:  actionPleasure,
		}}
	default:
		return []Alert{{
			Subkey: "good_pleasure", Severity: notification.SeveritySuccess, Priority: 5,
			Title:   "Leisure spending balanced",
			Message: fmt.Sprintf("Leisure spending takes %s of your budget.", percent(ratio)),
		}}
	}
}

func remainingBudget(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	ratio := s.Percent(s.RemainsBudget)
	elapsed := monthElapsed(in.Now)

	switch {
	case !ratio.IsPositive():
		return []Alert{{
			Subkey: "budget_exceeded", Severity: notification.SeverityCritical, Priority: 1,
			Title:   "Budget exceeded",
			Message: fmt.Sprintf("You have spent your whole budget. Remaining: %s.", money(s.RemainsBudget, s.Currency)),
			Action:  actionBudget,
		}}
	case ratio.LessThan(pct(t.RemainsCriticalPct)):
		return []Alert{{
			Subkey: "budget_almost_exhausted", Severity: notification.SeverityCritical, Priority: 1,
			Title:   "Budget almost exhausted",
			Message: fmt.Sprintf("Only %s of your budget is left (%s).", percent(ratio), money(s.RemainsBudget, s.Currency)),
			Action:  actionBudget,
		}}
	case ratio.LessThan(pct(t.RemainsLowPct)) && elapsed.LessThan(pct(t.MonthLatePct)):
		return []Alert{{
			Subkey: "budget_low_early", Severity: notification.SeverityWarning, Priority: 2,
			Title:   "Budget running low early",
			Message: fmt.Sprintf("%s of your budget is left with %s of the month elapsed.", percent(ratio), percent(elapsed)),
			Action:  actionBudget,
		}}
	case ratio.GreaterThan(pct(t.RemainsHealthyPct)) && elapsed.GreaterThan(pct(t.MonthLatePct)):
		return []Alert{{
			Subkey: "budget_on_track", Severity: notification.SeveritySuccess, Priority: 5,
			Title:   "Budget on track",
			Message: fmt.Sprintf("%s of your budget is still available near the end of the month.", percent(ratio)),
		}}
	}
	return nil
}

func upcomingDeadlines(in Input) []Alert {
	s, t := in.Snapshot, in.Thresholds
	var out []Alert
	for _, e := range s.Expenses {
		if e.DueDate == nil {
			continue
		}
		days := dayDiff(in.Now, *e.DueDate)
		if days < 0 || days > t.DeadlineWindowDays {
			continue
		}

		sev, prio := notification.SeverityInfo, 3
		if days <= t.DeadlineWarningDays {
			sev, prio = notification.SeverityWarning, 2
		}
		expires := startOfDay(*e.DueDate).Add(day)
		out = append(out, Alert{
			Subkey:    "deadline_" + itemKey(e.Name, e.ID),
			Severity:  sev,
			Priority:  prio,
			Title:     "Upcoming payment",
			Message:   fmt.Sprintf("%s (%s) is due %s.", e.Name, money(e.Amount, s.Currency), dueIn(days)),
			Action:    actionExpenses,
			ExpiresAt: &expires,
		})
	}
	return out
}

func goalProgress(in Input) []Alert {
	t := in.Thresholds
	var out []Alert
	for _, g := range in.Snapshot.Goals {
		if g.Status == snapshot.GoalCancelled || !g.TargetAmount.IsPositive() {
			continue
		}
		key := itemKey(g.Name, g.ID)
		progress := g.CurrentAmount.Div(g.TargetAmount).Mul(decimal.NewFromInt(100))

		switch {
		case progress.GreaterThanOrEqual(decimal.NewFromInt(100)):
			out = append(out, Alert{
				Subkey: "goal_achieved_" + key, Severity: notification.SeveritySuccess, Priority: 4,
				Title:   "Goal achieved",
				Message: fmt.Sprintf("You reached your goal %q.", g.Name),
				Action:  actionGoals,
			})
		case in.Now.After(g.TargetDate) && !g.TargetDate.IsZero():
			out = append(out, Alert{
				Subkey: "goal_missed_" + key, Severity: notification.SeverityCritical, Priority: 1,
				Title:   "Goal deadline passed",
				Message: fmt.Sprintf("The deadline for %q has passed at %s progress.", g.Name, percent(progress)),
				Action:  actionGoals,
			})
		case progress.GreaterThanOrEqual(pct(t.GoalAlmostPct)):
			out = append(out, Alert{
				Subkey: "goal_almost_" + key, Severity: notification.SeveritySuccess, Priority: 3,
				Title:   "Goal almost achieved",
				Message: fmt.Sprintf("Your goal %q is at %s.", g.Name, percent(progress)),
				Action:  actionGoals,
			})
		case progress.LessThan(goalTimeElapsed(g, in.Now).Sub(pct(t.GoalLagPoints))):
			out = append(out, Alert{
				Subkey: "goal_behind_" + key, Severity: notification.SeverityWarning, Priority: 2,
				Title: "Goal behind schedule",
				Message: fmt.Sprintf("Your goal %q is at %s while %s of its time has passed.",
					g.Name, percent(progress), percent(goalTimeElapsed(g, in.Now))),
				Action: actionGoals,
			})
		}
	}
	return out
}

func budgetRuleGap(in Input) []Alert {
	rule := in.Snapshot.BudgetRule
	if rule == nil {
		return nil
	}
	gap := pct(in.Thresholds.GapPoints)

	type bucket struct {
		name           string
		label          string
		actual, target decimal.Decimal
		over, under    notification.Severity
		overP, underP  int
	}
	buckets := []bucket{
		{"needs", "Needs", rule.NeedsActual, rule.NeedsTarget, notification.SeverityWarning, notification.SeverityInfo, 2, 4},
		{"savings", "Savings", rule.SavingsActual, rule.SavingsTarget, notification.SeveritySuccess, notification.SeverityWarning, 4, 2},
		{"wants", "Wants", rule.WantsActual, rule.WantsTarget, notification.SeverityWarning, notification.SeverityInfo, 3, 4},
	}

	var out []Alert
	for _, b := range buckets {
		diff := b.actual.Sub(b.target)
		if diff.Abs().LessThanOrEqual(gap) {
			continue
		}
		a := Alert{Action: actionBudget}
		if diff.IsPositive() {
			a.Subkey = "rule_" + b.name + "_over"
			a.Severity, a.Priority = b.over, b.overP
			a.Title = b.label + " above plan"
		} else {
			a.Subkey = "rule_" + b.name + "_under"
			a.Severity, a.Priority = b.under, b.underP
			a.Title = b.label + " below plan"
		}
		a.Message = fmt.Sprintf("%s are at %s against a planned %s.", b.label, percent(b.actual), percent(b.target))
		out = append(out, a)
	}
	return out
}

func percent(d decimal.Decimal) string {
	return d.StringFixed(1) + "%"
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func dueIn(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// dayDiff counts calendar days from from to to in UTC.
func dayDiff(from, to time.Time) int {
	return int(math.Round(startOfDay(to).Sub(startOfDay(from)).Hours() / 24))
}

func monthElapsed(now time.Time) decimal.Decimal {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	length := start.AddDate(0, 1, 0).Sub(start)
	return ratioOf(now.Sub(start), length)
}

// goalTimeElapsed is the share of the goal's duration already spent, in
// [0,100]. Goals with no positive duration report 0 and so are never behind.
func goalTimeElapsed(g snapshot.Goal, now time.Time) decimal.Decimal {
	total := g.TargetDate.Sub(g.StartDate)
	if total <= 0 {
		return decimal.Zero
	}
	elapsed := now.Sub(g.StartDate)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	return ratioOf(elapsed, total)
}

func ratioOf(part, whole time.Duration) decimal.Decimal {
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(whole))).Mul(decimal.NewFromInt(100))
}

// itemKey identifies one expense or goal inside a subkey. The source ID keeps
// items whose names slug alike apart; without one the slug alone is used.
func itemKey(name, id string) string {
	if id == "" {
		return slug(name)
	}
	return slug(name) + "_" + slug(id)
}

func slug(name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.TrimSuffix(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}
