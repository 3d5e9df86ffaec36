package rules

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetwatch/internal/clock"
	"budgetwatch/internal/notification"
	"budgetwatch/internal/reconcile"
	"budgetwatch/internal/snapshot"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(DefaultThresholds(), clock.NewFixed(testNow), nil)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return e
}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func find(list []notification.Notification, id string) (notification.Notification, bool) {
	for _, n := range list {
		if n.ID() == id {
			return n, true
		}
	}
	return notification.Notification{}, false
}

func TestBudgetGuard(t *testing.T) {
	e := newTestEvaluator(t)
	due := testNow.Add(24 * time.Hour)
	for _, budget := range []int64{0, -100} {
		got := e.Evaluate(snapshot.Snapshot{
			TotalBudget:  d(budget),
			TotalFixed:   d(500),
			TotalSavings: d(10),
			Expenses:     []snapshot.Expense{{Name: "rent", Amount: d(400), DueDate: &due}},
			Goals:        []snapshot.Goal{{Name: "trip", TargetAmount: d(100), CurrentAmount: d(100)}},
		})
		if len(got) != 1 {
			t.Fatalf("budget %d: expected a single notification, got %d", budget, len(got))
		}
		n := got[0]
		if n.Category != notification.CategoryBudget || n.Subkey != "budget_undefined" {
			t.Fatalf("unexpected guard notification %s", n.ID())
		}
		if n.Severity != notification.SeverityWarning || n.Priority != 1 {
			t.Fatalf("guard should be a priority-1 warning, got %s/%d", n.Severity, n.Priority)
		}
	}
}

func TestNeedsOverTargetWarns(t *testing.T) {
	e := newTestEvaluator(t)
	got := e.Evaluate(snapshot.Snapshot{
		TotalBudget:   d(1000),
		TotalFixed:    d(600),
		TotalVariable: d(100),
		RemainsBudget: d(300),
	})
	n, ok := find(got, "expenses_critical_needs")
	if !ok {
		t.Fatalf("expected critical needs notification, got %v", ids(got))
	}
	if n.Severity != notification.SeverityWarning {
		t.Fatalf("expected warning, got %s", n.Severity)
	}
	if !strings.Contains(n.Message, "70.0%") {
		t.Fatalf("message should cite 70.0%%: %q", n.Message)
	}
}

func TestSavingsOnTargetSucceeds(t *testing.T) {
	e := newTestEvaluator(t)
	got := e.Evaluate(snapshot.Snapshot{TotalBudget: d(1000), TotalSavings: d(300)})
	n, ok := find(got, "savings_good_savings")
	if !ok {
		t.Fatalf("expected good savings notification, got %v", ids(got))
	}
	if n.Severity != notification.SeveritySuccess || !strings.Contains(n.Message, "30.0%") {
		t.Fatalf("unexpected good savings notification %+v", n)
	}
}

func TestUpcomingDueDateSeverity(t *testing.T) {
	e := newTestEvaluator(t)
	in2 := testNow.Add(2 * day)
	in6 := testNow.Add(6 * day)
	in10 := testNow.Add(10 * day)
	past := testNow.Add(-1 * day)
	got := e.Evaluate(snapshot.Snapshot{
		TotalBudget: d(1000),
		Expenses: []snapshot.Expense{
			{Name: "Phone Bill", Amount: d(20), DueDate: &in2},
			{Name: "Insurance", Amount: d(80), DueDate: &in6},
			{Name: "Rent", Amount: d(500), DueDate: &in10},
			{Name: "Water", Amount: d(15), DueDate: &past},
			{Name: "Groceries", Amount: d(50)},
		},
	})

	phone, ok := find(got, "expenses_deadline_phone_bill")
	if !ok || phone.Severity != notification.SeverityWarning || phone.Priority != 2 {
		t.Fatalf("phone bill should raise a priority-2 warning, got %+v (%v)", phone, ok)
	}
	wantExpiry := time.Date(2025, 3, 13, 0, 0, 0, 0, time.UTC)
	if phone.ExpiresAt == nil || !phone.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("deadline expiry should be the day after the due date, got %v", phone.ExpiresAt)
	}

	insurance, ok := find(got, "expenses_deadline_insurance")
	if !ok || insurance.Severity != notification.SeverityInfo || insurance.Priority != 3 {
		t.Fatalf("insurance should raise a priority-3 info, got %+v (%v)", insurance, ok)
	}
	for _, id := range []string{"expenses_deadline_rent", "expenses_deadline_water", "expenses_deadline_groceries"} {
		if _, ok := find(got, id); ok {
			t.Fatalf("%s should not be emitted", id)
		}
	}
}

func TestGoalNearlyReached(t *testing.T) {
	e := newTestEvaluator(t)
	got := e.Evaluate(snapshot.Snapshot{
		TotalBudget: d(1000),
		Goals: []snapshot.Goal{{
			Name:          "New Laptop",
			TargetAmount:  d(1000),
			CurrentAmount: d(950),
			StartDate:     testNow.AddDate(0, -2, 0),
			TargetDate:    testNow.AddDate(0, 1, 0),
			Status:        snapshot.GoalActive,
		}},
	})
	n, ok := find(got, "savings_goal_almost_new_laptop")
	if !ok || n.Severity != notification.SeveritySuccess {
		t.Fatalf("expected goal almost success, got %v", ids(got))
	}
	if !strings.Contains(n.Message, "95.0%") {
		t.Fatalf("message should cite progress: %q", n.Message)
	}
}

func TestGoalBranches(t *testing.T) {
	e := newTestEvaluator(t)
	cases := []struct {
		name string
		goal snapshot.Goal
		want string
	}{
		{
			name: "achieved",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(120), StartDate: testNow.AddDate(0, -1, 0), TargetDate: testNow.AddDate(0, -1, 1)},
			want: "savings_goal_achieved_car",
		},
		{
			name: "missed",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(50), StartDate: testNow.AddDate(0, -3, 0), TargetDate: testNow.AddDate(0, 0, -1)},
			want: "savings_goal_missed_car",
		},
		{
			name: "behind",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(10), StartDate: testNow.AddDate(0, 0, -50), TargetDate: testNow.AddDate(0, 0, 50)},
			want: "savings_goal_behind_car",
		},
		{
			name: "on schedule",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(40), StartDate: testNow.AddDate(0, 0, -50), TargetDate: testNow.AddDate(0, 0, 50)},
			want: "",
		},
		{
			name: "zero duration",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(0), StartDate: testNow.AddDate(0, 0, 5), TargetDate: testNow.AddDate(0, 0, 5)},
			want: "",
		},
		{
			name: "cancelled",
			goal: snapshot.Goal{Name: "Car", TargetAmount: d(100), CurrentAmount: d(0), StartDate: testNow.AddDate(0, -3, 0), TargetDate: testNow.AddDate(0, 0, -1), Status: "Cancelled"},
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := e.Evaluate(snapshot.Snapshot{TotalBudget: d(1000), Goals: []snapshot.Goal{tc.goal}})
			var goals []string
			for _, n := range got {
				if strings.HasPrefix(n.Subkey, "goal_") {
					goals = append(goals, n.ID())
				}
			}
			if tc.want == "" {
				if len(goals) != 0 {
					t.Fatalf("expected no goal notification, got %v", goals)
				}
				return
			}
			if len(goals) != 1 || goals[0] != tc.want {
				t.Fatalf("expected [%s], got %v", tc.want, goals)
			}
		})
	}
}

func TestNeedsBoundaries(t *testing.T) {
	e := newTestEvaluator(t)
	cases := []struct {
		needs int64
		want  string
	}{
		{0, "no_needs"},
		{701, "critical_needs"},
		{500, "critical_needs"},
		{470, "critical_needs"},
		{451, "critical_needs"},
		{450, "good_needs"},
		{101, "good_needs"},
		{100, "low_needs"},
		{1, "low_needs"},
	}
	for _, tc := range cases {
		got := e.Evaluate(snapshot.Snapshot{TotalBudget: d(1000), TotalFixed: d(tc.needs)})
		var needs []string
		for _, n := range got {
			if strings.HasSuffix(n.Subkey, "_needs") {
				needs = append(needs, n.Subkey)
			}
		}
		if len(needs) != 1 || needs[0] != tc.want {
			t.Fatalf("needs %d: expected [%s], got %v", tc.needs, tc.want, needs)
		}
	}
}

func TestSameNamedItemsKeepDistinctIDs(t *testing.T) {
	e := newTestEvaluator(t)
	in1 := testNow.Add(day)
	in5 := testNow.Add(5 * day)
	got := reconcile.Fresh(e.Evaluate(snapshot.Snapshot{
		TotalBudget: d(1000),
		Expenses: []snapshot.Expense{
			{ID: "11", Name: "Rent", Amount: d(500), DueDate: &in1},
			{ID: "12", Name: "rent!", Amount: d(300), DueDate: &in5},
		},
		Goals: []snapshot.Goal{
			{ID: "3", Name: "Car", TargetAmount: d(100), CurrentAmount: d(100)},
			{ID: "4", Name: "car", TargetAmount: d(50), CurrentAmount: d(60)},
		},
	}), testNow)

	for _, id := range []string{
		"expenses_deadline_rent_11",
		"expenses_deadline_rent_12",
		"savings_goal_achieved_car_3",
		"savings_goal_achieved_car_4",
	} {
		if _, ok := find(got, id); !ok {
			t.Fatalf("expected %s to survive reconciliation, got %v", id, ids(got))
		}
	}

	first, _ := find(got, "expenses_deadline_rent_11")
	if first.Severity != notification.SeverityWarning {
		t.Fatalf("rent due tomorrow should warn, got %s", first.Severity)
	}
}

func TestPleasureAndDebtBoundaries(t *testing.T) {
	e := newTestEvaluator(t)
	cases := []struct {
		pleasure, debt, savings int64
		want                    []string
	}{
		{0, 0, 0, []string{"expenses_no_pleasure"}},
		{301, 0, 0, []string{"expenses_critical_pleasure"}},
		{300, 0, 0, []string{"expenses_high_pleasure"}},
		{180, 0, 0, []string{"expenses_good_pleasure"}},
		{100, 301, 400, []string{"debt_critical_debt"}},
		{100, 151, 0, []string{"debt_high_debt", "debt_debt_exceeds_savings"}},
		{100, 150, 100, []string{"debt_debt_exceeds_savings"}},
	}
	for _, tc := range cases {
		got := e.Evaluate(snapshot.Snapshot{
			TotalBudget:   d(1000),
			TotalPleasure: d(tc.pleasure),
			TotalDebt:     d(tc.debt),
			TotalSavings:  d(tc.savings),
		})
		for _, id := range tc.want {
			if _, ok := find(got, id); !ok {
				t.Fatalf("%+v: expected %s in %v", tc, id, ids(got))
			}
		}
	}
}

func TestDebtRatioQuietWithoutDebt(t *testing.T) {
	e := newTestEvaluator(t)
	for _, n := range e.Evaluate(snapshot.Snapshot{TotalBudget: d(1000)}) {
		if n.Category == notification.CategoryDebt {
			t.Fatalf("no debt should raise nothing, got %s", n.ID())
		}
	}
}

func TestRemainingBudget(t *testing.T) {
	early := clock.NewFixed(time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC))
	late := clock.NewFixed(time.Date(2025, 3, 28, 0, 0, 0, 0, time.UTC))
	cases := []struct {
		name    string
		clk     clock.Clock
		remains int64
		want    string
	}{
		{"exceeded", early, -10, "budget_budget_exceeded"},
		{"zero", late, 0, "budget_budget_exceeded"},
		{"almost", late, 90, "budget_budget_almost_exhausted"},
		{"low early", early, 150, "budget_budget_low_early"},
		{"on track", late, 600, "budget_budget_on_track"},
		{"quiet", early, 600, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewEvaluator(DefaultThresholds(), tc.clk, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := e.Evaluate(snapshot.Snapshot{TotalBudget: d(1000), RemainsBudget: d(tc.remains)})
			var found []string
			for _, n := range got {
				if n.Category == notification.CategoryBudget {
					found = append(found, n.ID())
				}
			}
			if tc.want == "" {
				if len(found) != 0 {
					t.Fatalf("expected no budget notification, got %v", found)
				}
				return
			}
			if len(found) != 1 || found[0] != tc.want {
				t.Fatalf("expected [%s], got %v", tc.want, found)
			}
		})
	}
}

func TestBudgetRuleGap(t *testing.T) {
	e := newTestEvaluator(t)
	s := snapshot.Snapshot{
		TotalBudget:   d(1000),
		TotalFixed:    d(700),
		TotalSavings:  d(50),
		TotalPleasure: d(250),
	}.WithRuleTargets(d(50), d(30), d(20))

	got := e.Evaluate(s)
	needs, ok := find(got, "budget_rule_needs_over")
	if !ok || needs.Severity != notification.SeverityWarning || needs.Priority != 2 {
		t.Fatalf("expected needs over warning, got %v", ids(got))
	}
	savings, ok := find(got, "budget_rule_savings_under")
	if !ok || savings.Severity != notification.SeverityWarning {
		t.Fatalf("expected savings under warning, got %v", ids(got))
	}
	if _, ok := find(got, "budget_rule_wants_over"); ok {
		t.Fatal("wants gap of 5 points must not be reported")
	}
}

func TestEvaluateInvariants(t *testing.T) {
	e := newTestEvaluator(t)
	due := testNow.Add(day)
	snaps := []snapshot.Snapshot{
		{},
		{TotalBudget: d(1000), TotalFixed: d(-5), Currency: ""},
		{TotalBudget: d(1000), TotalFixed: d(900), TotalDebt: d(500), TotalPleasure: d(400), RemainsBudget: d(-300)},
		{TotalBudget: d(3000), TotalSavings: d(2000), RemainsBudget: d(2500),
			Expenses: []snapshot.Expense{{Name: "", Amount: d(1), DueDate: &due}},
			Goals:    []snapshot.Goal{{Name: "?!", TargetAmount: d(10), CurrentAmount: d(3), StartDate: testNow.AddDate(0, -1, 0), TargetDate: testNow.AddDate(0, 1, 0)}}},
	}
	for i, s := range snaps {
		for _, n := range e.Evaluate(s) {
			if n.Priority < 1 || n.Priority > 5 {
				t.Fatalf("snapshot %d: priority out of range in %s", i, n.ID())
			}
			if !n.Category.Valid() {
				t.Fatalf("snapshot %d: invalid category %q", i, n.Category)
			}
			if !e.Declares(n.Category, n.Subkey) {
				t.Fatalf("snapshot %d: undeclared subkey %s", i, n.ID())
			}
			if n.ExpiresAt == nil || n.Nonce == "" || !n.Timestamp.Equal(testNow) {
				t.Fatalf("snapshot %d: notification not fully stamped: %+v", i, n)
			}
		}
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	e := newTestEvaluator(t)
	s := snapshot.Snapshot{TotalBudget: d(1000), TotalFixed: d(480), TotalSavings: d(90), TotalPleasure: d(150), RemainsBudget: d(100)}
	a, b := e.Evaluate(s), e.Evaluate(s)
	if len(a) != len(b) {
		t.Fatalf("length mismatch %d vs %d", len(a), len(b))
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID() != y.ID() || x.Severity != y.Severity || x.Priority != y.Priority || x.Message != y.Message {
			t.Fatalf("evaluation %d differs: %+v vs %+v", i, x, y)
		}
		if x.Nonce == y.Nonce {
			t.Fatal("nonce should differ between generations")
		}
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	noop := func(Input) []Alert { return nil }
	cases := [][]Rule{
		{
			{Name: "a", Category: notification.CategoryBudget, Subkeys: []string{"x"}, Eval: noop},
			{Name: "b", Category: notification.CategoryBudget, Subkeys: []string{"x"}, Eval: noop},
		},
		{
			{Name: "a", Category: notification.CategoryExpenses, Subkeys: []string{"deadline_"}, Eval: noop},
			{Name: "b", Category: notification.CategoryExpenses, Subkeys: []string{"deadline_rent"}, Eval: noop},
		},
	}
	for i, rules := range cases {
		if _, err := NewEvaluator(DefaultThresholds(), nil, rules); !errors.Is(err, ErrDuplicateSubkey) {
			t.Fatalf("case %d: expected ErrDuplicateSubkey, got %v", i, err)
		}
	}

	sameKeyOtherCategory := []Rule{
		{Name: "a", Category: notification.CategoryBudget, Subkeys: []string{"x"}, Eval: noop},
		{Name: "b", Category: notification.CategoryDebt, Subkeys: []string{"x"}, Eval: noop},
	}
	if _, err := NewEvaluator(DefaultThresholds(), nil, sameKeyOtherCategory); err != nil {
		t.Fatalf("same subkey in different categories is allowed: %v", err)
	}
}

func TestInvalidThresholds(t *testing.T) {
	th := DefaultThresholds()
	th.LowMultiplier = 0.95
	if _, err := NewEvaluator(th, nil, nil); !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
	th = DefaultThresholds()
	th.DeadlineWarningDays = 10
	if err := th.Validate(); err == nil {
		t.Fatal("warning window larger than deadline window should fail")
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Phone Bill":      "phone_bill",
		"  Car -- Loan  ": "car_loan",
		"Vacances d'été":  "vacances_d_été",
		"***":             "unnamed",
		"Rent 2025/Q1":    "rent_2025_q1",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Fatalf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func ids(list []notification.Notification) []string {
	out := make([]string, len(list))
	for i, n := range list {
		out[i] = n.ID()
	}
	return out
}
