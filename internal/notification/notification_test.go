package notification

import (
	"testing"
	"time"
)

func TestSeverityRankOrder(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityWarning, SeverityInfo, SeveritySuccess}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank before %s", order[i-1], order[i])
		}
	}
	if Severity("bogus").Valid() {
		t.Fatal("unknown severity should be invalid")
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" Warning ")
	if err != nil || sev != SeverityWarning {
		t.Fatalf("expected warning, got %q (%v)", sev, err)
	}
	if _, err := ParseSeverity("loud"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityWarning) {
		t.Fatal("critical is at least warning")
	}
	if SeverityInfo.AtLeast(SeverityWarning) {
		t.Fatal("info is below warning")
	}
}

func TestIDAndExpiry(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	n := Notification{Category: CategoryExpenses, Subkey: "critical_needs"}
	if n.ID() != "expenses_critical_needs" {
		t.Fatalf("unexpected id %q", n.ID())
	}
	if n.Expired(now) {
		t.Fatal("nil expiry never expires")
	}
	at := now
	n.ExpiresAt = &at
	if !n.Expired(now) {
		t.Fatal("expiry equal to now counts as expired")
	}
}

func TestClampPriority(t *testing.T) {
	cases := map[int]int{-3: 1, 0: 1, 1: 1, 3: 3, 5: 5, 9: 5}
	for in, want := range cases {
		if got := ClampPriority(in); got != want {
			t.Fatalf("ClampPriority(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestDefaultTTL(t *testing.T) {
	day := 24 * time.Hour
	cases := []struct {
		sev  Severity
		want time.Duration
	}{
		{SeverityCritical, 7 * day},
		{SeverityWarning, 5 * day},
		{SeverityInfo, 3 * day},
		{SeveritySuccess, 2 * day},
	}
	for _, tc := range cases {
		if got := DefaultTTL(tc.sev); got != tc.want {
			t.Fatalf("DefaultTTL(%s) = %s, want %s", tc.sev, got, tc.want)
		}
	}
}
