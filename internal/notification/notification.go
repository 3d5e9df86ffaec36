package notification

import (
	"fmt"
	"strings"
	"time"
)

// Severity classifies how urgent a notification is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeveritySuccess  Severity = "success"
)

// Rank orders severities for tie-breaking; lower ranks sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	case SeveritySuccess:
		return 3
	default:
		return 4
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// AtLeast reports whether s is as urgent as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() <= min.Rank()
}

// ParseSeverity maps a config string onto a Severity.
func ParseSeverity(v string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(v)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", v)
	}
	return sev, nil
}

// Category groups notifications by the area of the budget they describe.
type Category string

const (
	CategoryBudget   Category = "budget"
	CategorySavings  Category = "savings"
	CategoryExpenses Category = "expenses"
	CategoryDebt     Category = "debt"
	CategorySystem   Category = "system"
)

// Categories lists every known category.
var Categories = []Category{CategoryBudget, CategorySavings, CategoryExpenses, CategoryDebt, CategorySystem}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Priority bounds.
const (
	PriorityHighest = 1
	PriorityLowest  = 5
)

// Action is a suggested follow-up shown with a notification.
type Action struct {
	Label string `json:"label"`
	Route string `json:"route"`
}

// Notification is one advisory entry of a user's feed.
//
// Category and Subkey form the stable identity of the logical alert and are
// used for deduplication and merging. Nonce only distinguishes individual
// generations of the same alert at the storage layer.
type Notification struct {
	Category  Category   `json:"category"`
	Subkey    string     `json:"subkey"`
	Nonce     string     `json:"nonce"`
	Severity  Severity   `json:"severity"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Icon      string     `json:"icon"`
	Read      bool       `json:"read"`
	Priority  int        `json:"priority"`
	Timestamp time.Time  `json:"timestamp"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Action    *Action    `json:"action,omitempty"`
}

// ID returns the stable identity "<category>_<subkey>".
func (n Notification) ID() string {
	return string(n.Category) + "_" + n.Subkey
}

// Expired reports whether n carries an expiry at or before now.
func (n Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// DefaultTTL is the lifetime applied when a rule does not set an expiry.
func DefaultTTL(sev Severity) time.Duration {
	const day = 24 * time.Hour
	switch sev {
	case SeverityCritical:
		return 7 * day
	case SeverityWarning:
		return 5 * day
	case SeverityInfo:
		return 3 * day
	default:
		return 2 * day
	}
}

// Icon returns the icon classifier used by clients for sev.
func Icon(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "alert-circle"
	case SeverityWarning:
		return "alert-triangle"
	case SeveritySuccess:
		return "check-circle"
	default:
		return "info"
	}
}

// ClampPriority forces p into [PriorityHighest, PriorityLowest].
func ClampPriority(p int) int {
	if p < PriorityHighest {
		return PriorityHighest
	}
	if p > PriorityLowest {
		return PriorityLowest
	}
	return p
}
