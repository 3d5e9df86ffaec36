// Package rules turns a financial snapshot into candidate notifications.
//
// Each rule family is a pure function registered in an ordered list. A rule
// returns zero or more Alert values; an empty result means the rule did not
// fire. The Evaluator stamps category, identity, timestamps and expiry onto
// every alert and never performs I/O.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"budgetwatch/internal/clock"
	"budgetwatch/internal/notification"
	"budgetwatch/internal/snapshot"
)

// ErrDuplicateSubkey is returned when two rules claim the same identity.
var ErrDuplicateSubkey = errors.New("rules: duplicate subkey")

// Input is everything a rule may read.
type Input struct {
	Snapshot   snapshot.Snapshot
	Now        time.Time
	Thresholds Thresholds
}

// Alert is the outcome of a rule that fired.
type Alert struct {
	Subkey    string
	Severity  notification.Severity
	Priority  int
	Title     string
	Message   string
	Action    *notification.Action
	ExpiresAt *time.Time
}

// Rule is one entry of the battery.
//
// Subkeys lists every subkey the rule may emit. An entry ending in "_" is a
// prefix for per-item subkeys such as "deadline_<slug>".
type Rule struct {
	Name     string
	Category notification.Category
	Subkeys  []string
	// Guard rules run only when the budget is not positive; all other rules
	// run only when it is.
	Guard bool
	Eval  func(Input) []Alert
}

// Evaluator runs the registered rules against snapshots.
type Evaluator struct {
	rules      []Rule
	thresholds Thresholds
	clock      clock.Clock
	nonce      func() string
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithNonce overrides the generation nonce source.
func WithNonce(fn func() string) Option {
	return func(e *Evaluator) {
		if fn != nil {
			e.nonce = fn
		}
	}
}

// NewEvaluator validates the thresholds and registry. With no rules the
// default battery is used.
func NewEvaluator(thresholds Thresholds, clk clock.Clock, rules []Rule, opts ...Option) (*Evaluator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.NewReal()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	if err := validateRegistry(rules); err != nil {
		return nil, err
	}

	e := &Evaluator{
		rules:      rules,
		thresholds: thresholds,
		clock:      clk,
		nonce:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func validateRegistry(rules []Rule) error {
	type claim struct {
		rule   string
		prefix bool
	}
	seen := make(map[notification.Category]map[string]claim)
	for _, r := range rules {
		if r.Eval == nil {
			return fmt.Errorf("rules: rule %q has no evaluation function", r.Name)
		}
		if !r.Category.Valid() {
			return fmt.Errorf("rules: rule %q has unknown category %q", r.Name, r.Category)
		}
		if len(r.Subkeys) == 0 {
			return fmt.Errorf("rules: rule %q declares no subkeys", r.Name)
		}
		claims := seen[r.Category]
		if claims == nil {
			claims = make(map[string]claim)
			seen[r.Category] = claims
		}
		for _, key := range r.Subkeys {
			isPrefix := strings.HasSuffix(key, "_")
			for existing, c := range claims {
				clash := existing == key ||
					(c.prefix && strings.HasPrefix(key, existing)) ||
					(isPrefix && strings.HasPrefix(existing, key))
				if clash {
					return fmt.Errorf("%w: %s/%s claimed by %q and %q", ErrDuplicateSubkey, r.Category, key, c.rule, r.Name)
				}
			}
			claims[key] = claim{rule: r.Name, prefix: isPrefix}
		}
	}
	return nil
}

// Thresholds returns the evaluator's threshold set.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate runs the battery at the clock's current time.
func (e *Evaluator) Evaluate(s snapshot.Snapshot) []notification.Notification {
	return e.EvaluateAt(s, e.clock.Now())
}

// EvaluateAt runs the battery as of now. The result is deterministic for a
// given snapshot and instant except for the nonce.
func (e *Evaluator) EvaluateAt(s snapshot.Snapshot, now time.Time) []notification.Notification {
	in := Input{Snapshot: s.Normalize(), Now: now, Thresholds: e.thresholds}
	guarded := !in.Snapshot.TotalBudget.IsPositive()

	out := make([]notification.Notification, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Guard != guarded {
			continue
		}
		for _, a := range r.Eval(in) {
			if !declares(r, a.Subkey) || !a.Severity.Valid() {
				continue
			}
			out = append(out, e.stamp(r.Category, a, now))
		}
	}
	return out
}

func (e *Evaluator) stamp(cat notification.Category, a Alert, now time.Time) notification.Notification {
	expires := a.ExpiresAt
	if expires == nil {
		at := now.Add(notification.DefaultTTL(a.Severity))
		expires = &at
	}
	return notification.Notification{
		Category:  cat,
		Subkey:    a.Subkey,
		Nonce:     e.nonce(),
		Severity:  a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		Icon:      notification.Icon(a.Severity),
		Priority:  notification.ClampPriority(a.Priority),
		Timestamp: now,
		ExpiresAt: expires,
		Action:    a.Action,
	}
}

// Declares reports whether some registered rule of cat may emit subkey.
func (e *Evaluator) Declares(cat notification.Category, subkey string) bool {
	for _, r := range e.rules {
		if r.Category == cat && declares(r, subkey) {
			return true
		}
	}
	return false
}

func declares(r Rule, subkey string) bool {
	for _, key := range r.Subkeys {
		if key == subkey {
			return true
		}
		if strings.HasSuffix(key, "_") && strings.HasPrefix(subkey, key) && len(subkey) > len(key) {
			return true
		}
	}
	return false
}
