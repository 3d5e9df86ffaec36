// Package reconcile turns candidate notifications into the authoritative feed
// and merges it with what is already stored.
//
// All functions are total over well-formed lists, never mutate their inputs,
// and never perform I/O.
package reconcile

import (
	"sort"
	"time"

	"budgetwatch/internal/notification"
)

// FilterExpired drops notifications whose expiry is at or before now.
// Entries without an expiry are always kept.
func FilterExpired(list []notification.Notification, now time.Time) []notification.Notification {
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		if n.Expired(now) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Deduplicate keeps one notification per (category, subkey). The survivor
// has the lowest priority value; ties go to the more severe entry, then to
// the earlier one. Groups keep the position of their first member.
func Deduplicate(list []notification.Notification) []notification.Notification {
	index := make(map[string]int, len(list))
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		id := n.ID()
		pos, seen := index[id]
		if !seen {
			index[id] = len(out)
			out = append(out, n)
			continue
		}
		if outranks(n, out[pos]) {
			out[pos] = n
		}
	}
	return out
}

// Sort orders by ascending priority, then severity. The sort is stable.
func Sort(list []notification.Notification) []notification.Notification {
	out := make([]notification.Notification, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return outranks(out[i], out[j])
	})
	return out
}

func outranks(a, b notification.Notification) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Severity.Rank() < b.Severity.Rank()
}

// Fresh runs FilterExpired, Deduplicate and Sort over raw candidates.
func Fresh(candidates []notification.Notification, now time.Time) []notification.Notification {
	return Sort(Deduplicate(FilterExpired(candidates, now)))
}

// Merge overlays fresh onto stored. A fresh entry whose ID matches a stored
// one inherits the stored read flag, creation timestamp and nonce; every
// other field comes from fresh. Stored entries with no fresh counterpart are
// left out. The order of fresh is preserved.
func Merge(stored, fresh []notification.Notification) []notification.Notification {
	byID := make(map[string]notification.Notification, len(stored))
	for _, n := range stored {
		byID[n.ID()] = n
	}

	out := make([]notification.Notification, 0, len(fresh))
	for _, n := range fresh {
		if prev, ok := byID[n.ID()]; ok {
			n.Read = prev.Read || n.Read
			n.Timestamp = prev.Timestamp
			if prev.Nonce != "" {
				n.Nonce = prev.Nonce
			}
		}
		out = append(out, n)
	}
	return out
}

// Stale returns the IDs of stored notifications absent from merged.
func Stale(stored, merged []notification.Notification) []string {
	keep := make(map[string]struct{}, len(merged))
	for _, n := range merged {
		keep[n.ID()] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{})
	for _, n := range stored {
		id := n.ID()
		if _, ok := keep[id]; ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Raised returns the merged entries that had no stored counterpart.
func Raised(stored, merged []notification.Notification) []notification.Notification {
	known := make(map[string]struct{}, len(stored))
	for _, n := range stored {
		known[n.ID()] = struct{}{}
	}
	var out []notification.Notification
	for _, n := range merged {
		if _, ok := known[n.ID()]; !ok {
			out = append(out, n)
		}
	}
	return out
}
