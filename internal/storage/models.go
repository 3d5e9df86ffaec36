package storage

import (
	"budgetwatch/internal/notification"
)

// ActionColumns flattens an optional action into nullable label/route columns.
func ActionColumns(a *notification.Action) (label, route *string) {
	if a == nil {
		return nil, nil
	}
	l, r := a.Label, a.Route
	return &l, &r
}

// ActionFromColumns rebuilds an optional action from nullable columns.
func ActionFromColumns(label, route *string) *notification.Action {
	if label == nil && route == nil {
		return nil
	}
	a := &notification.Action{}
	if label != nil {
		a.Label = *label
	}
	if route != nil {
		a.Route = *route
	}
	return a
}
