package alerting

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/notification"
)

// Multi fans a batch out to several notifiers concurrently. Every channel is
// attempted; the returned error joins all failures.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, userID string, list []notification.Notification) error {
	if len(list) == 0 || len(m) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, n := range m {
		n := n
		g.Go(func() error {
			if err := n.Notify(ctx, userID, list); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Nop discards every notification.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string, []notification.Notification) error { return nil }

var (
	_ Notifier = Multi(nil)
	_ Notifier = Nop{}
)
