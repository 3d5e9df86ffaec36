package app

import (
	"context"
	"fmt"
)

// Refresh derives feeds once, for one user or for everyone.
func (a *App) Refresh(ctx context.Context, opts RefreshOptions) error {
	b, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	svc, err := a.newService(b, nil, notifier)
	if err != nil {
		return err
	}

	if opts.UserID != "" {
		res, err := svc.Refresh(ctx, opts.UserID, opts.Force)
		if res.Feed != nil {
			writeFeedTable(a.Out, res.Feed)
		}
		if err != nil {
			return err
		}
		a.Logger.Info().Str("user_id", opts.UserID).
			Bool("throttled", res.Throttled).
			Int("raised", len(res.Raised)).
			Int("removed", len(res.Removed)).
			Msg("refresh finished")
		return nil
	}

	summary, err := svc.RefreshAll(ctx, opts.Force)
	fmt.Fprintf(a.Out, "users=%d refreshed=%d throttled=%d failed=%d raised=%d\n",
		summary.Users, summary.Refreshed, summary.Throttled, summary.Failed, summary.Raised)
	return err
}
