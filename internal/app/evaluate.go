package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"budgetwatch/internal/alerting"
	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage/memory"
)

// Evaluate derives a feed from a snapshot file without touching storage.
// With Notify set the alert-worthy part of the feed is pushed through the
// configured channels, which makes it a way to try the alerting setup.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	if opts.SnapshotPath == "" {
		return errors.New("--snapshot is required")
	}

	raw, err := os.ReadFile(opts.SnapshotPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	mem := memory.New()
	svc, err := a.newService(&backend{provider: mem, store: mem, close: func() {}}, nil, nil)
	if err != nil {
		return err
	}
	feed := svc.Preview(snap)

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(feed); err != nil {
			return err
		}
	} else if len(feed) == 0 {
		fmt.Fprintln(a.Out, "no notifications derived")
	} else {
		writeFeedTable(a.Out, feed)
	}

	if !opts.Notify {
		return nil
	}

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()
	if notifier == nil {
		return errors.New("alerting is not enabled")
	}

	batch := alerting.Filter(feed, a.Config.MinSeverity())
	if len(batch) == 0 {
		a.Logger.Info().Msg("nothing at or above alerting.min_severity")
		return nil
	}
	return notifier.Notify(ctx, snap.UserID, batch)
}
