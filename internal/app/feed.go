package app

import (
	"context"
	"errors"
	"fmt"
)

// MarkRead flags one or all notifications of a user as read.
func (a *App) MarkRead(ctx context.Context, opts ReadOptions) error {
	if opts.UserID == "" {
		return errors.New("--user is required")
	}
	if opts.ID == "" && !opts.All {
		return errors.New("either --id or --all is required")
	}

	b, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := a.newService(b, nil, nil)
	if err != nil {
		return err
	}

	if opts.All {
		if err := svc.MarkAllRead(ctx, opts.UserID); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "marked all notifications of %s as read\n", opts.UserID)
		return nil
	}
	if err := svc.MarkRead(ctx, opts.UserID, opts.ID); err != nil {
		return fmt.Errorf("mark %s read: %w", opts.ID, err)
	}
	fmt.Fprintf(a.Out, "marked %s as read\n", opts.ID)
	return nil
}

// Clear deletes one notification, or the whole feed when no ID is given.
func (a *App) Clear(ctx context.Context, opts ClearOptions) error {
	if opts.UserID == "" {
		return errors.New("--user is required")
	}

	b, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := a.newService(b, nil, nil)
	if err != nil {
		return err
	}

	if opts.ID != "" {
		if err := svc.Dismiss(ctx, opts.UserID, opts.ID); err != nil {
			return fmt.Errorf("delete %s: %w", opts.ID, err)
		}
		fmt.Fprintf(a.Out, "deleted %s\n", opts.ID)
		return nil
	}
	if err := svc.Clear(ctx, opts.UserID); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "cleared feed of %s\n", opts.UserID)
	return nil
}
