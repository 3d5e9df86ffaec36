package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"budgetwatch/internal/notification"
)

// Show prints the stored feed of a user.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
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

	feed, err := svc.Feed(ctx, opts.UserID, opts.UnreadOnly)
	if err != nil {
		return err
	}
	if len(feed) == 0 {
		fmt.Fprintln(a.Out, "no notifications found")
		return nil
	}

	writeFeedTable(a.Out, feed)
	return nil
}

func writeFeedTable(out io.Writer, feed []notification.Notification) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSeverity\tPrio\tRead\tCreated (UTC)\tExpires (UTC)\tTitle\tMessage")

	for _, n := range feed {
		expires := "-"
		if n.ExpiresAt != nil {
			expires = n.ExpiresAt.UTC().Format(time.RFC3339)
		}
		read := ""
		if n.Read {
			read = "yes"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			n.ID(),
			n.Severity,
			n.Priority,
			read,
			n.Timestamp.UTC().Format(time.RFC3339),
			expires,
			sanitizeInline(n.Title),
			sanitizeInline(n.Message),
		)
	}

	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
