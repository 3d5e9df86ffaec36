package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"budgetwatch/internal/notification"
)

// Export renders a user's feed as CSV and/or a PNG summary chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.UserID == "" {
		return errors.New("--user is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxRows = a.Config.ResolveMaxRows(opts.MaxRows)

	b, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := a.newService(b, nil, nil)
	if err != nil {
		return err
	}

	feed, err := svc.Feed(ctx, opts.UserID, false)
	if err != nil {
		return err
	}
	if len(feed) == 0 {
		a.Logger.Info().Str("user_id", opts.UserID).Msg("no notifications found for export")
		return nil
	}

	total := len(feed)
	if len(feed) > opts.MaxRows {
		feed = feed[:opts.MaxRows]
	}
	a.Logger.Info().Int("total", total).Int("exported", len(feed)).Msg("exporting notifications")

	if opts.CSVPath != "" {
		if err := writeFeedCSV(opts.CSVPath, feed); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFeedPNG(opts.PNGPath, feed); err != nil {
			return err
		}
	}

	return nil
}

func writeFeedCSV(path string, feed []notification.Notification) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"notification_id", "category", "subkey", "severity", "priority", "read", "title", "message", "created_at", "expires_at", "action_route"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, n := range feed {
		expires := ""
		if n.ExpiresAt != nil {
			expires = n.ExpiresAt.UTC().Format(time.RFC3339)
		}
		route := ""
		if n.Action != nil {
			route = n.Action.Route
		}
		record := []string{
			n.ID(),
			string(n.Category),
			n.Subkey,
			string(n.Severity),
			strconv.Itoa(n.Priority),
			strconv.FormatBool(n.Read),
			n.Title,
			n.Message,
			n.Timestamp.UTC().Format(time.RFC3339),
			expires,
			route,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// severityColors maps severities onto bar fills.
var severityColors = map[notification.Severity]chart.Style{
	notification.SeverityCritical: {FillColor: chart.ColorRed, StrokeColor: chart.ColorRed},
	notification.SeverityWarning:  {FillColor: chart.ColorOrange, StrokeColor: chart.ColorOrange},
	notification.SeverityInfo:     {FillColor: chart.ColorBlue, StrokeColor: chart.ColorBlue},
	notification.SeveritySuccess:  {FillColor: chart.ColorGreen, StrokeColor: chart.ColorGreen},
}

func writeFeedPNG(path string, feed []notification.Notification) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	counts := make(map[notification.Severity]int)
	for _, n := range feed {
		counts[n.Severity]++
	}

	order := []notification.Severity{
		notification.SeverityCritical,
		notification.SeverityWarning,
		notification.SeverityInfo,
		notification.SeveritySuccess,
	}
	bars := make([]chart.Value, 0, len(order))
	peak := 0
	for _, sev := range order {
		if counts[sev] > peak {
			peak = counts[sev]
		}
		bars = append(bars, chart.Value{
			Label: string(sev),
			Value: float64(counts[sev]),
			Style: severityColors[sev],
		})
	}

	graph := chart.BarChart{
		Title:    "Notifications by severity",
		Width:    800,
		Height:   480,
		BarWidth: 80,
		Background: chart.Style{
			Padding: chart.Box{Top: 40},
		},
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: float64(peak + 1)},
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
