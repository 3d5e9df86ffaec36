package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"budgetwatch/internal/notification"
)

// Notifier pushes newly raised notifications of one user to an outside channel.
type Notifier interface {
	Notify(ctx context.Context, userID string, list []notification.Notification) error
}

// Filter keeps notifications at least as urgent as min.
func Filter(list []notification.Notification, min notification.Severity) []notification.Notification {
	out := make([]notification.Notification, 0, len(list))
	for _, n := range list {
		if n.Severity.AtLeast(min) {
			out = append(out, n)
		}
	}
	return out
}

// TelegramNotifier sends alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage once with the whole batch rendered as text.
func (n *TelegramNotifier) Notify(ctx context.Context, userID string, list []notification.Notification) error {
	if len(list) == 0 {
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(userID, list),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("user_id", userID).
		Int("count", len(list)).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(userID string, list []notification.Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Budget Alert] user %s\n", userID))
	for _, n := range list {
		builder.WriteString(fmt.Sprintf("\n%s %s (%s)\n", n.Icon, n.Title, n.Severity))
		builder.WriteString(n.Message)
		builder.WriteString("\n")
		if n.Action != nil {
			builder.WriteString(fmt.Sprintf("-> %s: %s\n", n.Action.Label, n.Action.Route))
		}
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
