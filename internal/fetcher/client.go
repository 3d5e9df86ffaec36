package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage"
	"budgetwatch/internal/version"
)

// Client fetches snapshots over HTTP.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs an HTTP snapshot provider.
func NewClient(opts Options, logger zerolog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("snapshot.base_url is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "snapshot_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}, nil
}

// FetchSnapshot retrieves the current snapshot of one user.
func (c *Client) FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error) {
	if strings.TrimSpace(userID) == "" {
		return snapshot.Snapshot{}, errors.New("user id is required")
	}

	var snap snapshot.Snapshot
	path := fmt.Sprintf(snapshotPath, url.PathEscape(userID))
	if err := c.getJSON(ctx, path, &snap); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("fetch snapshot for %s: %w", userID, err)
	}
	if snap.UserID == "" {
		snap.UserID = userID
	}

	c.logger.Debug().Str("user_id", userID).
		Str("total_budget", snap.TotalBudget.String()).
		Int("expenses", len(snap.Expenses)).
		Int("goals", len(snap.Goals)).
		Msg("snapshot fetched")
	return snap, nil
}

// ListUserIDs retrieves the users whose feeds should be refreshed.
func (c *Client) ListUserIDs(ctx context.Context) ([]string, error) {
	var payload usersResponse
	if err := c.getJSON(ctx, usersPath, &payload); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return payload.Users, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return storage.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return parseHTTPError(resp.StatusCode, payload)
	}

	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type usersResponse struct {
	Users []string `json:"users"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("budget api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("budget api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("budget api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("budget api error (%d)", status)
}

var _ storage.SnapshotProvider = (*Client)(nil)
