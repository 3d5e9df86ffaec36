// Package fetcher pulls financial snapshots from the budgeting application's
// HTTP API.
package fetcher

import (
	"errors"
	"time"
)

// ErrUnauthorized is returned when the API rejects the configured token.
var ErrUnauthorized = errors.New("fetcher: unauthorized")

const (
	defaultTimeout = 10 * time.Second

	usersPath    = "/users"
	snapshotPath = "/users/%s/snapshot"
)

// Options parameterise the HTTP snapshot client.
type Options struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	UserAgent string
}
