// Package memory is a process-local storage backend. It keeps nothing across
// restarts and is used for dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"budgetwatch/internal/notification"
	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage"
)

// Store holds snapshots, feeds and sync times in maps.
type Store struct {
	mu        sync.RWMutex
	snapshots map[string]snapshot.Snapshot
	feeds     map[string][]notification.Notification
	syncs     map[string]time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[string]snapshot.Snapshot),
		feeds:     make(map[string][]notification.Notification),
		syncs:     make(map[string]time.Time),
	}
}

// PutSnapshot registers the snapshot served for s.UserID.
func (m *Store) PutSnapshot(s snapshot.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[s.UserID] = s
}

// FetchSnapshot returns the registered snapshot of a user.
func (m *Store) FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[userID]
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return s, nil
}

// ListUserIDs lists users with a registered snapshot.
func (m *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// FetchStored returns a copy of the user's feed.
func (m *Store) FetchStored(ctx context.Context, userID string) ([]notification.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	feed := m.feeds[userID]
	out := make([]notification.Notification, len(feed))
	copy(out, feed)
	return out, nil
}

// Upsert inserts or updates rows with the same rules as the SQL backends:
// read is sticky and the creation timestamp and nonce of an existing row stay.
func (m *Store) Upsert(ctx context.Context, userID string, list []notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed := m.feeds[userID]
	for _, n := range list {
		idx := indexOf(feed, n.ID())
		if idx < 0 {
			feed = append(feed, n)
			continue
		}
		prev := feed[idx]
		n.Read = prev.Read || n.Read
		n.Timestamp = prev.Timestamp
		n.Nonce = prev.Nonce
		feed[idx] = n
	}
	m.feeds[userID] = feed
	return nil
}

// Delete removes one notification.
func (m *Store) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed := m.feeds[userID]
	idx := indexOf(feed, id)
	if idx < 0 {
		return storage.ErrNotFound
	}
	m.feeds[userID] = append(feed[:idx:idx], feed[idx+1:]...)
	return nil
}

// DeleteAll clears a user's feed.
func (m *Store) DeleteAll(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.feeds, userID)
	return nil
}

// MarkRead flags one notification as read.
func (m *Store) MarkRead(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	feed := m.feeds[userID]
	idx := indexOf(feed, id)
	if idx < 0 {
		return storage.ErrNotFound
	}
	feed[idx].Read = true
	return nil
}

// MarkAllRead flags every notification of a user as read.
func (m *Store) MarkAllRead(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.feeds[userID] {
		m.feeds[userID][i].Read = true
	}
	return nil
}

// LastSync returns the last derivation time for a user.
func (m *Store) LastSync(ctx context.Context, userID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.syncs[userID]
	return at, ok, nil
}

// RecordSync stores the derivation time for a user.
func (m *Store) RecordSync(ctx context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs[userID] = at
	return nil
}

func indexOf(feed []notification.Notification, id string) int {
	for i, n := range feed {
		if n.ID() == id {
			return i
		}
	}
	return -1
}

var (
	_ storage.SnapshotProvider  = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
	_ storage.SyncTracker       = (*Store)(nil)
)
