package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"budgetwatch/internal/clock"
	"budgetwatch/internal/config"
	"budgetwatch/internal/notification"
	"budgetwatch/internal/rules"
	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage"
	"budgetwatch/internal/storage/memory"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]notification.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, userID string, list []notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, list)
	return nil
}

type countingProvider struct {
	storage.SnapshotProvider
	calls int32
}

func (c *countingProvider) FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.SnapshotProvider.FetchSnapshot(ctx, userID)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) Upsert(ctx context.Context, userID string, list []notification.Notification) error {
	return errors.New("disk full")
}

type fakeLocker struct {
	*memory.Store
	acquired bool
}

func (f fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, f.acquired, nil
}

type harness struct {
	svc      *Service
	mem      *memory.Store
	provider *countingProvider
	notifier *recordingNotifier
	now      *time.Time
}

func testConfig() *config.Config {
	return &config.Config{
		Refresh:  config.RefreshConfig{MinInterval: 5 * time.Minute, Workers: 2},
		Alerting: config.AlertingConfig{Enabled: true, MinSeverity: "warning"},
	}
}

func newHarness(t *testing.T, cfg *config.Config, store func(*memory.Store) storage.NotificationStore) *harness {
	t.Helper()
	now := base
	clk := clock.Func(func() time.Time { return now })

	var seq int64
	ev, err := rules.NewEvaluator(rules.DefaultThresholds(), clk, nil, rules.WithNonce(func() string {
		return "nonce-" + strconv.FormatInt(atomic.AddInt64(&seq, 1), 10)
	}))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	mem := memory.New()
	provider := &countingProvider{SnapshotProvider: mem}
	notifier := &recordingNotifier{}

	var ns storage.NotificationStore = mem
	if store != nil {
		ns = store(mem)
	}

	svc := New(cfg, nil, ev, provider, ns, notifier, clk, zerolog.Nop())
	return &harness{svc: svc, mem: mem, provider: provider, notifier: notifier, now: &now}
}

func undefinedBudget(user string) snapshot.Snapshot {
	return snapshot.Snapshot{UserID: user}
}

func overspent(user string) snapshot.Snapshot {
	return snapshot.Snapshot{
		UserID:       user,
		TotalBudget:  decimal.NewFromInt(1000),
		TotalFixed:   decimal.NewFromInt(700),
		TotalSavings: decimal.NewFromInt(300),
	}
}

func ids(list []notification.Notification) map[string]notification.Notification {
	out := make(map[string]notification.Notification, len(list))
	for _, n := range list {
		out[n.ID()] = n
	}
	return out
}

func TestRefreshPersistsAndDispatchesRaised(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.mem.PutSnapshot(undefinedBudget("u1"))

	res, err := h.svc.Refresh(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(res.Feed) != 1 || res.Feed[0].ID() != "budget_budget_undefined" {
		t.Fatalf("unexpected feed %+v", res.Feed)
	}
	if len(res.Raised) != 1 {
		t.Fatalf("expected one raised notification, got %d", len(res.Raised))
	}

	stored, _ := h.mem.FetchStored(context.Background(), "u1")
	if len(stored) != 1 {
		t.Fatalf("expected one stored row, got %d", len(stored))
	}
	if len(h.notifier.batches) != 1 || len(h.notifier.batches[0]) != 1 {
		t.Fatalf("expected one dispatched batch, got %+v", h.notifier.batches)
	}
}

func TestRefreshFiltersDispatchBySeverity(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.mem.PutSnapshot(overspent("u1"))

	res, err := h.svc.Refresh(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	feed := ids(res.Feed)
	for _, want := range []string{"expenses_critical_needs", "budget_budget_exceeded", "savings_good_savings"} {
		if _, ok := feed[want]; !ok {
			t.Fatalf("feed missing %s: %+v", want, res.Feed)
		}
	}

	if len(h.notifier.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(h.notifier.batches))
	}
	for _, n := range h.notifier.batches[0] {
		if !n.Severity.AtLeast(notification.SeverityWarning) {
			t.Fatalf("%s with severity %s should not be dispatched", n.ID(), n.Severity)
		}
	}
}

func TestRefreshThrottlesUnlessForced(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.mem.PutSnapshot(undefinedBudget("u1"))
	ctx := context.Background()

	if _, err := h.svc.Refresh(ctx, "u1", false); err != nil {
		t.Fatal(err)
	}
	*h.now = base.Add(time.Minute)

	res, err := h.svc.Refresh(ctx, "u1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Throttled || len(res.Feed) != 1 {
		t.Fatalf("expected throttled stored feed, got %+v", res)
	}
	if atomic.LoadInt32(&h.provider.calls) != 1 {
		t.Fatalf("throttled refresh should not fetch a snapshot")
	}

	if _, err := h.svc.Refresh(ctx, "u1", true); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&h.provider.calls) != 2 {
		t.Fatalf("forced refresh should fetch a snapshot")
	}

	*h.now = base.Add(10 * time.Minute)
	res, _ = h.svc.Refresh(ctx, "u1", false)
	if res.Throttled {
		t.Fatal("refresh after the interval should run")
	}
}

func TestRefreshKeepsReadAndRemovesStale(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	h.mem.PutSnapshot(overspent("u1"))

	first, err := h.svc.Refresh(ctx, "u1", false)
	if err != nil {
		t.Fatal(err)
	}
	firstNonce := ids(first.Feed)["expenses_critical_needs"].Nonce
	if err := h.svc.MarkRead(ctx, "u1", "expenses_critical_needs"); err != nil {
		t.Fatal(err)
	}

	*h.now = base.Add(time.Hour)
	res, err := h.svc.Refresh(ctx, "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Raised) != 0 {
		t.Fatalf("unchanged snapshot should raise nothing, got %+v", res.Raised)
	}
	got := ids(res.Feed)["expenses_critical_needs"]
	if !got.Read || !got.Timestamp.Equal(base) || got.Nonce != firstNonce {
		t.Fatalf("read flag, creation time and nonce should survive, got %+v", got)
	}
	if len(h.notifier.batches) != 1 {
		t.Fatalf("second pass should not dispatch, got %d batches", len(h.notifier.batches))
	}

	h.mem.PutSnapshot(undefinedBudget("u1"))
	res, err = h.svc.Refresh(ctx, "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Removed) == 0 {
		t.Fatal("expected stale rows to be removed")
	}
	stored, _ := h.mem.FetchStored(ctx, "u1")
	if len(stored) != 1 || stored[0].ID() != "budget_budget_undefined" {
		t.Fatalf("unexpected stored feed %+v", stored)
	}
}

func TestRefreshSnapshotFailureLeavesStore(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.svc.Refresh(context.Background(), "ghost", false)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	stored, _ := h.mem.FetchStored(context.Background(), "ghost")
	if len(stored) != 0 {
		t.Fatalf("store should stay empty, got %+v", stored)
	}
}

func TestRefreshWriteFailureReturnsFeed(t *testing.T) {
	h := newHarness(t, testConfig(), func(m *memory.Store) storage.NotificationStore {
		return failingStore{Store: m}
	})
	h.mem.PutSnapshot(undefinedBudget("u1"))

	res, err := h.svc.Refresh(context.Background(), "u1", false)
	if err == nil {
		t.Fatal("expected write error")
	}
	if len(res.Feed) != 1 {
		t.Fatalf("computed feed should be returned, got %+v", res.Feed)
	}
	if len(h.notifier.batches) != 0 {
		t.Fatal("nothing should be dispatched when persistence fails")
	}
	if _, ok, _ := h.mem.LastSync(context.Background(), "u1"); ok {
		t.Fatal("sync time should not be recorded on failure")
	}
}

func TestRefreshAllCountsAndThrottles(t *testing.T) {
	h := newHarness(t, testConfig(), func(m *memory.Store) storage.NotificationStore { return m })
	h.mem.PutSnapshot(undefinedBudget("a"))
	h.mem.PutSnapshot(overspent("b"))
	h.mem.PutSnapshot(undefinedBudget("c"))

	summary, err := h.svc.RefreshAll(context.Background(), false)
	if err != nil {
		t.Fatalf("RefreshAll: %v", err)
	}
	if summary.Users != 3 || summary.Refreshed != 3 || summary.Failed != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	summary, _ = h.svc.RefreshAll(context.Background(), false)
	if summary.Throttled != 3 {
		t.Fatalf("second pass should be throttled, got %+v", summary)
	}
}

func TestProcessTickSkipsWithoutLock(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.AdvisoryLockKey = 42
	h := newHarness(t, cfg, func(m *memory.Store) storage.NotificationStore {
		return fakeLocker{Store: m, acquired: false}
	})
	h.mem.PutSnapshot(undefinedBudget("u1"))

	if err := h.svc.ProcessTick(context.Background(), base); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&h.provider.calls) != 0 {
		t.Fatal("tick should be skipped when the lock is held elsewhere")
	}
}

func TestFeedUnreadAndClear(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	ctx := context.Background()
	h.mem.PutSnapshot(overspent("u1"))
	res, _ := h.svc.Refresh(ctx, "u1", false)

	if err := h.svc.MarkRead(ctx, "u1", res.Feed[0].ID()); err != nil {
		t.Fatal(err)
	}
	unread, err := h.svc.Feed(ctx, "u1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(unread) != len(res.Feed)-1 {
		t.Fatalf("expected %d unread, got %d", len(res.Feed)-1, len(unread))
	}

	if err := h.svc.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	unread, _ = h.svc.Feed(ctx, "u1", true)
	if len(unread) != 0 {
		t.Fatalf("expected nothing unread, got %d", len(unread))
	}

	if err := h.svc.Dismiss(ctx, "u1", "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.svc.Clear(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	feed, _ := h.svc.Feed(ctx, "u1", false)
	if len(feed) != 0 {
		t.Fatalf("expected empty feed, got %d", len(feed))
	}
}

func TestPreviewDoesNotPersist(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	feed := h.svc.Preview(overspent("u1"))
	if len(feed) == 0 {
		t.Fatal("preview should derive notifications")
	}
	for i := 1; i < len(feed); i++ {
		if feed[i-1].Priority > feed[i].Priority {
			t.Fatalf("preview not sorted: %+v", feed)
		}
	}
	stored, _ := h.mem.FetchStored(context.Background(), "u1")
	if len(stored) != 0 {
		t.Fatal("preview should not write")
	}
}
