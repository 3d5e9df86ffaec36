package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"budgetwatch/internal/alerting"
	"budgetwatch/internal/clock"
	"budgetwatch/internal/config"
	"budgetwatch/internal/notification"
	"budgetwatch/internal/reconcile"
	"budgetwatch/internal/rules"
	"budgetwatch/internal/scheduler"
	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage"
)

// Result describes one user refresh.
type Result struct {
	UserID    string
	Feed      []notification.Notification
	Raised    []notification.Notification
	Removed   []string
	Throttled bool
}

// Summary aggregates a refresh pass over every user.
type Summary struct {
	Users     int
	Refreshed int
	Throttled int
	Failed    int
	Raised    int
}

// Service orchestrates snapshot retrieval, derivation, persistence and alerting.
type Service struct {
	scheduler *scheduler.Scheduler
	evaluator *rules.Evaluator
	provider  storage.SnapshotProvider
	store     storage.NotificationStore
	tracker   storage.SyncTracker
	notifier  alerting.Notifier
	clock     clock.Clock
	logger    zerolog.Logger

	minInterval time.Duration
	workers     int
	alertsOn    bool
	minSeverity notification.Severity
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// New constructs the refresh service. The sync tracker and advisory locker
// are picked up from store when it implements them.
func New(cfg *config.Config, sched *scheduler.Scheduler, evaluator *rules.Evaluator, provider storage.SnapshotProvider, store storage.NotificationStore, notifier alerting.Notifier, clk clock.Clock, logger zerolog.Logger) *Service {
	var tracker storage.SyncTracker
	if t, ok := store.(storage.SyncTracker); ok {
		tracker = t
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	if clk == nil {
		clk = clock.NewReal()
	}
	if notifier == nil {
		notifier = alerting.Nop{}
	}

	workers := cfg.Refresh.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Service{
		scheduler:   sched,
		evaluator:   evaluator,
		provider:    provider,
		store:       store,
		tracker:     tracker,
		notifier:    notifier,
		clock:       clk,
		logger:      logger.With().Str("component", "service").Logger(),
		minInterval: cfg.Refresh.MinInterval,
		workers:     workers,
		alertsOn:    cfg.Alerting.Enabled,
		minSeverity: cfg.MinSeverity(),
		locker:      locker,
		lockKey:     cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the scheduled refresh loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick refreshes every user once, guarded by the advisory lock so
// only one instance works a bucket.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	summary, err := s.RefreshAll(ctx, false)
	s.logger.Info().Time("bucket", bucket).
		Int("users", summary.Users).
		Int("refreshed", summary.Refreshed).
		Int("throttled", summary.Throttled).
		Int("failed", summary.Failed).
		Int("raised", summary.Raised).
		Msg("refresh pass finished")
	return err
}

// RefreshAll refreshes every known user with bounded concurrency. A failing
// user does not stop the others; all failures are joined in the error.
func (s *Service) RefreshAll(ctx context.Context, force bool) (Summary, error) {
	ids, err := s.provider.ListUserIDs(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list users: %w", err)
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		summary = Summary{Users: len(ids)}
		errs    []error
	)
	g.SetLimit(s.workers)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := s.Refresh(ctx, id, force)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				errs = append(errs, fmt.Errorf("user %s: %w", id, err))
				return nil
			}
			if res.Throttled {
				summary.Throttled++
				return nil
			}
			summary.Refreshed++
			summary.Raised += len(res.Raised)
			return nil
		})
	}
	_ = g.Wait()

	return summary, errors.Join(errs...)
}

// Refresh derives the current feed of one user and persists it. When the
// last sync is younger than the minimum interval and force is false, the
// stored feed is served instead. Write failures are returned together with
// the computed feed.
func (s *Service) Refresh(ctx context.Context, userID string, force bool) (Result, error) {
	logger := s.logger.With().Str("user_id", userID).Logger()
	now := s.clock.Now()

	if !force && s.recentlySynced(ctx, userID, now, logger) {
		feed, err := s.Feed(ctx, userID, false)
		if err != nil {
			return Result{UserID: userID}, err
		}
		logger.Debug().Msg("refresh throttled, serving stored feed")
		return Result{UserID: userID, Feed: feed, Throttled: true}, nil
	}

	snap, err := s.provider.FetchSnapshot(ctx, userID)
	if err != nil {
		return Result{UserID: userID}, fmt.Errorf("fetch snapshot: %w", err)
	}

	fresh := s.derive(snap, now)
	res := Result{UserID: userID, Feed: fresh}

	stored, err := s.store.FetchStored(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("fetch stored notifications: %w", err)
	}

	merged := reconcile.Merge(stored, fresh)
	res.Feed = merged
	res.Raised = reconcile.Raised(stored, merged)
	res.Removed = reconcile.Stale(stored, merged)

	var errs []error
	if err := s.store.Upsert(ctx, userID, merged); err != nil {
		errs = append(errs, fmt.Errorf("upsert notifications: %w", err))
	}
	for _, id := range res.Removed {
		if err := s.store.Delete(ctx, userID, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	s.dispatch(ctx, userID, res.Raised, logger)

	if s.tracker != nil {
		if err := s.tracker.RecordSync(ctx, userID, now); err != nil {
			logger.Warn().Err(err).Msg("failed to record sync time")
		}
	}

	logger.Info().Int("feed", len(merged)).
		Int("raised", len(res.Raised)).
		Int("removed", len(res.Removed)).
		Msg("feed refreshed")
	return res, nil
}

// Preview derives a feed for snap without touching storage.
func (s *Service) Preview(snap snapshot.Snapshot) []notification.Notification {
	return s.derive(snap, s.clock.Now())
}

func (s *Service) derive(snap snapshot.Snapshot, now time.Time) []notification.Notification {
	return reconcile.Fresh(s.evaluator.EvaluateAt(snap, now), now)
}

// Feed returns the stored, unexpired feed of a user in display order.
func (s *Service) Feed(ctx context.Context, userID string, unreadOnly bool) ([]notification.Notification, error) {
	stored, err := s.store.FetchStored(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch stored notifications: %w", err)
	}
	feed := reconcile.Sort(reconcile.FilterExpired(stored, s.clock.Now()))
	if !unreadOnly {
		return feed, nil
	}
	out := feed[:0]
	for _, n := range feed {
		if !n.Read {
			out = append(out, n)
		}
	}
	return out, nil
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkRead(ctx, userID, id)
}

// MarkAllRead flags the whole feed as read.
func (s *Service) MarkAllRead(ctx context.Context, userID string) error {
	return s.store.MarkAllRead(ctx, userID)
}

// Dismiss deletes one notification.
func (s *Service) Dismiss(ctx context.Context, userID, id string) error {
	return s.store.Delete(ctx, userID, id)
}

// Clear deletes the whole feed of a user.
func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.store.DeleteAll(ctx, userID)
}

func (s *Service) recentlySynced(ctx context.Context, userID string, now time.Time, logger zerolog.Logger) bool {
	if s.tracker == nil || s.minInterval <= 0 {
		return false
	}
	last, ok, err := s.tracker.LastSync(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read last sync, refreshing anyway")
		return false
	}
	return ok && now.Sub(last) < s.minInterval
}

func (s *Service) dispatch(ctx context.Context, userID string, raised []notification.Notification, logger zerolog.Logger) {
	if !s.alertsOn {
		return
	}
	batch := alerting.Filter(raised, s.minSeverity)
	if len(batch) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, userID, batch); err != nil {
		logger.Error().Err(err).Int("count", len(batch)).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
