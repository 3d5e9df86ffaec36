package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"budgetwatch/internal/notification"
	"budgetwatch/internal/snapshot"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a user or notification does not exist.
	ErrNotFound = errors.New("storage: not found")
)

const (
	selectBudgetSQL = `SELECT
        currency,
        total_budget::text,
        needs_target::text,
        savings_target::text,
        wants_target::text
    FROM user_budgets
    WHERE user_id = $1;`

	selectTotalsSQL = `SELECT
        COALESCE((SELECT SUM(amount) FROM expenses  WHERE user_id = $1 AND kind = 'fixed'), 0)::text,
        COALESCE((SELECT SUM(amount) FROM expenses  WHERE user_id = $1 AND kind = 'variable'), 0)::text,
        COALESCE((SELECT SUM(amount) FROM debts     WHERE user_id = $1), 0)::text,
        COALESCE((SELECT SUM(amount) FROM savings   WHERE user_id = $1), 0)::text,
        COALESCE((SELECT SUM(amount) FROM pleasures WHERE user_id = $1), 0)::text;`

	listExpensesSQL = `SELECT id::text, name, amount::text, due_date
    FROM expenses
    WHERE user_id = $1
    ORDER BY due_date NULLS LAST, id;`

	listGoalsSQL = `SELECT
        id::text,
        name,
        target_amount::text,
        current_amount::text,
        start_date,
        target_date,
        status
    FROM goals
    WHERE user_id = $1
    ORDER BY id;`

	listUserIDsSQL = `SELECT user_id FROM user_budgets ORDER BY user_id;`

	listNotificationsSQL = `SELECT
        category,
        subkey,
        nonce,
        severity,
        priority,
        title,
        message,
        icon,
        is_read,
        created_at,
        expires_at,
        action_label,
        action_route
    FROM notifications
    WHERE user_id = $1
    ORDER BY priority, created_at;`

	upsertNotificationSQL = `INSERT INTO notifications (
        user_id,
        notification_id,
        nonce,
        category,
        subkey,
        severity,
        priority,
        title,
        message,
        icon,
        is_read,
        created_at,
        expires_at,
        action_label,
        action_route
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (user_id, notification_id) DO UPDATE
    SET
        severity     = EXCLUDED.severity,
        priority     = EXCLUDED.priority,
        title        = EXCLUDED.title,
        message      = EXCLUDED.message,
        icon         = EXCLUDED.icon,
        is_read      = notifications.is_read OR EXCLUDED.is_read,
        expires_at   = EXCLUDED.expires_at,
        action_label = EXCLUDED.action_label,
        action_route = EXCLUDED.action_route,
        updated_at   = now();`

	deleteNotificationSQL     = `DELETE FROM notifications WHERE user_id = $1 AND notification_id = $2;`
	deleteAllNotificationsSQL = `DELETE FROM notifications WHERE user_id = $1;`
	markReadSQL               = `UPDATE notifications SET is_read = TRUE, updated_at = now() WHERE user_id = $1 AND notification_id = $2;`
	markAllReadSQL            = `UPDATE notifications SET is_read = TRUE, updated_at = now() WHERE user_id = $1 AND NOT is_read;`

	selectLastSyncSQL = `SELECT synced_at FROM notification_sync WHERE user_id = $1;`
	upsertSyncSQL     = `INSERT INTO notification_sync (user_id, synced_at) VALUES ($1, $2)
    ON CONFLICT (user_id) DO UPDATE SET synced_at = EXCLUDED.synced_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotProvider yields financial snapshots.
type SnapshotProvider interface {
	FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// NotificationStore persists a user's notification feed.
type NotificationStore interface {
	FetchStored(ctx context.Context, userID string) ([]notification.Notification, error)
	Upsert(ctx context.Context, userID string, list []notification.Notification) error
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) error
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) error
}

// SyncTracker remembers when each user's feed was last derived.
type SyncTracker interface {
	LastSync(ctx context.Context, userID string) (time.Time, bool, error)
	RecordSync(ctx context.Context, userID string, at time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL backend for snapshots, notifications and sync state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the session lock dies with the connection anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// FetchSnapshot aggregates a user's budget tables into a Snapshot.
func (s *Store) FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	snap := snapshot.Snapshot{UserID: userID}
	var (
		budgetStr                string
		needsT, savingsT, wantsT *string
	)
	err = pool.QueryRow(ctx, selectBudgetSQL, userID).Scan(&snap.Currency, &budgetStr, &needsT, &savingsT, &wantsT)
	if errors.Is(err, pgx.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("select budget: %w", err)
	}
	if snap.TotalBudget, err = decimal.NewFromString(budgetStr); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("parse total budget: %w", err)
	}

	var fixed, variable, debt, savings, pleasure string
	if err := pool.QueryRow(ctx, selectTotalsSQL, userID).Scan(&fixed, &variable, &debt, &savings, &pleasure); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("select totals: %w", err)
	}
	totals, err := parseDecimals(fixed, variable, debt, savings, pleasure)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("parse totals: %w", err)
	}
	snap.TotalFixed, snap.TotalVariable, snap.TotalDebt, snap.TotalSavings, snap.TotalPleasure =
		totals[0], totals[1], totals[2], totals[3], totals[4]
	snap.RemainsBudget = RemainingBudget(snap)

	if snap.Expenses, err = s.listExpenses(ctx, pool, userID); err != nil {
		return snapshot.Snapshot{}, err
	}
	if snap.Goals, err = s.listGoals(ctx, pool, userID); err != nil {
		return snapshot.Snapshot{}, err
	}

	if needsT != nil && savingsT != nil && wantsT != nil {
		targets, err := parseDecimals(*needsT, *savingsT, *wantsT)
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("parse budget rule: %w", err)
		}
		snap = snap.WithRuleTargets(targets[0], targets[1], targets[2])
	}
	return snap, nil
}

func (s *Store) listExpenses(ctx context.Context, pool *pgxpool.Pool, userID string) ([]snapshot.Expense, error) {
	rows, err := pool.Query(ctx, listExpensesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]snapshot.Expense, 0)
	for rows.Next() {
		var (
			e         snapshot.Expense
			amountStr string
		)
		if err := rows.Scan(&e.ID, &e.Name, &amountStr, &e.DueDate); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("parse expense amount: %w", err)
		}
		expenses = append(expenses, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return expenses, nil
}

func (s *Store) listGoals(ctx context.Context, pool *pgxpool.Pool, userID string) ([]snapshot.Goal, error) {
	rows, err := pool.Query(ctx, listGoalsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	goals := make([]snapshot.Goal, 0)
	for rows.Next() {
		var (
			g                  snapshot.Goal
			targetStr, current string
		)
		if err := rows.Scan(&g.ID, &g.Name, &targetStr, &current, &g.StartDate, &g.TargetDate, &g.Status); err != nil {
			return nil, err
		}
		amounts, err := parseDecimals(targetStr, current)
		if err != nil {
			return nil, fmt.Errorf("parse goal amounts: %w", err)
		}
		g.TargetAmount, g.CurrentAmount = amounts[0], amounts[1]
		goals = append(goals, g)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return goals, nil
}

// ListUserIDs lists every user with a budget row.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, listUserIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect users: %w", err)
	}
	return ids, nil
}

// FetchStored returns the persisted feed of a user.
func (s *Store) FetchStored(ctx context.Context, userID string) ([]notification.Notification, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listNotificationsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Notification, 0)
	for rows.Next() {
		var (
			n            notification.Notification
			category     string
			severity     string
			label, route *string
		)
		if err := rows.Scan(
			&category,
			&n.Subkey,
			&n.Nonce,
			&severity,
			&n.Priority,
			&n.Title,
			&n.Message,
			&n.Icon,
			&n.Read,
			&n.Timestamp,
			&n.ExpiresAt,
			&label,
			&route,
		); err != nil {
			return nil, err
		}
		n.Category = notification.Category(category)
		n.Severity = notification.Severity(severity)
		n.Action = ActionFromColumns(label, route)
		out = append(out, n)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Upsert writes the feed in one transaction. Stored read flags are never
// cleared and creation timestamps never move.
func (s *Store) Upsert(ctx context.Context, userID string, list []notification.Notification) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range list {
		label, route := ActionColumns(n.Action)
		batch.Queue(upsertNotificationSQL,
			userID,
			n.ID(),
			n.Nonce,
			string(n.Category),
			n.Subkey,
			string(n.Severity),
			n.Priority,
			n.Title,
			n.Message,
			n.Icon,
			n.Read,
			n.Timestamp,
			n.ExpiresAt,
			label,
			route,
		)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert notifications: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Delete removes one notification.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	return s.execOne(ctx, "delete notification", deleteNotificationSQL, userID, id)
}

// DeleteAll clears a user's feed.
func (s *Store) DeleteAll(ctx context.Context, userID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteAllNotificationsSQL, userID); err != nil {
		return fmt.Errorf("delete notifications: %w", err)
	}
	return nil
}

// MarkRead flags one notification as read.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	return s.execOne(ctx, "mark read", markReadSQL, userID, id)
}

// MarkAllRead flags every notification of a user as read.
func (s *Store) MarkAllRead(ctx context.Context, userID string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, markAllReadSQL, userID); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LastSync returns the last derivation time for a user.
func (s *Store) LastSync(ctx context.Context, userID string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var at time.Time
	err = pool.QueryRow(ctx, selectLastSyncSQL, userID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select last sync: %w", err)
	}
	return at, true, nil
}

// RecordSync stores the derivation time for a user.
func (s *Store) RecordSync(ctx context.Context, userID string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertSyncSQL, userID, at); err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

// RemainingBudget is the budget minus every outflow of the snapshot.
func RemainingBudget(s snapshot.Snapshot) decimal.Decimal {
	return s.TotalBudget.
		Sub(s.TotalFixed).
		Sub(s.TotalVariable).
		Sub(s.TotalDebt).
		Sub(s.TotalSavings).
		Sub(s.TotalPleasure)
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

var (
	_ SnapshotProvider  = (*Store)(nil)
	_ NotificationStore = (*Store)(nil)
	_ SyncTracker       = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
)
