// Package sqlite is a single-file storage backend for local deployments.
// Monetary amounts are stored as integer cents.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"budgetwatch/internal/notification"
	"budgetwatch/internal/snapshot"
	"budgetwatch/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

const (
	selectBudgetSQL = `SELECT currency, total_budget_cents, needs_target, savings_target, wants_target
		FROM user_budgets WHERE user_id = ?`

	selectTotalsSQL = `SELECT
		COALESCE((SELECT SUM(amount_cents) FROM expenses  WHERE user_id = ?1 AND kind = 'fixed'), 0),
		COALESCE((SELECT SUM(amount_cents) FROM expenses  WHERE user_id = ?1 AND kind = 'variable'), 0),
		COALESCE((SELECT SUM(amount_cents) FROM debts     WHERE user_id = ?1), 0),
		COALESCE((SELECT SUM(amount_cents) FROM savings   WHERE user_id = ?1), 0),
		COALESCE((SELECT SUM(amount_cents) FROM pleasures WHERE user_id = ?1), 0)`

	listExpensesSQL = `SELECT CAST(id AS TEXT), name, amount_cents, due_date FROM expenses
		WHERE user_id = ? ORDER BY due_date IS NULL, due_date, id`

	listGoalsSQL = `SELECT CAST(id AS TEXT), name, target_amount_cents, current_amount_cents, start_date, target_date, status
		FROM goals WHERE user_id = ? ORDER BY id`

	listUserIDsSQL = `SELECT user_id FROM user_budgets ORDER BY user_id`

	listNotificationsSQL = `SELECT category, subkey, nonce, severity, priority, title, message, icon,
		is_read, created_at, expires_at, action_label, action_route
		FROM notifications WHERE user_id = ? ORDER BY priority, created_at`

	upsertNotificationSQL = `INSERT INTO notifications (
		user_id, notification_id, nonce, category, subkey, severity, priority, title, message, icon,
		is_read, created_at, expires_at, action_label, action_route
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, notification_id) DO UPDATE SET
		severity     = excluded.severity,
		priority     = excluded.priority,
		title        = excluded.title,
		message      = excluded.message,
		icon         = excluded.icon,
		is_read      = MAX(notifications.is_read, excluded.is_read),
		expires_at   = excluded.expires_at,
		action_label = excluded.action_label,
		action_route = excluded.action_route`

	deleteNotificationSQL     = `DELETE FROM notifications WHERE user_id = ? AND notification_id = ?`
	deleteAllNotificationsSQL = `DELETE FROM notifications WHERE user_id = ?`
	markReadSQL               = `UPDATE notifications SET is_read = 1 WHERE user_id = ? AND notification_id = ?`
	markAllReadSQL            = `UPDATE notifications SET is_read = 1 WHERE user_id = ?`

	selectLastSyncSQL = `SELECT synced_at FROM notification_sync WHERE user_id = ?`
	upsertSyncSQL     = `INSERT INTO notification_sync (user_id, synced_at) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET synced_at = excluded.synced_at`
)

// Store is the SQLite backend.
type Store struct {
	db *sql.DB
}

// RunMigrations applies the embedded schema to the database at path.
func RunMigrations(path string) error {
	migrateDB, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := migratesqlite.WithInstance(migrateDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Open connects to the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FetchSnapshot aggregates a user's budget tables into a Snapshot.
func (s *Store) FetchSnapshot(ctx context.Context, userID string) (snapshot.Snapshot, error) {
	snap := snapshot.Snapshot{UserID: userID}

	var (
		budgetCents              int64
		needsT, savingsT, wantsT sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, selectBudgetSQL, userID).Scan(&snap.Currency, &budgetCents, &needsT, &savingsT, &wantsT)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.Snapshot{}, fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("select budget: %w", err)
	}
	snap.TotalBudget = fromCents(budgetCents)

	var fixed, variable, debt, savings, pleasure int64
	if err := s.db.QueryRowContext(ctx, selectTotalsSQL, userID).Scan(&fixed, &variable, &debt, &savings, &pleasure); err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("select totals: %w", err)
	}
	snap.TotalFixed = fromCents(fixed)
	snap.TotalVariable = fromCents(variable)
	snap.TotalDebt = fromCents(debt)
	snap.TotalSavings = fromCents(savings)
	snap.TotalPleasure = fromCents(pleasure)
	snap.RemainsBudget = storage.RemainingBudget(snap)

	if snap.Expenses, err = s.listExpenses(ctx, userID); err != nil {
		return snapshot.Snapshot{}, err
	}
	if snap.Goals, err = s.listGoals(ctx, userID); err != nil {
		return snapshot.Snapshot{}, err
	}

	if needsT.Valid && savingsT.Valid && wantsT.Valid {
		snap = snap.WithRuleTargets(
			decimal.NewFromFloat(needsT.Float64),
			decimal.NewFromFloat(savingsT.Float64),
			decimal.NewFromFloat(wantsT.Float64),
		)
	}
	return snap, nil
}

func (s *Store) listExpenses(ctx context.Context, userID string) ([]snapshot.Expense, error) {
	rows, err := s.db.QueryContext(ctx, listExpensesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]snapshot.Expense, 0)
	for rows.Next() {
		var (
			e     snapshot.Expense
			cents int64
			due   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Name, &cents, &due); err != nil {
			return nil, err
		}
		e.Amount = fromCents(cents)
		if due.Valid && due.String != "" {
			t, err := time.Parse(dateLayout, due.String)
			if err != nil {
				return nil, fmt.Errorf("parse due date %q: %w", due.String, err)
			}
			e.DueDate = &t
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (s *Store) listGoals(ctx context.Context, userID string) ([]snapshot.Goal, error) {
	rows, err := s.db.QueryContext(ctx, listGoalsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	goals := make([]snapshot.Goal, 0)
	for rows.Next() {
		var (
			g               snapshot.Goal
			target, current int64
			start, end      string
		)
		if err := rows.Scan(&g.ID, &g.Name, &target, &current, &start, &end, &g.Status); err != nil {
			return nil, err
		}
		g.TargetAmount = fromCents(target)
		g.CurrentAmount = fromCents(current)
		if g.StartDate, err = time.Parse(dateLayout, start); err != nil {
			return nil, fmt.Errorf("parse goal start date: %w", err)
		}
		if g.TargetDate, err = time.Parse(dateLayout, end); err != nil {
			return nil, fmt.Errorf("parse goal target date: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ListUserIDs lists every user with a budget row.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listUserIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FetchStored returns the persisted feed of a user.
func (s *Store) FetchStored(ctx context.Context, userID string) ([]notification.Notification, error) {
	rows, err := s.db.QueryContext(ctx, listNotificationsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]notification.Notification, 0)
	for rows.Next() {
		var (
			n                  notification.Notification
			category, severity string
			created            string
			expires            sql.NullString
			label, route       sql.NullString
		)
		if err := rows.Scan(&category, &n.Subkey, &n.Nonce, &severity, &n.Priority, &n.Title, &n.Message,
			&n.Icon, &n.Read, &created, &expires, &label, &route); err != nil {
			return nil, err
		}
		n.Category = notification.Category(category)
		n.Severity = notification.Severity(severity)
		if n.Timestamp, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if expires.Valid {
			at, err := time.Parse(timeLayout, expires.String)
			if err != nil {
				return nil, fmt.Errorf("parse expires_at: %w", err)
			}
			n.ExpiresAt = &at
		}
		n.Action = storage.ActionFromColumns(nullable(label), nullable(route))
		out = append(out, n)
	}
	return out, rows.Err()
}

// Upsert writes the feed in one transaction. Stored read flags are never
// cleared and creation timestamps never move.
func (s *Store) Upsert(ctx context.Context, userID string, list []notification.Notification) error {
	if len(list) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, upsertNotificationSQL)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, n := range list {
		label, route := storage.ActionColumns(n.Action)
		var expires any
		if n.ExpiresAt != nil {
			expires = n.ExpiresAt.UTC().Format(timeLayout)
		}
		if _, err := stmt.ExecContext(ctx,
			userID, n.ID(), n.Nonce, string(n.Category), n.Subkey, string(n.Severity), n.Priority,
			n.Title, n.Message, n.Icon, n.Read, n.Timestamp.UTC().Format(timeLayout), expires, label, route,
		); err != nil {
			return fmt.Errorf("upsert notification %s: %w", n.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
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
	if _, err := s.db.ExecContext(ctx, deleteAllNotificationsSQL, userID); err != nil {
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
	if _, err := s.db.ExecContext(ctx, markAllReadSQL, userID); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LastSync returns the last derivation time for a user.
func (s *Store) LastSync(ctx context.Context, userID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, selectLastSyncSQL, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select last sync: %w", err)
	}
	at, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse synced_at: %w", err)
	}
	return at, true, nil
}

// RecordSync stores the derivation time for a user.
func (s *Store) RecordSync(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, upsertSyncSQL, userID, at.UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func nullable(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

var (
	_ storage.SnapshotProvider  = (*Store)(nil)
	_ storage.NotificationStore = (*Store)(nil)
	_ storage.SyncTracker       = (*Store)(nil)
)
