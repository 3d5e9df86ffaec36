package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"budgetwatch/internal/alerting"
	"budgetwatch/internal/clock"
	"budgetwatch/internal/config"
	"budgetwatch/internal/fetcher"
	"budgetwatch/internal/rules"
	"budgetwatch/internal/scheduler"
	"budgetwatch/internal/service"
	"budgetwatch/internal/storage"
	"budgetwatch/internal/storage/memory"
	"budgetwatch/internal/storage/sqlite"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Clock  clock.Clock
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Clock:  clock.NewReal(),
		Out:    os.Stdout,
	}
}

// backend bundles the snapshot source and the notification store of one
// command invocation.
type backend struct {
	provider storage.SnapshotProvider
	store    storage.NotificationStore
	close    func()
}

func (a *App) openStore(ctx context.Context) (*backend, error) {
	db := a.Config.Database

	var b backend
	switch {
	case db.Driver == config.DriverSQLite:
		if db.MigrateOnStart {
			if err := sqlite.RunMigrations(db.SQLitePath); err != nil {
				return nil, err
			}
		}
		store, err := sqlite.Open(ctx, db.SQLitePath)
		if err != nil {
			return nil, err
		}
		b = backend{provider: store, store: store, close: func() { _ = store.Close() }}
	case db.DSN != "":
		if db.MigrateOnStart {
			if err := storage.RunMigrations(db.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store := storage.NewStore(pool)
		b = backend{provider: store, store: store, close: store.Close}
	default:
		a.Logger.Warn().Msg("database.dsn not configured; notifications kept in memory")
		mem := memory.New()
		b = backend{provider: mem, store: mem, close: func() {}}
	}

	if a.Config.Snapshot.Source == config.SourceHTTP {
		client, err := a.newFetcher()
		if err != nil {
			b.close()
			return nil, err
		}
		b.provider = client
	}
	return &b, nil
}

func (a *App) newFetcher() (*fetcher.Client, error) {
	cfg := a.Config.Snapshot
	return fetcher.NewClient(fetcher.Options{
		BaseURL:   cfg.BaseURL,
		Token:     cfg.Token,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
	}, a.Logger)
}

// newNotifier builds the configured channels. It returns a nil notifier when
// alerting is disabled.
func (a *App) newNotifier() (alerting.Notifier, func(), error) {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	var (
		multi   alerting.Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, ch := range cfg.Channels {
		switch strings.TrimSpace(ch) {
		case "telegram":
			tg := cfg.Telegram
			multi = append(multi, alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, cfg.Timeout, a.Logger))
		case "amqp":
			n, err := alerting.NewAMQPNotifier(alerting.AMQPOptions{
				URL:        cfg.AMQP.URL,
				Exchange:   cfg.AMQP.Exchange,
				Queue:      cfg.AMQP.Queue,
				RoutingKey: cfg.AMQP.RoutingKey,
			}, a.Logger)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			closers = append(closers, func() { _ = n.Close() })
			multi = append(multi, n)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown alerting channel %q", ch)
		}
	}

	if len(multi) == 0 {
		return nil, closeAll, nil
	}
	return multi, closeAll, nil
}

func (a *App) newEvaluator() (*rules.Evaluator, error) {
	return rules.NewEvaluator(a.Config.Rules, a.Clock, nil)
}

// newService wires the refresh service over an open backend.
func (a *App) newService(b *backend, sched *scheduler.Scheduler, notifier alerting.Notifier) (*service.Service, error) {
	evaluator, err := a.newEvaluator()
	if err != nil {
		return nil, err
	}
	return service.New(a.Config, sched, evaluator, b.provider, b.store, notifier, a.Clock, a.Logger), nil
}

// Run executes the long-running refresh service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	notifier, closeNotifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer closeNotifier()

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	svc, err := a.newService(b, sched, notifier)
	if err != nil {
		return err
	}

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting refresh service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// RefreshOptions configure the refresh command.
type RefreshOptions struct {
	UserID string
	Force  bool
}

// ShowOptions configure the show command.
type ShowOptions struct {
	UserID     string
	UnreadOnly bool
}

// EvaluateOptions configure a dry-run evaluation.
type EvaluateOptions struct {
	SnapshotPath string
	JSON         bool
	Notify       bool
}

// ReadOptions configure the read command.
type ReadOptions struct {
	UserID string
	ID     string
	All    bool
}

// ClearOptions configure the clear command.
type ClearOptions struct {
	UserID string
	ID     string
}

// ExportOptions hold parameters for exporting a feed.
type ExportOptions struct {
	UserID  string
	CSVPath string
	PNGPath string
	MaxRows int
}
