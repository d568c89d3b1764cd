package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/mealog/internal/api"
	"github.com/vietddude/mealog/internal/auth"
	"github.com/vietddude/mealog/internal/core/config"
	redisclient "github.com/vietddude/mealog/internal/infra/redis"
	"github.com/vietddude/mealog/internal/infra/storage"
	"github.com/vietddude/mealog/internal/infra/storage/firestore"
	"github.com/vietddude/mealog/internal/infra/storage/memory"
	"github.com/vietddude/mealog/internal/infra/storage/postgres"
	"github.com/vietddude/mealog/internal/meal"
)

// App owns every long-lived component of the service.
type App struct {
	cfg *config.AppConfig
	log *slog.Logger

	store    storage.DocumentStore
	db       *postgres.DB
	listener *postgres.Listener
	redis    *redisclient.Client

	Auth   *auth.Service
	Meals  *meal.Service
	server *api.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New connects the configured backends and builds the services.
func New(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	loc, err := cfg.Store.Location()
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll()
		}
	}()

	var checks []api.Check
	var users storage.UserRepository

	// Postgres backs the account store whenever a URL is set, whatever the
	// meal backend is.
	if cfg.Database.URL != "" {
		a.db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := a.db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		users = postgres.NewUserRepo(a.db)
		checks = append(checks, api.Check{Name: "postgres", Required: true, Probe: a.db.Health})
	}

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		mealStore := postgres.NewMealStore(a.db, log)
		a.store = mealStore
		a.listener, err = postgres.NewListener(cfg.Database.URL, mealStore, log)
		if err != nil {
			return nil, err
		}
		log.Info("Using PostgreSQL storage")
	case config.BackendFirestore:
		fs, err := firestore.New(ctx, cfg.Firestore, log)
		if err != nil {
			return nil, err
		}
		a.store = fs
		log.Info("Using Firestore storage", "project", cfg.Firestore.ProjectID)
	default:
		mem := memory.NewMemoryStorage()
		a.store = mem
		if users == nil {
			users = memory.NewUserRepo(mem)
		}
		log.Info("Using Memory storage")
	}
	if users == nil {
		log.Warn("No database configured, accounts are kept in memory")
		users = memory.NewUserRepo(memory.NewMemoryStorage())
	}

	var revocations auth.RevocationStore
	if cfg.Redis.URL != "" {
		a.redis, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		revocations = a.redis
		checks = append(checks, api.Check{Name: "redis", Probe: a.redis.Ping})
	} else {
		revocations = auth.NewMemoryRevocations(nil)
	}

	policy := cfg.Retry.Policy()
	a.Auth = auth.NewService(cfg.Auth, users, revocations,
		auth.WithRetryPolicy(policy),
		auth.WithLogger(log),
	)
	a.Meals = meal.NewService(a.store, cfg.Store.Namespace, policy, log)
	a.server = api.NewServer(
		api.Config{Port: cfg.Server.Port, Location: loc},
		a.Auth,
		a.Meals,
		api.NewMonitor(checks...),
		log,
	)

	ok = true
	return a, nil
}

// Start runs the HTTP server and background workers. It returns at once;
// failures are reported by Stop.
func (a *App) Start(ctx context.Context) error {
	a.StartWorkers(ctx)
	a.group.Go(a.server.Start)
	return nil
}

// StartWorkers runs the background workers without the HTTP server: the
// postgres change listener that feeds live queries, and the DB metrics
// collector. Calling it again is a no-op. Stop ends them.
func (a *App) StartWorkers(ctx context.Context) {
	if a.group != nil {
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	a.group = g

	if a.listener != nil {
		g.Go(func() error { return a.listener.Run(ctx) })
	}
	if a.db != nil {
		a.db.StartMetricsCollector(ctx)
	}
}

// Stop shuts the server down and releases every backend.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping mealog...")

	var errs []error
	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store returns the document store in use.
func (a *App) Store() storage.DocumentStore {
	return a.store
}

func (a *App) closeAll() error {
	var errs []error
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
		a.listener = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.store = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		a.redis = nil
	}
	return errors.Join(errs...)
}
