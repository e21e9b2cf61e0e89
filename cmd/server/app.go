package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/phrazzld/taskcore/internal/api"
	"github.com/phrazzld/taskcore/internal/config"
	"github.com/phrazzld/taskcore/internal/platform/memory"
	"github.com/phrazzld/taskcore/internal/platform/postgres"
	"github.com/phrazzld/taskcore/internal/schedule"
	"github.com/phrazzld/taskcore/internal/store"
	"github.com/phrazzld/taskcore/internal/task"
)

// application holds the wired components and owns their lifecycle.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	taskStore store.TaskStore
	jobStore  store.RecurringJobStore

	pool      *task.Pool
	gate      *task.Gate
	service   *task.Service
	evaluator *schedule.Evaluator
	sweeper   *task.Sweeper
	handler   http.Handler
}

// newApplication builds every component from cfg. The built-in executor is
// used unless an option replaces it.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...appOption) (*application, error) {
	app := &application{config: cfg, logger: logger}
	settings := appSettings{executor: newLocalExecutor(logger)}
	for _, opt := range opts {
		opt(&settings)
	}

	if err := app.setupStores(ctx); err != nil {
		return nil, err
	}

	detector, err := task.NewPatternDetector(cfg.Confirmation.Patterns)
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("failed to compile confirmation patterns: %w", err)
	}
	delivery := task.NewLogDelivery(logger, cfg.Confirmation.RepliesSupported)

	var evalOpts []schedule.Option
	if cfg.Schedule.DefinitionsFile != "" {
		evalOpts = append(evalOpts, schedule.WithFileSource(schedule.NewFileSource(cfg.Schedule.DefinitionsFile)))
	}

	app.gate = task.NewGate(app.taskStore, detector, delivery, logger)
	// The evaluator needs the service to create tasks and the pool needs the
	// evaluator to record outcomes, so the service is built with the pool
	// once both exist.
	creator := &deferredCreator{}
	app.evaluator = schedule.NewEvaluator(app.jobStore, creator, cfg.Schedule, logger, evalOpts...)
	claimer := task.NewClaimer(app.taskStore, cfg.Claim, logger, task.WithClaimReporting(delivery, app.evaluator))

	app.pool, err = task.NewPool(cfg.Pool, cfg.Claim, task.PoolDeps{
		Store:    app.taskStore,
		Claimer:  claimer,
		Executor: settings.executor,
		Gate:     app.gate,
		Delivery: delivery,
		Jobs:     app.evaluator,
		Logger:   logger,
	})
	if err != nil {
		app.closeDB()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	app.gate.SetNotifier(app.pool)

	app.service = task.NewService(app.taskStore, app.pool, cfg.Retry.DefaultMaxAttempts, logger)
	creator.set(app.service)

	app.sweeper = task.NewSweeper(app.taskStore, delivery, app.evaluator, cfg.Sweep, logger)

	handler := api.NewHandler(app.service, app.gate, app.evaluator, app.jobStore, app.pool, logger)
	app.handler = api.NewRouter(handler, app.healthCheck)

	logger.Info("application initialized",
		slog.String("instance_id", app.pool.InstanceID()),
		slog.Bool("definitions_file", cfg.Schedule.DefinitionsFile != ""))
	return app, nil
}

// appSettings are the pluggable parts of an application.
type appSettings struct {
	executor task.Executor
}

type appOption func(*appSettings)

// withExecutor replaces the built-in executor.
func withExecutor(e task.Executor) appOption {
	return func(s *appSettings) { s.executor = e }
}

func (app *application) setupStores(ctx context.Context) error {
	cfg := app.config.Database
	switch cfg.Driver {
	case "memory":
		taskOpts := []memory.Option{memory.WithLogger(app.logger)}
		jobOpts := []memory.Option{memory.WithLogger(app.logger)}
		if cfg.SnapshotPath != "" {
			taskOpts = append(taskOpts, memory.WithSnapshotFile(cfg.SnapshotPath+".tasks.json"))
			jobOpts = append(jobOpts, memory.WithSnapshotFile(cfg.SnapshotPath+".jobs.json"))
		}
		tasks, err := memory.NewTaskStore(taskOpts...)
		if err != nil {
			return fmt.Errorf("failed to open memory task store: %w", err)
		}
		jobs, err := memory.NewJobStore(jobOpts...)
		if err != nil {
			return fmt.Errorf("failed to open memory job store: %w", err)
		}
		app.taskStore, app.jobStore = tasks, jobs
		app.logger.Info("using in-memory stores", slog.String("snapshot_path", cfg.SnapshotPath))
		return nil

	case "postgres":
		db, err := openDatabase(ctx, cfg, app.logger)
		if err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, db, app.logger); err != nil {
			_ = db.Close()
			return err
		}
		app.db = db
		app.taskStore = postgres.NewPostgresTaskStore(db, app.logger)
		app.jobStore = postgres.NewPostgresJobStore(db, app.logger)
		return nil
	}
	return fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// openDatabase connects to PostgreSQL and configures the connection pool.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established")
	return db, nil
}

// runMigrationsOnly applies migrations for the postgres driver and returns.
func runMigrationsOnly(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Database.Driver != "postgres" {
		logger.Info("no migrations to apply", slog.String("database_driver", cfg.Database.Driver))
		return nil
	}
	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := postgres.Migrate(ctx, db, logger); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func (app *application) healthCheck(ctx context.Context) error {
	if app.db == nil {
		return nil
	}
	return app.db.PingContext(ctx)
}

// Run starts the background loops and serves HTTP until ctx is done, then
// shuts everything down in dependency order.
func (app *application) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	loopCtx, cancelLoops := context.WithCancel(ctx)
	var loops sync.WaitGroup
	app.startLoops(loopCtx, &loops)

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", slog.Int("port", app.config.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown failed: %w", err))
	}

	cancelLoops()
	loops.Wait()
	// The pool applies its own shutdown timeout.
	if err := app.cleanup(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (app *application) startLoops(ctx context.Context, loops *sync.WaitGroup) {
	app.pool.Start(ctx)
	loops.Add(2)
	go func() {
		defer loops.Done()
		app.evaluator.Run(ctx)
	}()
	go func() {
		defer loops.Done()
		app.sweeper.Run(ctx)
	}()
}

// cleanup drains the worker pool and closes the database.
func (app *application) cleanup(ctx context.Context) error {
	var err error
	if app.pool != nil {
		if perr := app.pool.Shutdown(ctx); perr != nil {
			app.logger.Error("worker pool shutdown failed", slog.String("error", perr.Error()))
			err = perr
		}
	}
	app.closeDB()
	app.logger.Info("application shutdown completed")
	return err
}

func (app *application) closeDB() {
	if app.db == nil {
		return
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database connection", slog.String("error", err.Error()))
	}
	app.db = nil
}
