package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/marketsync/internal/client/auth"
	"github.com/aussiebroadwan/marketsync/internal/client/connectivity"
	"github.com/aussiebroadwan/marketsync/internal/client/events"
	"github.com/aussiebroadwan/marketsync/internal/client/executor"
	httpapi "github.com/aussiebroadwan/marketsync/internal/client/http"
	"github.com/aussiebroadwan/marketsync/internal/client/service"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/internal/client/store/drivers/sqlite"
	"github.com/aussiebroadwan/marketsync/internal/client/syncer"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

const (
	// BuildVersion is overridden at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the client: durable store, credential handling, the
// request executor and the background workers around them.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db        store.Store
	bus       *events.Bus
	transport transport.Transport
	refresher *auth.HTTPRefresher

	// Services
	coordinator         *auth.Coordinator
	executor            *executor.Executor
	monitor             *connectivity.Monitor
	engine              *syncer.Engine
	mutations           *service.MutationService
	housekeepingService *service.HousekeepingService

	// Admin HTTP server, nil when AdminPort is 0
	server *http.Server
	router *httpapi.Router

	cancel context.CancelFunc
}

// New creates an Application with all dependencies initialized. Nothing is
// started until Run.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "marketsync",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}
	app.bus = events.NewBus(app.logger)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initAuth(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

func (app *Application) Logger() *slog.Logger                { return app.logger }
func (app *Application) Store() store.Store                  { return app.db }
func (app *Application) Coordinator() *auth.Coordinator      { return app.coordinator }
func (app *Application) Engine() *syncer.Engine              { return app.engine }
func (app *Application) Monitor() *connectivity.Monitor      { return app.monitor }
func (app *Application) Mutations() *service.MutationService { return app.mutations }
func (app *Application) Housekeeping() *service.HousekeepingService {
	return app.housekeepingService
}

// Run starts the background workers and the admin server, and blocks until
// shutdown is requested.
func (app *Application) Run() error {
	ctx, cancel := context.WithCancel(slogx.WithContext(context.Background(), app.logger))
	app.cancel = cancel

	go app.watchSession(ctx)

	app.housekeepingService.Start()
	app.monitor.Start(ctx)
	app.engine.Start(ctx)

	app.logger.Info("marketsync starting",
		"api", app.cfg.APIURL,
		"admin_port", app.cfg.AdminPort,
		"version", BuildVersion,
		"signed_in", !app.coordinator.Current().IsZero(),
	)

	serverErrors := make(chan error, 1)
	if app.server != nil {
		go func() {
			serverErrors <- app.server.ListenAndServe()
		}()
	}

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = app.Shutdown()
			return fmt.Errorf("admin server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown stops the workers and the admin server and closes the store.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down marketsync...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if app.server != nil {
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("graceful server shutdown failed", "error", err)
			if err := app.server.Close(); err != nil {
				app.logger.Error("error closing server", "error", err)
			}
		}
	}

	app.engine.Stop()
	app.monitor.Stop()
	app.housekeepingService.Stop()
	if app.cancel != nil {
		app.cancel()
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("marketsync stopped")
	return nil
}

// Close releases the store without starting anything. For one-shot CLI
// commands.
func (app *Application) Close() error {
	return app.db.Close()
}

// watchSession reacts to a terminally failed refresh. Account data stays on
// the device until the user signs in again or signs out.
func (app *Application) watchSession(ctx context.Context) {
	terminated, unsubscribe := app.bus.SessionTerminated.Subscribe(1)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-terminated:
			if !ok {
				return
			}
			app.logger.Error("session terminated, sign in again with `marketsync login`",
				"reason", ev.Reason,
				"at", ev.At,
			)
		}
	}
}

// initDatabase opens the store and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile), app.cfg.QueueLimit)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Debug("database migrations applied successfully")
	return nil
}

// initAuth opens the credential vault and loads the stored pair.
func (app *Application) initAuth() error {
	secret, ephemeral, err := auth.LoadDeviceSecret(app.cfg.DeviceKeyFile)
	if err != nil {
		return err
	}
	if ephemeral {
		app.logger.Warn("MARKET_DEVICE_KEY_FILE not set, credentials will not survive a restart")
	}

	vault, err := auth.NewVault(app.db.Preferences(), secret)
	if err != nil {
		return err
	}

	app.transport = transport.NewHTTPTransport(app.cfg.APIURL)
	app.refresher = &auth.HTTPRefresher{Transport: app.transport, ClientID: app.cfg.ClientID}
	app.coordinator = auth.NewCoordinator(app.refresher, vault, app.bus, app.logger)

	if err := app.coordinator.Load(context.Background()); err != nil {
		if !errors.Is(err, auth.ErrCredentialsUnreadable) {
			return fmt.Errorf("failed to load credentials: %w", err)
		}
		app.logger.Warn("stored credentials are unreadable, sign in again", "error", err)
	}
	return nil
}

// initServices initializes the executor, workers and services
func (app *Application) initServices() {
	app.executor = executor.New(app.transport, app.coordinator)
	app.executor.Policy = app.cfg.Policy()
	app.executor.CallTimeout = app.cfg.CallTimeout
	app.executor.ProactiveRefresh = app.cfg.ProactiveRefresh

	app.monitor = connectivity.NewMonitor(app.transport, app.bus, app.logger, app.cfg.ProbeInterval)

	app.engine = syncer.NewEngine(app.db, app.executor, app.bus, app.logger, app.cfg.SyncRate)
	app.engine.Connectivity = app.monitor
	app.engine.Interval = app.cfg.SyncInterval

	app.mutations = service.NewMutationService(app.db, app.executor, app.monitor, app.coordinator, app.logger)
	app.mutations.Revoker = app.refresher

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	app.housekeepingService.SyncedRetention = app.cfg.SyncedRetention
	app.housekeepingService.CacheTTL = app.cfg.CacheTTL
}

// initHTTP initializes the admin router and server
func (app *Application) initHTTP() {
	if app.cfg.AdminPort == 0 {
		return
	}

	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)
	router.Syncer = app.engine
	router.Connectivity = app.monitor
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", app.cfg.AdminPort),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
