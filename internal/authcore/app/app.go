package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/openkettle/authcore/internal/authcore/http"
	"github.com/openkettle/authcore/internal/authcore/secrets"
	secretsredis "github.com/openkettle/authcore/internal/authcore/secrets/redis"
	"github.com/openkettle/authcore/internal/authcore/service"
	"github.com/openkettle/authcore/internal/authcore/store"
	"github.com/openkettle/authcore/internal/authcore/store/drivers/sqlite"
	"github.com/openkettle/authcore/pkg/jwtx"
	"github.com/openkettle/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the credential engine with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db      store.Store
	secrets secrets.Store
	signer  *jwtx.Signer

	rateLimiter         *service.RateLimiter
	otpService          *service.OTPService
	resetService        *service.ResetService
	sessionService      *service.SessionService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initSecrets(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	// Ephemeral signing key: access tokens are short-lived, so a restart
	// invalidating them is acceptable.
	signer, err := jwtx.GenerateSigner()
	if err != nil {
		_ = app.db.Close()
		_ = app.secrets.Close()
		return nil, fmt.Errorf("failed to initialize signing key: %w", err)
	}
	app.signer = signer

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("authcore starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.secrets.Close(); err != nil {
		app.logger.Error("error closing secrets store", "error", err)
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authcore stopped")
	return nil
}

func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

func (app *Application) initSecrets() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sec, err := secretsredis.New(ctx, app.cfg.RedisAddr, app.cfg.RedisPassword, app.cfg.RedisDB)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	app.secrets = sec

	app.logger.Info("secrets store connected", "addr", app.cfg.RedisAddr)
	return nil
}

func (app *Application) initServices() {
	app.rateLimiter = &service.RateLimiter{
		Secrets:       app.secrets,
		MinuteWindow:  app.cfg.OTPMinuteWindow,
		HourWindow:    app.cfg.OTPHourWindow,
		HourlyCeiling: int64(app.cfg.OTPHourlyCeiling),
	}

	app.sessionService = &service.SessionService{
		Store:      app.db,
		Secrets:    app.secrets,
		Signer:     app.signer,
		Issuer:     app.cfg.Issuer,
		AccessTTL:  app.cfg.AccessTTL,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	app.otpService = &service.OTPService{
		Secrets:    app.secrets,
		Limiter:    app.rateLimiter,
		Sessions:   app.sessionService,
		CodeLength: app.cfg.OTPLength,
		CodeTTL:    app.cfg.OTPTTL,
	}

	app.resetService = &service.ResetService{
		Secrets:  app.secrets,
		Store:    app.db,
		TokenTTL: app.cfg.ResetTokenTTL,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.SessionRetention,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.cfg.Issuer,
		BuildVersion,
		app.db,
		app.secrets,
		app.logger,
	)
	router.OTPService = app.otpService
	router.ResetService = app.resetService
	router.SessionService = app.sessionService

	// In dev the delivery layer is a log line; real deployments replace
	// this hook with mail or SMS.
	if app.cfg.Env == "dev" {
		router.Deliver = func(identifier, value string) {
			app.logger.Debug("credential issued", "identifier", identifier, "value", value)
		}
	}

	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
