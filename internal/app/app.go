package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/authcore/internal/httpapi"
	"github.com/aussiebroadwan/authcore/internal/service"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the token service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	keys     *KeyMaterial
	registry *service.ClientRegistry

	tokenService *service.TokenService

	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized.
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

	keys, err := InitKeys(context.Background(), cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.keys = keys

	// A broken registry fails startup, not the first token request.
	registry, err := service.LoadRegistry(cfg.ClientsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client registry: %w", err)
	}
	app.registry = registry
	app.logger.Info("client registry loaded", "path", cfg.ClientsFile, "clients", registry.Len())

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.logger.Info("auth service starting", "port", app.cfg.Port, "version", BuildVersion)

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
	app.logger.Info("shutting down auth service...")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initServices() {
	app.tokenService = &service.TokenService{
		Signer:    app.keys.Signer,
		Clients:   app.registry,
		Issuer:    app.cfg.Issuer,
		Audience:  app.cfg.Audience,
		AccessTTL: app.cfg.AccessTTL,
	}
}

func (app *Application) initHTTP() {
	app.router = httpapi.NewRouter(app.keys.Keys, BuildVersion, app.logger)
	app.router.TokenService = app.tokenService
	app.router.ApplyRoutes()

	app.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.cfg.Port),
		Handler: app.router,
	}
}
