package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"workflow-suite/core/internal/api"
	"workflow-suite/core/internal/auth"
	"workflow-suite/core/internal/config"
	"workflow-suite/core/internal/definitions"
	"workflow-suite/core/internal/events"
	"workflow-suite/core/internal/logging"
	"workflow-suite/core/internal/mcp"
	"workflow-suite/core/internal/observability"
	"workflow-suite/core/internal/repository"
	"workflow-suite/core/internal/services"
	"workflow-suite/core/internal/tls"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	// Parse command line flags
	envFile := flag.String("env", "", "Path to .env file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*envFile)
	if err != nil {
		logging.NewLogger().Error("Configuration loading failed", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"storage", cfg.Storage.Driver,
		"definitions", cfg.Definitions.Source,
		"definition_policy", cfg.Engine.DefinitionPolicy,
		"context_merge", cfg.Engine.ContextMerge,
		"okta_domain", cfg.Auth.OktaDomain,
		"dev_mode_bypass", cfg.DevModeBypass,
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	if cfg.Telemetry.StdoutTraces {
		shutdownTracing, err := observability.InitTracing(cfg.Telemetry.ServiceName, version, os.Stdout)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				logger.Warn("Trace exporter shutdown failed", "error", err)
			}
		}()
	}
	instruments, err := observability.NewInstruments()
	if err != nil {
		return fmt.Errorf("init instruments: %w", err)
	}

	repo, err := initRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()

	accessor, err := initAccessor(cfg)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATS.Enabled {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Close(); err != nil {
				logger.Warn("NATS drain failed", "error", err)
			}
		}()
		publisher = nc
		logger.Info("Publishing lifecycle events to NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	// Initialize service layer
	policy, err := services.ParseDefinitionPolicy(cfg.Engine.DefinitionPolicy)
	if err != nil {
		return err
	}
	merge, err := services.ParseMergeStrategy(cfg.Engine.ContextMerge)
	if err != nil {
		return err
	}
	opts := services.Options{Logger: logger, Publisher: publisher, Instruments: instruments}
	instances := services.NewInstanceEngine(repo, accessor, policy, merge, opts)
	approvals := services.NewApprovalEngine(repo, opts)
	logger.Info("Service layer initialized")

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}
	if authz.Bypass() {
		logger.Warn("Authentication bypass enabled; the acting user is read from the "+auth.UserHeader+" header")
	}
	requireAuth := echo.WrapMiddleware(authz.RequireAuth)

	// Create Echo server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware(cfg.Telemetry.ServiceName))
	e.Use(api.RequestLogger(logger))

	// Mount REST API handlers, probes and docs
	handler := api.NewHandler(instances, approvals, repo, logger, version)
	handler.Register(e, api.RouteOptions{
		Auth:            requireAuth,
		OktaIssuer:      cfg.Auth.OktaDomain,
		SwaggerClientID: cfg.Auth.ClientID,
	})
	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(instances, approvals, version)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(mcpHandlers), requireAuth)
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers), requireAuth)
	logger.Info("MCP protocol handlers mounted")

	return serve(cfg, e, logger)
}

func serve(cfg *config.Config, e *echo.Echo, logger *logging.Logger) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("tls.enable requires tls.cert_file and tls.key_file")
		}
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("prepare TLS certificate: %w", err)
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert", cfg.TLS.CertFile, "hosts", strings.Join(cfg.TLS.Hostnames, ","))
		}
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
		return nil
	}
}

func initRepository(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, error) {
	if cfg.Storage.Driver == "memory" {
		logger.Warn("Using in-memory storage; state is lost on restart")
		return repository.NewMemoryRepository(), nil
	}

	logger.Debug("Initializing database connection")
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.DB.MaxConns > 0 {
		poolConfig.MaxConns = cfg.DB.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return repository.NewPostgresRepository(pool), nil
}

func initAccessor(cfg *config.Config) (definitions.Accessor, error) {
	if cfg.Definitions.Source == "file" {
		accessor, err := definitions.LoadFile(cfg.Definitions.File)
		if err != nil {
			return nil, err
		}
		return accessor, nil
	}
	return definitions.NewHTTPAccessor(definitions.HTTPConfig{
		BaseURL:      cfg.Definitions.URL,
		Timeout:      cfg.Definitions.Timeout,
		MaxRetries:   cfg.Definitions.MaxRetries,
		ClientID:     cfg.Definitions.ClientID,
		ClientSecret: cfg.Definitions.ClientSecret,
		TokenURL:     cfg.Definitions.TokenURL,
		Scopes:       cfg.Definitions.Scopes,
	}), nil
}
