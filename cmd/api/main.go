// Package main is the entry point for the Zenvoice billing API server.
//
// It loads configuration, connects the Postgres pool and the SQS client,
// wires the billing engine behind the HTTP chassis, and serves until a
// shutdown signal arrives. When GATEWAY_MOCK_MODE is set, the payment
// provider transport is replaced with a deterministic in-process double at
// this wiring seam; no mock branches exist further down.
package main

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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"zenvoice/internal/api/handlers"
	"zenvoice/internal/billing"
	"zenvoice/internal/config"
	"zenvoice/internal/core"
	"zenvoice/internal/db"
	"zenvoice/internal/gateway"
	"zenvoice/internal/notifications"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("zenvoice billing API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
		"gateway_mock_mode", cfg.Gateway.MockMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database pool.
	pool, err := newDBPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Notification publisher: SQS when a queue is configured, no-op otherwise.
	publisher, err := newPublisher(ctx, cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("creating notification publisher: %w", err)
	}

	// Payment gateway client behind the resilient (or mock) transport.
	gatewayClient := newGatewayClient(cfg, logger)

	// Domain wiring.
	repo := db.NewSubscriptionRepo(pool, logger)
	catalog := billing.NewCatalog(cfg.Gateway)
	quotas := billing.NewQuotaManager(repo, catalog, logger)
	verifier := billing.NewTransactionVerifier(gatewayClient, logger)
	engine := billing.NewEngine(
		repo,
		catalog,
		gatewayClient,
		verifier,
		quotas,
		publisher,
		cfg.Server.DashboardURL,
		logger,
	)

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	subscriptionHandler := handlers.NewSubscriptionHandler(engine, quotas, catalog, srv.Validator, logger)
	webhookHandler := handlers.NewWebhookHandler(engine, cfg.Gateway.SecretKey.Unmask(), logger)

	srv.V1Registrars = append(srv.V1Registrars, subscriptionHandler.RegisterRoutes)
	srv.PublicRegistrars = append(srv.PublicRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()

	return serve(ctx, srv, cfg, logger)
}

// newDBPool builds the pgx connection pool with the configured tuning.
func newDBPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = cfg.AcquireTimeout

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// newPublisher wires the SQS billing-event publisher. An empty queue URL
// disables publishing entirely.
func newPublisher(ctx context.Context, cfg config.NotifyConfig, logger *slog.Logger) (billing.EventPublisher, error) {
	if cfg.QueueURL == "" {
		logger.Info("no billing-event queue configured; notifications disabled")
		return notifications.NopPublisher{Logger: logger}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		// LocalStack support for local development.
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = &cfg.AWSEndpointURL
		}
	})

	return notifications.NewSQSPublisher(client, cfg.QueueURL, logger), nil
}

// newGatewayClient selects the transport at the wiring seam: the resilient
// HTTP transport in normal operation, the in-process mock in mock mode.
func newGatewayClient(cfg *config.Config, logger *slog.Logger) *gateway.Client {
	var transport gateway.Transport
	if cfg.Gateway.MockMode {
		transport = gateway.NewMockTransport()
	} else {
		policy := gateway.DefaultRetryPolicy()
		policy.MaxRetries = cfg.Gateway.MaxRetries
		policy.BaseWait = cfg.Gateway.RetryBackoffBase

		transport = gateway.NewHTTPTransport(
			&http.Client{Timeout: cfg.Gateway.CallTimeout},
			policy,
			cfg.Service+"/1.0",
		)
	}

	return gateway.NewClient(transport, gateway.ClientConfig{
		SecretKey: cfg.Gateway.SecretKey.Unmask(),
		BaseURL:   cfg.Gateway.BaseURL,
		Logger:    logger,
	})
}

// serve runs the HTTP server until the context is cancelled, then shuts down
// gracefully with a deadline.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
