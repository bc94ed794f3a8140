// Package main is the entry point for the RelayPoint callable API.
//
// It loads configuration, connects the database pool, wires the repositories,
// external providers, and handlers into the HTTP chassis, and serves the
// callable surface. Inside AWS Lambda the chi router runs behind the API
// Gateway proxy adapter; locally (APP_ENV=local) it runs as a standard HTTP
// server with graceful shutdown on SIGINT/SIGTERM.
//
// Route groups:
//
//	public  waitlist intake, auth helpers, billing webhook
//	auth    device logout (end-user bearer token)
//	admin   direct request intake, broadcast/announcement (service token or
//	        admin role)
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

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	chiadapter "github.com/awslabs/aws-lambda-go-api-proxy/chi"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaypoint/internal/api"
	"relaypoint/internal/api/handlers"
	"relaypoint/internal/config"
	"relaypoint/internal/external"
	"relaypoint/internal/governor"
	"relaypoint/internal/queue"
	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

var _ types.Logger = (*slogAdapter)(nil)

// identityAuthenticator adapts the identity provider's token verification to
// the api.Authenticator interface. Admin status is never taken from the
// token; RequireAdmin does a live role lookup.
type identityAuthenticator struct {
	identity external.IdentityProvider
}

func (a *identityAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	user, err := a.identity.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &types.Actor{UID: user.UID, Email: user.Email}, nil
}

var _ api.Authenticator = (*identityAuthenticator)(nil)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	typedLogger := &slogAdapter{logger: logger}

	logger.Info("relaypoint API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	requestRepo := store.NewRequestRepository(pool)
	markerRepo := store.NewMarkerRepository(pool)
	intakeRepo := store.NewIntakeRepository(pool)
	userRepo := store.NewUserRepository(pool)
	auditRepo := store.NewAuditRepository(pool)

	publisher := queue.NewPublisher(sqsClient, cfg.AWS, typedLogger)
	clock := types.RealClock{}

	gov := governor.New(markerRepo, requestRepo, intakeRepo, auditRepo, governor.Config{
		DailyMailCap:   cfg.Limits.DailyMailCap,
		CooldownWindow: cfg.Limits.CooldownWindow,
		CooldownKinds:  governor.DefaultCooldownKinds(),
	}, clock, typedLogger)

	var identityProvider external.IdentityProvider
	if cfg.Identity.APIKey == "" {
		typedLogger.Warn("IDENTITY_API_KEY not set, using stub identity provider")
		identityProvider = &external.StubIdentityProvider{}
	} else {
		identityProvider = external.NewIdentityClient(
			&http.Client{Timeout: 10 * time.Second},
			external.IdentityClientConfig{
				APIKey:  cfg.Identity.APIKey.Unmask(),
				BaseURL: cfg.Identity.BaseURL,
				Logger:  typedLogger,
			},
		)
	}

	var pushProvider external.PushProvider
	if cfg.Push.APIKey == "" {
		typedLogger.Warn("PUSH_API_KEY not set, using stub push provider")
		pushProvider = &external.StubPushProvider{Logger: typedLogger}
	} else {
		pushProvider = external.NewPushClient(
			&http.Client{Timeout: 10 * time.Second},
			external.PushClientConfig{
				ProjectID: cfg.Push.ProjectID,
				APIKey:    cfg.Push.APIKey.Unmask(),
				BaseURL:   cfg.Push.BaseURL,
				Logger:    typedLogger,
			},
		)
	}

	auth := api.NewAuth(
		&identityAuthenticator{identity: identityProvider},
		userRepo,
		cfg.Server.AdminTokenHash.Unmask(),
		typedLogger,
	)

	srv, err := api.NewServer(cfg, auth, typedLogger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	waitlistHandler := handlers.NewWaitlistHandler(intakeRepo, gov, cfg.Limits.IntakeBurstCap, typedLogger)
	authActionsHandler := handlers.NewAuthActionsHandler(
		identityProvider, userRepo, requestRepo, publisher, auditRepo, typedLogger)
	deviceLogoutHandler := handlers.NewDeviceLogoutHandler(
		pushProvider, requestRepo, requestRepo, clock, cfg.Push.ChannelID, typedLogger)
	requestsHandler := handlers.NewRequestsHandler(requestRepo, publisher, typedLogger)
	broadcastHandler := handlers.NewBroadcastHandler(requestRepo, publisher, auditRepo, cfg.Broadcast.TestRecipient, typedLogger)

	srv.PublicRegistrars = append(srv.PublicRegistrars,
		waitlistHandler.RegisterRoutes,
		authActionsHandler.RegisterRoutes,
	)
	srv.AuthRegistrars = append(srv.AuthRegistrars,
		deviceLogoutHandler.RegisterRoutes,
	)
	srv.AdminRegistrars = append(srv.AdminRegistrars,
		requestsHandler.RegisterRoutes,
		broadcastHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	// The billing webhook lives on the root router, outside /v1: the path is
	// pinned in the provider dashboard and must not move with API versions.
	webhookHandler := handlers.NewBillingWebhookHandler(
		publisher, nil, cfg.Billing.StripeWebhookSecret.Unmask(), typedLogger)
	webhookHandler.RegisterRoutes(srv.Router())

	if isLambdaEnvironment() {
		return runLambda(srv, logger)
	}

	return runHTTPServer(srv, cfg, logger)
}

// newPool builds the pgx connection pool from the database config.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.AcquireTimeout

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// runLambda serves the router behind the API Gateway proxy integration.
func runLambda(srv *api.Server, logger *slog.Logger) error {
	logger.Info("starting in Lambda mode")
	adapter := chiadapter.New(srv.Router())
	lambda.Start(adapter.ProxyWithContext)
	return nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *api.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given level.
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

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}
