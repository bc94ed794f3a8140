// Package main is the entrypoint for the Push Worker Lambda function.
//
// The Push Worker consumes notification requests from the push SQS queue and
// processes them through the dispatch engine: governance, audience
// resolution (single user, platform/language channel fan-out), provider
// delivery, and terminal status recording. Stale device registrations are
// per-recipient soft failures and never fail the batch message.
//
// Cold start wiring mirrors the mail worker; only the consumed queue and the
// engine entry point differ.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaypoint/internal/audience"
	"relaypoint/internal/config"
	"relaypoint/internal/dispatch"
	"relaypoint/internal/external"
	"relaypoint/internal/governor"
	"relaypoint/internal/store"
	"relaypoint/internal/templates"
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

// pushProcessor is the engine surface this worker drives.
type pushProcessor interface {
	ProcessPush(ctx context.Context, req *types.NotificationRequest) error
}

// Handler holds the dependencies for the push worker Lambda handler.
type Handler struct {
	engine  pushProcessor
	metrics dispatch.Metrics
	logger  types.Logger
}

// Handle processes an SQS event of queued push requests with partial batch
// responses: only transiently failed messages are redelivered.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process push request",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processMessage runs a single queued request through the dispatch engine.
func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var req types.NotificationRequest
	if err := json.Unmarshal([]byte(record.Body), &req); err != nil {
		h.logger.Error("failed to unmarshal notification request",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		// Permanent parse failure - do not retry (return nil to ACK).
		return nil
	}

	logger := h.logger.With(
		"request_id", req.ID,
		"kind", string(req.Kind),
	)
	logger.Info("processing push request")

	start := time.Now()
	if err := h.engine.ProcessPush(ctx, &req); err != nil {
		return err
	}

	h.metrics.RecordLatency(ctx, types.ChannelPush, time.Since(start))
	logger.Info("push request settled", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
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

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("push worker initializing (cold start)")

	typedLogger := &slogAdapter{logger: logger}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	pool, err := newPool(ctx, cfg)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	requestRepo := store.NewRequestRepository(pool)
	markerRepo := store.NewMarkerRepository(pool)
	intakeRepo := store.NewIntakeRepository(pool)
	userRepo := store.NewUserRepository(pool)
	auditRepo := store.NewAuditRepository(pool)

	clock := types.RealClock{}

	gov := governor.New(markerRepo, requestRepo, intakeRepo, auditRepo, governor.Config{
		DailyMailCap:   cfg.Limits.DailyMailCap,
		CooldownWindow: cfg.Limits.CooldownWindow,
		CooldownKinds:  governor.DefaultCooldownKinds(),
	}, clock, typedLogger)

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

	var mailProvider external.MailProvider
	if cfg.Mail.APIKey == "" {
		typedLogger.Warn("MAIL_API_KEY not set, using stub mail provider")
		mailProvider = &external.StubMailProvider{Logger: typedLogger}
	} else {
		mailProvider = external.NewMailClient(
			&http.Client{Timeout: 10 * time.Second},
			external.MailClientConfig{
				APIKey:   cfg.Mail.APIKey.Unmask(),
				FromName: cfg.Mail.FromName,
				BaseURL:  cfg.Mail.BaseURL,
				Logger:   typedLogger,
			},
		)
	}

	var metrics dispatch.Metrics = dispatch.NewCloudWatchMetrics(
		cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		}),
		cfg.AWS.MetricNamespace,
		typedLogger,
	)
	if cfg.Environment == "local" {
		metrics = dispatch.NoopMetrics{}
	}

	recorder := dispatch.NewRecorder(requestRepo, markerRepo, metrics, clock, typedLogger)

	engine := dispatch.NewEngine(
		gov,
		audience.NewResolver(typedLogger),
		templates.NewRegistry(),
		mailProvider,
		pushProvider,
		userRepo,
		intakeRepo,
		recorder,
		dispatch.Config{
			FromAddress:      cfg.Mail.FromAddress,
			DefaultTopic:     cfg.Push.DefaultTopic,
			AndroidChannelID: cfg.Push.ChannelID,
		},
		typedLogger,
	)

	handler := &Handler{engine: engine, metrics: metrics, logger: typedLogger}

	logger.Info("push worker initialized",
		"environment", cfg.Environment,
		"push_queue", cfg.AWS.PushQueue,
		"default_topic", cfg.Push.DefaultTopic,
	)

	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal executes the handler once against an SQS event read from stdin.
func runLocal(handler *Handler, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading SQS event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		logger.Error("no input received on stdin")
		os.Exit(1)
	}

	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		logger.Error("failed to parse stdin as SQS event", "error", err)
		os.Exit(1)
	}

	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		logger.Error("handler execution failed", "error", err)
		os.Exit(1)
	}
	if len(response.BatchItemFailures) > 0 {
		respJSON, _ := json.MarshalIndent(response, "", "  ")
		fmt.Fprintln(os.Stderr, string(respJSON))
	}

	logger.Info("handler execution completed",
		"records_processed", len(sqsEvent.Records),
		"failures", len(response.BatchItemFailures),
	)
}
