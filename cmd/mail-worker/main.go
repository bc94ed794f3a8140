// Package main is the entrypoint for the Mail Worker Lambda function.
//
// The Mail Worker consumes notification requests from the mail SQS queue and
// processes them through the dispatch engine: governance (idempotency,
// cooldown, volume cap), template rendering, provider delivery, and terminal
// status recording. Each invocation receives a batch of SQS messages;
// messages that fail transiently are reported via partial batch responses so
// SQS redelivers only those.
//
// Cold start wiring:
//  1. Structured JSON logger.
//  2. Configuration from the environment (envconfig).
//  3. Database pool and repositories.
//  4. AWS clients (CloudWatch for dispatch metrics).
//  5. Mail and push providers (stubs when API keys are absent).
//  6. Governor, recorder, and dispatch engine.
//  7. lambda.Start, or a one-shot stdin run when APP_ENV=local.
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
// slog.Logger satisfies Info, Error, and Warn directly but With returns
// *slog.Logger, not types.Logger, so an adapter is necessary.
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

// mailProcessor is the engine surface this worker drives.
type mailProcessor interface {
	ProcessMail(ctx context.Context, req *types.NotificationRequest) error
}

// Handler holds the dependencies for the mail worker Lambda handler.
type Handler struct {
	engine  mailProcessor
	metrics dispatch.Metrics
	logger  types.Logger
}

// Handle processes an SQS event containing one or more notification
// requests. Each message is processed independently; transient failures are
// returned in batchItemFailures so SQS retries only those messages.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process mail request",
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
// The engine returns an error only for transient infrastructure failures;
// every deliverable outcome is settled through the recorder and ACKs here.
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
	logger.Info("processing mail request")

	start := time.Now()
	err := h.engine.ProcessMail(ctx, &req)
	if err != nil {
		return err
	}

	h.metrics.RecordLatency(ctx, types.ChannelEmail, time.Since(start))
	logger.Info("mail request settled", "elapsed_ms", time.Since(start).Milliseconds())
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
	logger.Info("mail worker initializing (cold start)")

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

	logger.Info("mail worker initialized",
		"environment", cfg.Environment,
		"mail_queue", cfg.AWS.MailQueue,
		"from_address", cfg.Mail.FromAddress,
	)

	// Local mode: read a JSON SQS event from stdin and run once instead of
	// starting the Lambda runtime.
	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal executes the handler once against an SQS event read from stdin.
// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run cmd/mail-worker/main.go
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
