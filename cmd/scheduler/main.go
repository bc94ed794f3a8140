// Package main is the entrypoint for the Scheduler Lambda function.
//
// The Scheduler runs the timer-driven jobs behind EventBridge rules. The
// rule's input selects the job:
//
//	{"job": "trial_reminders"}  daily 10:00 UTC scan for trials ending
//	                            tomorrow; queues localized reminder mail
//	{"job": "maintenance"}      hourly sweep: OTP retention, OTP burst
//	                            guard, dedup marker retention
//
// In local mode (APP_ENV=local) the job event is read from stdin and the
// handler runs once.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"relaypoint/internal/config"
	"relaypoint/internal/queue"
	"relaypoint/internal/scheduler"
	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

// Job names accepted in the scheduled event payload.
const (
	jobTrialReminders = "trial_reminders"
	jobMaintenance    = "maintenance"
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

// JobEvent is the EventBridge rule input naming the job to run.
type JobEvent struct {
	Job string `json:"job"`
}

// trialRunner is the trial reminder job surface.
type trialRunner interface {
	Run(ctx context.Context) (int, error)
}

// maintenanceRunner is the maintenance sweep job surface.
type maintenanceRunner interface {
	Run(ctx context.Context) error
}

// Handler routes scheduled events to the matching job.
type Handler struct {
	trials      trialRunner
	maintenance maintenanceRunner
	logger      types.Logger
}

// Handle runs the job the event names. An unknown job is an error so a
// misconfigured EventBridge rule surfaces in the dead letter queue instead
// of silently doing nothing.
func (h *Handler) Handle(ctx context.Context, event JobEvent) error {
	switch event.Job {
	case jobTrialReminders:
		queued, err := h.trials.Run(ctx)
		if err != nil {
			return fmt.Errorf("trial reminder scan: %w", err)
		}
		h.logger.Info("trial reminder job finished", "queued", queued)
		return nil

	case jobMaintenance:
		if err := h.maintenance.Run(ctx); err != nil {
			return fmt.Errorf("maintenance sweep: %w", err)
		}
		h.logger.Info("maintenance job finished")
		return nil

	default:
		return fmt.Errorf("unknown scheduled job %q", event.Job)
	}
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
	logger.Info("scheduler initializing (cold start)")

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

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	subscriptionRepo := store.NewSubscriptionRepository(pool)
	markerRepo := store.NewMarkerRepository(pool)
	userRepo := store.NewUserRepository(pool)
	requestRepo := store.NewRequestRepository(pool)
	intakeRepo := store.NewIntakeRepository(pool)
	auditRepo := store.NewAuditRepository(pool)
	publisher := queue.NewPublisher(sqsClient, cfg.AWS, typedLogger)

	clock := types.RealClock{}

	trials := scheduler.NewTrialReminderService(
		subscriptionRepo,
		markerRepo,
		userRepo,
		requestRepo,
		publisher,
		clock,
		typedLogger,
	)

	maintenance := scheduler.NewMaintenanceService(
		intakeRepo,
		markerRepo,
		auditRepo,
		cfg.Limits.OTPBurstCap,
		clock,
		typedLogger,
	)

	handler := &Handler{
		trials:      trials,
		maintenance: maintenance,
		logger:      typedLogger,
	}

	logger.Info("scheduler initialized",
		"environment", cfg.Environment,
		"otp_burst_cap", cfg.Limits.OTPBurstCap,
	)

	if cfg.Environment == "local" {
		runLocal(handler, logger)
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal executes the handler once against a job event read from stdin.
// Usage: echo '{"job":"maintenance"}' | go run cmd/scheduler/main.go
func runLocal(handler *Handler, logger *slog.Logger) {
	logger.Info("APP_ENV=local: reading job event from stdin")

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		logger.Error("failed to read stdin", "error", err)
		os.Exit(1)
	}
	if len(payload) == 0 {
		logger.Error("no input received on stdin")
		os.Exit(1)
	}

	var event JobEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error("failed to parse stdin as job event", "error", err)
		os.Exit(1)
	}

	if err := handler.Handle(context.Background(), event); err != nil {
		logger.Error("job failed", "job", event.Job, "error", err)
		os.Exit(1)
	}

	logger.Info("job completed", "job", event.Job)
}
