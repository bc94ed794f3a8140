package scheduler

import (
	"context"
	"time"

	"relaypoint/internal/store"
	"relaypoint/internal/types"
)

// Retention and window constants for the hourly sweep.
const (
	// otpRetention is how long OTP request records live. Codes expire after
	// 10 minutes; an hour of slack covers clock skew and retries.
	otpRetention = time.Hour

	// burstWindow is the rolling window for the OTP burst sweep.
	burstWindow = time.Hour

	// reminderRetention bounds the date-scoped reminder marker table. Dedup
	// markers are append-only and never swept: a redelivered upstream event
	// must stay deduplicated no matter how late it arrives.
	reminderRetention = 30 * 24 * time.Hour
)

// IntakeStore is the maintenance view over the public-intake collections.
// Satisfied by *store.IntakeRepository.
type IntakeStore interface {
	DeleteOTPRequestsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListSourcesOverCap(ctx context.Context, collection string, since time.Time, cap int) ([]store.SourceCount, error)
	DeleteOverageFromSource(ctx context.Context, collection, source string, since time.Time, keep int) (int64, error)
}

// MarkerStore is the maintenance view over the reminder marker table.
// Satisfied by *store.MarkerRepository.
type MarkerStore interface {
	DeleteReminderMarkersBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SecurityLogger records burst-guard enforcement. Satisfied by
// *store.AuditRepository.
type SecurityLogger interface {
	LogSecurityEvent(ctx context.Context, eventType, identifier string, count int, action string) error
}

// MaintenanceService runs the hourly sweep: OTP retention, the OTP source
// burst guard, and reminder marker retention.
type MaintenanceService struct {
	intake      IntakeStore
	markers     MarkerStore
	security    SecurityLogger
	otpBurstCap int
	clock       types.Clock
	logger      types.Logger
}

// NewMaintenanceService creates a MaintenanceService with the configured OTP
// burst cap.
func NewMaintenanceService(
	intake IntakeStore,
	markers MarkerStore,
	security SecurityLogger,
	otpBurstCap int,
	clock types.Clock,
	logger types.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		intake:      intake,
		markers:     markers,
		security:    security,
		otpBurstCap: otpBurstCap,
		clock:       clock,
		logger:      logger,
	}
}

// Run executes every sweep. Each sweep fails independently; a failing one is
// logged and the rest still run, since partial progress is always preferable
// to none on a timer-driven job.
func (s *MaintenanceService) Run(ctx context.Context) error {
	now := s.clock.Now().UTC()

	if deleted, err := s.intake.DeleteOTPRequestsBefore(ctx, now.Add(-otpRetention)); err != nil {
		s.logger.Error("otp retention sweep failed", "error", err.Error())
	} else if deleted > 0 {
		s.logger.Info("stale otp requests deleted", "count", deleted)
	}

	s.sweepOTPBursts(ctx, now)

	if deleted, err := s.markers.DeleteReminderMarkersBefore(ctx, now.Add(-reminderRetention)); err != nil {
		s.logger.Error("reminder marker retention sweep failed", "error", err.Error())
	} else if deleted > 0 {
		s.logger.Info("expired reminder markers deleted", "count", deleted)
	}

	return nil
}

// sweepOTPBursts quarantines OTP records beyond the per-address hourly cap
// and writes a security log entry per offending address.
func (s *MaintenanceService) sweepOTPBursts(ctx context.Context, now time.Time) {
	since := now.Add(-burstWindow)

	sources, err := s.intake.ListSourcesOverCap(ctx, store.CollectionOTP, since, s.otpBurstCap)
	if err != nil {
		s.logger.Error("otp burst sweep failed", "error", err.Error())
		return
	}

	for _, sc := range sources {
		deleted, err := s.intake.DeleteOverageFromSource(ctx, store.CollectionOTP, sc.Source, since, s.otpBurstCap)
		if err != nil {
			s.logger.Error("failed to quarantine otp overage",
				"source", sc.Source,
				"error", err.Error(),
			)
			continue
		}

		s.logger.Warn("otp burst cap exceeded",
			"source", sc.Source,
			"count", sc.Count,
			"deleted", deleted,
		)
		if err := s.security.LogSecurityEvent(ctx, "otp_burst", sc.Source, sc.Count, "records_deleted"); err != nil {
			s.logger.Error("failed to log otp burst event", "source", sc.Source, "error", err.Error())
		}
	}
}
