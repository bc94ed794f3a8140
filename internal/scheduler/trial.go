// Package scheduler implements the timer-driven jobs: the daily trial-ending
// reminder scan and the hourly maintenance sweep over the public-intake
// collections.
package scheduler

import (
	"context"
	"errors"
	"time"

	"relaypoint/internal/locale"
	"relaypoint/internal/templates"
	"relaypoint/internal/types"
)

// TrialSubscriptionStore lists trials about to end. Satisfied by
// *store.SubscriptionRepository.
type TrialSubscriptionStore interface {
	ListTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]*types.Subscription, error)
}

// ReminderMarkerStore provides the one-reminder-per-day guarantee. Markers
// are keyed (user, product, date). Satisfied by *store.MarkerRepository.
type ReminderMarkerStore interface {
	ReminderMarkerExists(ctx context.Context, userID, productID string, day time.Time) (bool, error)
	CreateReminderMarker(ctx context.Context, userID, productID string, day, processedAt time.Time) error
}

// UserStore looks up the user behind a trial subscription.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// RequestBatchWriter persists the reminder requests in chunked batches.
// Satisfied by *store.RequestRepository.
type RequestBatchWriter interface {
	CreateBatch(ctx context.Context, reqs []*types.NotificationRequest) error
}

// RequestPublisher enqueues a persisted request for dispatch.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *types.NotificationRequest, reason string) error
}

// TrialReminderService runs the daily 10:00 UTC scan for trials ending
// tomorrow and queues one localized trial_ending mail per (user, product,
// day). Reminder markers make re-runs of the same day idempotent.
type TrialReminderService struct {
	subs      TrialSubscriptionStore
	markers   ReminderMarkerStore
	users     UserStore
	requests  RequestBatchWriter
	publisher RequestPublisher
	clock     types.Clock
	logger    types.Logger
}

// NewTrialReminderService creates a TrialReminderService.
func NewTrialReminderService(
	subs TrialSubscriptionStore,
	markers ReminderMarkerStore,
	users UserStore,
	requests RequestBatchWriter,
	publisher RequestPublisher,
	clock types.Clock,
	logger types.Logger,
) *TrialReminderService {
	return &TrialReminderService{
		subs:      subs,
		markers:   markers,
		users:     users,
		requests:  requests,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// reminderCandidate pairs a built request with its marker key.
type reminderCandidate struct {
	req       *types.NotificationRequest
	userID    string
	productID string
}

// Run scans for trials ending tomorrow (UTC calendar day) and queues their
// reminders. Per-subscription problems are logged and skipped so one bad
// record never blocks the day's scan.
func (s *TrialReminderService) Run(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	dayAfter := tomorrow.AddDate(0, 0, 1)

	trials, err := s.subs.ListTrialsEndingBetween(ctx, tomorrow, dayAfter)
	if err != nil {
		return 0, err
	}
	if len(trials) == 0 {
		s.logger.Info("no trials ending tomorrow")
		return 0, nil
	}

	candidates := make([]reminderCandidate, 0, len(trials))
	for _, sub := range trials {
		exists, err := s.markers.ReminderMarkerExists(ctx, sub.UserID, sub.ProductID, tomorrow)
		if err != nil {
			s.logger.Error("reminder marker check failed", "user_id", sub.UserID, "error", err.Error())
			continue
		}
		if exists {
			continue
		}

		user, err := s.users.GetByID(ctx, sub.UserID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
				s.logger.Warn("trial subscription has no user record", "user_id", sub.UserID)
			} else {
				s.logger.Error("user lookup failed", "user_id", sub.UserID, "error", err.Error())
			}
			continue
		}

		candidates = append(candidates, reminderCandidate{
			req:       s.buildReminder(user, sub),
			userID:    sub.UserID,
			productID: sub.ProductID,
		})
	}

	if len(candidates) == 0 {
		s.logger.Info("all ending trials already reminded", "trials", len(trials))
		return 0, nil
	}

	reqs := make([]*types.NotificationRequest, len(candidates))
	for i, c := range candidates {
		reqs[i] = c.req
	}
	if err := s.requests.CreateBatch(ctx, reqs); err != nil {
		return 0, err
	}

	queued := 0
	for _, c := range candidates {
		if err := s.publisher.PublishRequest(ctx, c.req, "trial_reminder"); err != nil {
			s.logger.Error("failed to enqueue trial reminder",
				"request_id", c.req.ID,
				"user_id", c.userID,
				"error", err.Error(),
			)
			continue
		}
		if err := s.markers.CreateReminderMarker(ctx, c.userID, c.productID, tomorrow, s.clock.Now()); err != nil {
			s.logger.Error("failed to write reminder marker",
				"user_id", c.userID,
				"product_id", c.productID,
				"error", err.Error(),
			)
		}
		queued++
	}

	s.logger.Info("trial reminder scan complete",
		"trials", len(trials),
		"queued", queued,
	)
	return queued, nil
}

// buildReminder assembles the localized trial_ending mail request.
func (s *TrialReminderService) buildReminder(user *types.User, sub *types.Subscription) *types.NotificationRequest {
	lang := locale.Resolve(user.PreferredLanguage)
	return &types.NotificationRequest{
		Kind:         types.KindTrialEnding,
		Channel:      types.ChannelEmail,
		Recipient:    types.RecipientSpec{To: user.Email},
		LanguageHint: user.PreferredLanguage,
		UserID:       user.ID,
		Data: map[string]string{
			"userName":   user.Name,
			"planName":   templates.PlanName(sub.ProductID, lang),
			"expiryDate": templates.FormatDate(sub.ExpiresAt, lang),
		},
	}
}
