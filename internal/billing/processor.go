// Package billing reacts to verified subscription billing events: it keeps
// the subscriptions table current and queues the localized lifecycle mail
// (subscription started, expired, payment failed, plan changed).
package billing

import (
	"context"
	"errors"

	"relaypoint/internal/locale"
	"relaypoint/internal/templates"
	"relaypoint/internal/types"
)

// UserStore looks up the app user a billing event belongs to.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// SubscriptionStore maintains the per-user subscription record.
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *types.Subscription) error
	MarkExpired(ctx context.Context, userID string) error
}

// RequestCreator persists the derived mail request.
type RequestCreator interface {
	Create(ctx context.Context, req *types.NotificationRequest) error
}

// RequestPublisher enqueues the derived mail request for dispatch.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *types.NotificationRequest, reason string) error
}

// Processor turns one billing event into subscription state and a mail
// request. Terminal conditions (unknown type, unknown user) are logged and
// skipped; transient store or queue failures return an error so the message
// is redelivered. The dispatch governor's event-ID dedup absorbs redelivery.
type Processor struct {
	users     UserStore
	subs      SubscriptionStore
	requests  RequestCreator
	publisher RequestPublisher
	logger    types.Logger
}

// NewProcessor creates a billing event Processor.
func NewProcessor(users UserStore, subs SubscriptionStore, requests RequestCreator, publisher RequestPublisher, logger types.Logger) *Processor {
	return &Processor{
		users:     users,
		subs:      subs,
		requests:  requests,
		publisher: publisher,
		logger:    logger,
	}
}

// kindForEvent maps billing event types to notification kinds.
func kindForEvent(eventType string) (types.NotificationKind, bool) {
	switch eventType {
	case types.BillingInitialPurchase:
		return types.KindSubscriptionStarted, true
	case types.BillingExpiration:
		return types.KindSubscriptionExpired, true
	case types.BillingIssue:
		return types.KindPaymentFailed, true
	case types.BillingProductChange:
		return types.KindPlanChanged, true
	default:
		return "", false
	}
}

// Process handles one billing event end to end.
func (p *Processor) Process(ctx context.Context, event *types.BillingEvent) error {
	kind, ok := kindForEvent(event.Type)
	if !ok {
		p.logger.Info("skipping unhandled billing event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	if event.AppUserID == "" {
		p.logger.Warn("billing event carries no app user, skipping",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		return nil
	}

	user, err := p.users.GetByID(ctx, event.AppUserID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundUser {
			p.logger.Warn("billing event for unknown user, skipping",
				"event_id", event.ID,
				"user_id", event.AppUserID,
			)
			return nil
		}
		return err
	}

	if err := p.applySubscriptionState(ctx, event); err != nil {
		return err
	}

	lang := locale.Resolve(user.PreferredLanguage)
	req := &types.NotificationRequest{
		Kind:         kind,
		Channel:      types.ChannelEmail,
		Recipient:    types.RecipientSpec{To: user.Email},
		LanguageHint: user.PreferredLanguage,
		UserID:       user.ID,
		EventID:      event.ID,
		Data:         p.mailData(kind, event, user, lang),
	}

	if err := p.requests.Create(ctx, req); err != nil {
		return err
	}
	if err := p.publisher.PublishRequest(ctx, req, "billing_event"); err != nil {
		return err
	}

	p.logger.Info("billing event processed",
		"event_id", event.ID,
		"event_type", event.Type,
		"kind", string(kind),
		"request_id", req.ID,
	)
	return nil
}

// applySubscriptionState mirrors the billing event onto the subscriptions
// table. Payment issues leave the record untouched; the subscription is
// still live until an expiration event arrives.
func (p *Processor) applySubscriptionState(ctx context.Context, event *types.BillingEvent) error {
	switch event.Type {
	case types.BillingInitialPurchase:
		period := types.PeriodNormal
		if event.PeriodType == types.PeriodTrial {
			period = types.PeriodTrial
		}
		return p.subs.Upsert(ctx, &types.Subscription{
			UserID:     event.AppUserID,
			ProductID:  event.ProductID,
			Status:     types.SubscriptionActive,
			PeriodType: period,
			ExpiresAt:  event.ExpirationAt,
		})
	case types.BillingProductChange:
		productID := event.NewProductID
		if productID == "" {
			productID = event.ProductID
		}
		return p.subs.Upsert(ctx, &types.Subscription{
			UserID:     event.AppUserID,
			ProductID:  productID,
			Status:     types.SubscriptionActive,
			PeriodType: types.PeriodNormal,
			ExpiresAt:  event.ExpirationAt,
		})
	case types.BillingExpiration:
		return p.subs.MarkExpired(ctx, event.AppUserID)
	default:
		return nil
	}
}

// mailData assembles the kind-specific template payload with localized plan
// names and dates.
func (p *Processor) mailData(kind types.NotificationKind, event *types.BillingEvent, user *types.User, lang locale.Language) map[string]string {
	data := map[string]string{
		"userName": user.Name,
		"planName": templates.PlanName(event.ProductID, lang),
	}

	switch kind {
	case types.KindSubscriptionStarted:
		data["expiryDate"] = templates.FormatDate(event.ExpirationAt, lang)
		if event.PeriodType == types.PeriodTrial {
			data["isTrial"] = "true"
		}
	case types.KindPlanChanged:
		data["oldPlan"] = templates.PlanName(event.ProductID, lang)
		data["newPlan"] = templates.PlanName(event.NewProductID, lang)
		if !event.ExpirationAt.IsZero() {
			data["effectiveDate"] = templates.FormatDate(event.ExpirationAt, lang)
		}
	}

	return data
}
