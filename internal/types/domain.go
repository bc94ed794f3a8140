// Package types defines the shared domain model for the RelayPoint
// notification backend: notification requests, audience targets, dedup
// markers, delivery outcomes, and the error/logging contracts used by every
// component.
package types

import (
	"time"
)

// Channel identifies the delivery channel for a notification request.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// NotificationKind enumerates the logical notification intents the dispatch
// engine understands. Each kind declares its own required payload fields,
// validated at ingress by the dispatch engine.
type NotificationKind string

const (
	KindOTP                  NotificationKind = "otp"
	KindWelcome              NotificationKind = "welcome"
	KindPasswordReset        NotificationKind = "password_reset"
	KindSubscriptionStarted  NotificationKind = "subscription_started"
	KindSubscriptionExpired  NotificationKind = "subscription_expired"
	KindPaymentFailed        NotificationKind = "payment_failed"
	KindPlanChanged          NotificationKind = "plan_changed"
	KindTrialEnding          NotificationKind = "trial_ending"
	KindWaitlistAnnouncement NotificationKind = "waitlist_announcement"
	KindWaitlistTest         NotificationKind = "waitlist_test"
	KindDeviceLogout         NotificationKind = "device_logout"
	KindGenericPush          NotificationKind = "generic_push"
)

// MailKinds is the allow-list of kinds the mail worker will process.
// Requests with any other kind are marked as errors, never silently dropped.
var MailKinds = map[NotificationKind]bool{
	KindOTP:                  true,
	KindWelcome:              true,
	KindPasswordReset:        true,
	KindSubscriptionStarted:  true,
	KindSubscriptionExpired:  true,
	KindPaymentFailed:        true,
	KindPlanChanged:          true,
	KindTrialEnding:          true,
	KindWaitlistAnnouncement: true,
	KindWaitlistTest:         true,
}

// RequestStatus is the lifecycle state of a NotificationRequest.
//
// State machine (owned exclusively by the dispatch engine):
//
//	pending -> sent      at least one recipient attempt succeeded
//	pending -> failed    all attempts made, zero succeeded (deliverable failure)
//	pending -> error     unexpected failure before/during dispatch
//	pending -> cancelled governor rejected before any send attempt
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusSent      RequestStatus = "sent"
	StatusFailed    RequestStatus = "failed"
	StatusCancelled RequestStatus = "cancelled"
	StatusError     RequestStatus = "error"
)

// Audience enumerates the broadcast targeting classes.
type Audience string

const (
	AudienceAll        Audience = "all"
	AudienceLanguage   Audience = "language"
	AudienceTier       Audience = "tier"
	AudiencePlatform   Audience = "platform"
	AudienceCustom     Audience = "custom"
	AudienceIndividual Audience = "individual"
)

// AudienceTarget declares who should receive a notification. Exactly one of
// the two shapes is valid: UserID set (individual) or the filter fields used
// (broadcast). Facet values outside the supported enumerations are filtered
// out permissively during resolution.
type AudienceTarget struct {
	Audience  Audience `json:"audience"`
	Languages []string `json:"languages,omitempty"`
	Tiers     []string `json:"tiers,omitempty"`
	Platforms []string `json:"platforms,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
}

// RecipientSpec addresses a notification request. Email requests carry a
// direct address; push requests carry an AudienceTarget.
type RecipientSpec struct {
	To     string          `json:"to,omitempty"`
	Target *AudienceTarget `json:"target,omitempty"`
}

// NotificationRequest is a logical notification with intent but, for
// broadcasts, no fixed recipient list. Created by an external trigger (write
// to a pending-records collection) or by an internal handler queuing a
// derived request. Status transitions are owned by the dispatch engine;
// terminal fields are owned by the outcome recorder.
type NotificationRequest struct {
	ID           string           `json:"id"`
	Kind         NotificationKind `json:"kind"`
	Channel      Channel          `json:"channel"`
	Recipient    RecipientSpec    `json:"recipient"`
	LanguageHint string           `json:"lang,omitempty"`

	// UserID associates the request with an app user where known
	// (cooldown and reminder-marker keys are derived from it).
	UserID string `json:"user_id,omitempty"`

	// EventID is the external upstream event that produced this request
	// (e.g. a billing webhook event ID). Used for idempotency.
	EventID string `json:"event_id,omitempty"`

	// Data carries kind-specific payload fields (userName, code, planName...).
	// Unknown extra keys pass through opaquely to the rendering step.
	Data map[string]string `json:"data,omitempty"`

	// Titles and Bodies hold localized push content keyed by language code.
	// Only used for push requests.
	Titles map[string]string `json:"titles,omitempty"`
	Bodies map[string]string `json:"bodies,omitempty"`

	// Subject and BodyHTML override template rendering when set. Waitlist
	// announcement mail arrives pre-rendered through these fields.
	Subject  string `json:"subject,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`

	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	CreatedBy string        `json:"created_by,omitempty"`

	// Terminal fields, written by the outcome recorder.
	SentAt       time.Time `json:"sent_at,omitempty"`
	ErrorAt      time.Time `json:"error_at,omitempty"`
	ErrorText    string    `json:"error,omitempty"`
	MessageID    string    `json:"message_id,omitempty"`
	SuccessCount int       `json:"success_count,omitempty"`
	FailureCount int       `json:"failure_count,omitempty"`
}

// DedupMarker prevents reprocessing of the same upstream event. At most one
// marker exists per EventID; markers are immutable and append-only, except
// date-scoped reminder markers which are keyed (user, product, date) for
// one-per-day semantics.
type DedupMarker struct {
	EventID      string           `json:"event_id"`
	Kind         NotificationKind `json:"kind"`
	RecipientKey string           `json:"recipient_key"`
	ProcessedAt  time.Time        `json:"processed_at"`
}

// DeliveryOutcome records the result of one dispatch attempt. Created once
// per attempt, read-only afterward.
type DeliveryOutcome struct {
	RequestID           string    `json:"request_id"`
	Channel             Channel   `json:"channel"`
	SuccessCount        int       `json:"success_count"`
	FailureCount        int       `json:"failure_count"`
	RecipientsAttempted int       `json:"recipients_attempted"`
	Selector            string    `json:"selector,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

// Device is a user's active push registration.
type Device struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// User is the store's view of an app user, limited to the fields the
// dispatch engine needs.
type User struct {
	ID                string  `json:"id"`
	Email             string  `json:"email"`
	Name              string  `json:"name"`
	PreferredLanguage string  `json:"preferred_language"`
	Role              string  `json:"role"`
	MarketingConsent  bool    `json:"marketing_consent"`
	ActiveDevice      *Device `json:"active_device,omitempty"`
}

// RoleAdmin marks users allowed to perform privileged callable actions.
const RoleAdmin = "admin"

// BillingEvent is a subscription-billing webhook event persisted to the
// event collection by the webhook source.
type BillingEvent struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AppUserID    string    `json:"app_user_id"`
	ProductID    string    `json:"product_id"`
	NewProductID string    `json:"new_product_id,omitempty"`
	PeriodType   string    `json:"period_type,omitempty"`
	ExpirationAt time.Time `json:"expiration_at,omitempty"`
	Environment  string    `json:"environment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Billing event types this system reacts to.
const (
	BillingInitialPurchase = "INITIAL_PURCHASE"
	BillingExpiration      = "EXPIRATION"
	BillingIssue           = "BILLING_ISSUE"
	BillingProductChange   = "PRODUCT_CHANGE"
)

// Subscription is the store's view of a user's billing subscription,
// maintained from billing events. The trial reminder scan reads it; the
// billing worker writes it.
type Subscription struct {
	UserID     string    `json:"user_id"`
	ProductID  string    `json:"product_id"`
	Status     string    `json:"status"`
	PeriodType string    `json:"period_type"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Subscription status and period values maintained by the billing worker.
const (
	SubscriptionActive  = "active"
	SubscriptionExpired = "expired"

	PeriodTrial  = "trial"
	PeriodNormal = "normal"
)

// WaitlistEntry is a public-intake signup record.
type WaitlistEntry struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// SendInput is the provider-agnostic mail transport payload.
type SendInput struct {
	From        string
	To          string
	Subject     string
	BodyHTML    string
	ReferenceID string
}

// PushTargetKind selects how a push message is addressed.
type PushTargetKind string

const (
	PushTargetToken     PushTargetKind = "token"
	PushTargetTopic     PushTargetKind = "topic"
	PushTargetCondition PushTargetKind = "condition"
)

// PushMessage is the provider-agnostic push transport payload. Exactly one
// of Token, Topic, or Condition is set according to TargetKind.
type PushMessage struct {
	TargetKind PushTargetKind
	Token      string
	Topic      string
	Condition  string

	Title string
	Body  string
	Data  map[string]string

	// Platform hints.
	AndroidChannelID string
	AndroidPriority  string
	APNSSound        string
	APNSBadge        int
}
