package dispatch

import (
	"context"
	"time"

	"relaypoint/internal/governor"
	"relaypoint/internal/types"
)

// RequestFinalizer is the persistence surface the recorder needs to settle a
// request. Satisfied by *store.RequestRepository.
type RequestFinalizer interface {
	MarkSent(ctx context.Context, id, messageID string, successCount, failureCount int, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string, failureCount int, at time.Time) error
	MarkError(ctx context.Context, id, reason string, at time.Time) error
	MarkCancelled(ctx context.Context, id, reason string, at time.Time) error
	RecordOutcome(ctx context.Context, o *types.DeliveryOutcome) error
}

// MarkerWriter persists dedup markers. Satisfied by *store.MarkerRepository.
type MarkerWriter interface {
	CreateMarker(ctx context.Context, m types.DedupMarker) error
}

// Recorder settles dispatch attempts: it writes the delivery outcome, moves
// the request to its terminal status, persists the dedup marker (success
// only, and only with the governor's token), and emits metrics.
//
// Bookkeeping failures after a confirmed send are logged, not returned: the
// notification went out, and failing the handler would cause a duplicate on
// redelivery.
type Recorder struct {
	requests RequestFinalizer
	markers  MarkerWriter
	metrics  Metrics
	clock    types.Clock
	logger   types.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(requests RequestFinalizer, markers MarkerWriter, metrics Metrics, clock types.Clock, logger types.Logger) *Recorder {
	return &Recorder{
		requests: requests,
		markers:  markers,
		metrics:  metrics,
		clock:    clock,
		logger:   logger,
	}
}

// Success settles a request where at least one recipient attempt succeeded.
// The dedup marker is written here, after the confirmed send, so a failure
// earlier in the pipeline leaves the event retryable.
func (r *Recorder) Success(ctx context.Context, req *types.NotificationRequest, token *governor.Token, outcome types.DeliveryOutcome, messageID string) {
	now := r.clock.Now()
	outcome.RequestID = req.ID
	outcome.Channel = req.Channel
	outcome.Timestamp = now

	if err := r.requests.RecordOutcome(ctx, &outcome); err != nil {
		r.logger.Error("failed to record delivery outcome", "request_id", req.ID, "error", err.Error())
	}

	if err := r.requests.MarkSent(ctx, req.ID, messageID, outcome.SuccessCount, outcome.FailureCount, now); err != nil {
		r.logger.Error("failed to mark request sent", "request_id", req.ID, "error", err.Error())
	}

	if token != nil {
		if err := r.markers.CreateMarker(ctx, token.Marker(now)); err != nil {
			r.logger.Error("failed to persist dedup marker", "request_id", req.ID, "error", err.Error())
		}
	}

	r.metrics.RecordDispatch(ctx, req.Channel, ResultSuccess)
	r.logger.Info("request dispatched",
		"request_id", req.ID,
		"kind", string(req.Kind),
		"success_count", outcome.SuccessCount,
		"failure_count", outcome.FailureCount,
	)
}

// Failed settles a request where every recipient attempt failed. No marker
// is written; the failure is deliverable-level, not bookkeeping.
func (r *Recorder) Failed(ctx context.Context, req *types.NotificationRequest, outcome types.DeliveryOutcome, reason string) {
	now := r.clock.Now()
	outcome.RequestID = req.ID
	outcome.Channel = req.Channel
	outcome.Timestamp = now

	if err := r.requests.RecordOutcome(ctx, &outcome); err != nil {
		r.logger.Error("failed to record delivery outcome", "request_id", req.ID, "error", err.Error())
	}

	if err := r.requests.MarkFailed(ctx, req.ID, reason, outcome.FailureCount, now); err != nil {
		r.logger.Error("failed to mark request failed", "request_id", req.ID, "error", err.Error())
	}

	r.metrics.RecordDispatch(ctx, req.Channel, ResultFailure)
	r.logger.Warn("request delivery failed",
		"request_id", req.ID,
		"kind", string(req.Kind),
		"reason", reason,
	)
}

// Cancelled settles a request rejected by the governor before any send.
func (r *Recorder) Cancelled(ctx context.Context, req *types.NotificationRequest, reason governor.RejectReason) {
	if err := r.requests.MarkCancelled(ctx, req.ID, string(reason), r.clock.Now()); err != nil {
		r.logger.Error("failed to mark request cancelled", "request_id", req.ID, "error", err.Error())
	}

	r.metrics.RecordDispatch(ctx, req.Channel, ResultCancelled)
	r.logger.Info("request cancelled",
		"request_id", req.ID,
		"kind", string(req.Kind),
		"reason", string(reason),
	)
}

// Errored settles a request that hit an unexpected failure before or during
// dispatch.
func (r *Recorder) Errored(ctx context.Context, req *types.NotificationRequest, cause error) {
	reason := "unexpected failure"
	if cause != nil {
		reason = cause.Error()
	}

	if err := r.requests.MarkError(ctx, req.ID, reason, r.clock.Now()); err != nil {
		r.logger.Error("failed to mark request errored", "request_id", req.ID, "error", err.Error())
	}

	r.metrics.RecordDispatch(ctx, req.Channel, ResultError)
	r.logger.Error("request processing error",
		"request_id", req.ID,
		"kind", string(req.Kind),
		"error", reason,
	)
}
