package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"relaypoint/internal/types"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)        {}
func (nopLogger) Error(string, ...any)       {}
func (nopLogger) Warn(string, ...any)        {}
func (l nopLogger) With(...any) types.Logger { return l }

type mockClock struct{ now time.Time }

func (c *mockClock) Now() time.Time { return c.now }

// --- Shared fakes ---

type fakeRequestCreator struct {
	created []*types.NotificationRequest
	err     error
}

func (f *fakeRequestCreator) Create(_ context.Context, req *types.NotificationRequest) error {
	if f.err != nil {
		return f.err
	}
	if req.ID == "" {
		req.ID = "req-test"
	}
	req.Status = types.StatusPending
	f.created = append(f.created, req)
	return nil
}

type fakePublisher struct {
	published []*types.NotificationRequest
	reasons   []string
	err       error
}

func (f *fakePublisher) PublishRequest(_ context.Context, req *types.NotificationRequest, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeBillingPublisher struct {
	events []*types.BillingEvent
	err    error
}

func (f *fakeBillingPublisher) PublishBillingEvent(_ context.Context, event *types.BillingEvent, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type auditEntry struct {
	actorUID string
	action   string
	target   string
	outcome  string
}

type fakeAudit struct {
	admin    []auditEntry
	security []auditEntry
}

func (f *fakeAudit) LogAdminAction(_ context.Context, actorUID, action, target, outcome string) error {
	f.admin = append(f.admin, auditEntry{actorUID, action, target, outcome})
	return nil
}

func (f *fakeAudit) LogSecurityEvent(_ context.Context, eventType, identifier string, count int, action string) error {
	f.security = append(f.security, auditEntry{actorUID: identifier, action: eventType, outcome: action})
	return nil
}

// --- Request helpers ---

// doJSON performs a JSON POST against a handler, optionally with an actor
// injected the way the auth middleware would.
func doJSON(handler http.HandlerFunc, target, body string, actor *types.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req = req.WithContext(types.WithActor(req.Context(), *actor))
	}

	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}
