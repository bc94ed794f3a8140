package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaypoint/internal/dispatch"
	"relaypoint/internal/types"
)

type scriptedEngine struct {
	failIDs   map[string]error
	processed []string
}

func (e *scriptedEngine) ProcessPush(_ context.Context, req *types.NotificationRequest) error {
	e.processed = append(e.processed, req.ID)
	return e.failIDs[req.ID]
}

type recordingMetrics struct {
	dispatch.NoopMetrics
	latencies []types.Channel
}

func (m *recordingMetrics) RecordLatency(_ context.Context, channel types.Channel, _ time.Duration) {
	m.latencies = append(m.latencies, channel)
}

func testHandler(engine pushProcessor) *Handler {
	return &Handler{
		engine:  engine,
		metrics: dispatch.NoopMetrics{},
		logger:  &slogAdapter{logger: slog.Default()},
	}
}

func pushRecord(t *testing.T, messageID, requestID string) events.SQSMessage {
	t.Helper()
	body, err := json.Marshal(&types.NotificationRequest{
		ID:      requestID,
		Kind:    types.KindGenericPush,
		Channel: types.ChannelPush,
	})
	require.NoError(t, err)
	return events.SQSMessage{MessageId: messageID, Body: string(body)}
}

func TestHandle_OnlyFailedMessagesReported(t *testing.T) {
	engine := &scriptedEngine{failIDs: map[string]error{
		"req-1": assert.AnError,
	}}
	h := testHandler(engine)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		pushRecord(t, "m1", "req-1"),
		pushRecord(t, "m2", "req-2"),
	}})
	require.NoError(t, err)

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "m1", resp.BatchItemFailures[0].ItemIdentifier)
	assert.Equal(t, []string{"req-1", "req-2"}, engine.processed)
}

func TestHandle_EmitsLatencyPerSettledRequest(t *testing.T) {
	engine := &scriptedEngine{failIDs: map[string]error{
		"req-1": assert.AnError,
	}}
	metrics := &recordingMetrics{}
	h := testHandler(engine)
	h.metrics = metrics

	_, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		pushRecord(t, "m1", "req-1"),
		pushRecord(t, "m2", "req-2"),
	}})
	require.NoError(t, err)

	assert.Equal(t, []types.Channel{types.ChannelPush}, metrics.latencies)
}

func TestHandle_MalformedBodyAcked(t *testing.T) {
	engine := &scriptedEngine{}
	h := testHandler(engine)

	resp, err := h.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "not json"},
	}})
	require.NoError(t, err)

	assert.Empty(t, resp.BatchItemFailures)
	assert.Empty(t, engine.processed)
}
