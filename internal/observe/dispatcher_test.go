package observe

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	topics   []string
	messages []*message.Message
}

func (p *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, msg)
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherFillsAndPublishes(t *testing.T) {
	pub := &capturePublisher{}
	d := NewDispatcher(pub, discard())

	d.Record(context.Background(), &Event{
		Type:    EventMessageAttempted,
		ActorID: "dev-1",
		Data:    map[string]any{"message_id": "m1"},
	})

	require.Len(t, pub.messages, 1)
	assert.Equal(t, TopicEvents, pub.topics[0])

	var ev Event
	require.NoError(t, json.Unmarshal(pub.messages[0].Payload, &ev))
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.Equal(t, ClassificationInternal, ev.Classification)
	assert.Equal(t, "dev-1", ev.ActorID)
}

func TestDispatcherPanicsOnViolation(t *testing.T) {
	d := NewDispatcher(&capturePublisher{}, discard())

	assert.Panics(t, func() {
		d.Record(context.Background(), &Event{Type: "bogus_type"})
	})
	assert.Panics(t, func() {
		d.Record(context.Background(), &Event{
			Type: EventMessageAttempted,
			Data: map[string]any{"payload": "smuggled"},
		})
	})

	// nil events are ignored, not a panic.
	assert.NotPanics(t, func() { d.Record(context.Background(), nil) })
}

func sinkFixture() (*Sink, *LogStore, *AuditStore, *Metrics) {
	logs := NewLogStore()
	audit := NewAuditStore()
	metrics := NewMetrics(discard(), prometheus.NewRegistry())
	return NewSink(logs, audit, metrics, discard()), logs, audit, metrics
}

func wireEvent(t *testing.T, ev *Event) *message.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return message.NewMessage("test-msg", data)
}

func TestSinkFansOut(t *testing.T) {
	sink, logs, audit, metrics := sinkFixture()

	require.NoError(t, sink.Handle(wireEvent(t, &Event{
		ID:   "e1",
		Type: EventMessageAttempted,
	})))
	require.NoError(t, sink.Handle(wireEvent(t, &Event{
		ID:   "e2",
		Type: EventDeviceRevoked,
	})))

	assert.Equal(t, 2, logs.Len())
	// Only audit-class types reach the audit trail.
	require.Len(t, audit.Entries(), 1)
	assert.Equal(t, "e2", audit.Entries()[0].ID)

	counters := metrics.CurrentWindow()
	assert.Equal(t, 1, counters[MetricMessagesAttempted])
	assert.Equal(t, 1, counters[string(EventDeviceRevoked)])
}

func TestSinkFailedDeliveryCounter(t *testing.T) {
	sink, _, _, metrics := sinkFixture()

	require.NoError(t, sink.Handle(wireEvent(t, &Event{Type: EventDeliveryFailed})))
	assert.Equal(t, 1, metrics.CurrentWindow()[MetricFailedDeliveries])
}

func TestSinkDropsPoisonAndUnknown(t *testing.T) {
	sink, logs, _, _ := sinkFixture()

	// Undecodable payloads are terminal, never retried.
	require.NoError(t, sink.Handle(message.NewMessage("bad", []byte("{not json"))))
	require.NoError(t, sink.Handle(wireEvent(t, &Event{Type: "martian_type"})))
	assert.Zero(t, logs.Len())
}

func TestSinkPanicsWhenViolationReachesIt(t *testing.T) {
	sink, _, _, _ := sinkFixture()

	assert.Panics(t, func() {
		_ = sink.Handle(wireEvent(t, &Event{
			Type: EventMessageAttempted,
			Data: map[string]any{"content": "smuggled"},
		}))
	})
}
