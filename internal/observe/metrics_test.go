package observe

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiqua/relay-service/internal/domain/model"
)

func testMetrics() *Metrics {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMetrics(logger, prometheus.NewRegistry())
}

func TestMetricsWindowing(t *testing.T) {
	m := testMetrics()
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }

	m.Increment(MetricMessagesAttempted)
	m.Increment(MetricMessagesAttempted)
	assert.Equal(t, 2, m.Count(now, MetricMessagesAttempted))
	assert.Equal(t, map[string]int{MetricMessagesAttempted: 2}, m.CurrentWindow())

	// Counters reset at the hour boundary.
	now = now.Add(time.Hour)
	m.Increment(MetricMessagesAttempted)
	assert.Equal(t, 1, m.Count(now, MetricMessagesAttempted))

	// The earlier window keeps its value.
	assert.Equal(t, 2, m.Count(now.Add(-time.Hour), MetricMessagesAttempted))
}

func TestFailedDeliveryAlertThreshold(t *testing.T) {
	m := testMetrics()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return now }

	for range model.FailedDeliveryAlertThreshold - 1 {
		m.Increment(MetricFailedDeliveries)
	}
	assert.Empty(t, m.Alerts())

	m.Increment(MetricFailedDeliveries)
	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, MetricFailedDeliveries, alerts[0].Metric)
	assert.Equal(t, model.FailedDeliveryAlertThreshold, alerts[0].Count)

	// Every further failure in the same window alerts again.
	m.Increment(MetricFailedDeliveries)
	assert.Len(t, m.Alerts(), 2)

	// A fresh window starts from zero.
	now = now.Add(time.Hour)
	m.Increment(MetricFailedDeliveries)
	assert.Len(t, m.Alerts(), 2)
}

func TestLogStorePurge(t *testing.T) {
	s := NewLogStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Append(&Event{ID: "old", Timestamp: now.Add(-model.LogRetention - time.Hour)})
	s.Append(&Event{ID: "fresh", Timestamp: now.Add(-time.Hour)})
	require.Equal(t, 2, s.Len())

	removed := s.Purge(now)
	assert.Equal(t, 1, removed)

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "fresh", entries[0].ID)

	// Nothing more to purge.
	assert.Zero(t, s.Purge(now))
}

func TestAuditStoreAppendOnly(t *testing.T) {
	s := NewAuditStore()
	s.Append(&Event{ID: "a"})
	s.Append(&Event{ID: "b"})

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}
