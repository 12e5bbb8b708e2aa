package observe

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/abiqua/relay-service/internal/domain/model"
)

const (
	MetricMessagesAttempted = "messages_attempted"
	MetricFailedDeliveries  = "failed_deliveries"
)

// Alert records one threshold crossing. Alerts are not deduplicated within a
// window: every triggering increment appends one.
type Alert struct {
	Metric string    `json:"metric"`
	Window time.Time `json:"window"`
	Count  int       `json:"count"`
	At     time.Time `json:"at"`
}

// Metrics keeps integer counters keyed by (hour-aligned window, name) and
// mirrors them into prometheus for scraping.
type Metrics struct {
	mu       sync.Mutex
	counters map[time.Time]map[string]int
	alerts   []Alert

	logger *slog.Logger
	clock  func() time.Time

	promEvents *prometheus.CounterVec
	promAlerts prometheus.Counter
}

func NewMetrics(logger *slog.Logger, reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		counters: make(map[time.Time]map[string]int),
		logger:   logger,
		clock:    time.Now,
		promEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_events_total",
			Help: "Observability events by metric name.",
		}, []string{"name"}),
		promAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_delivery_alerts_total",
			Help: "Failed-delivery threshold alerts emitted.",
		}),
	}
	reg.MustRegister(m.promEvents, m.promAlerts)
	return m
}

// Increment bumps the named counter in the current window and runs the
// threshold check.
func (m *Metrics) Increment(name string) {
	window := m.clock().UTC().Truncate(model.MetricsWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.counters[window] == nil {
		m.counters[window] = make(map[string]int)
	}
	m.counters[window][name]++
	m.promEvents.WithLabelValues(name).Inc()

	if name == MetricFailedDeliveries && m.counters[window][name] >= model.FailedDeliveryAlertThreshold {
		alert := Alert{
			Metric: name,
			Window: window,
			Count:  m.counters[window][name],
			At:     m.clock().UTC(),
		}
		m.alerts = append(m.alerts, alert)
		m.promAlerts.Inc()
		m.logger.Warn("failed-delivery threshold exceeded",
			"window", window,
			"count", alert.Count,
		)
	}
}

// Count returns the counter value for a window and name.
func (m *Metrics) Count(window time.Time, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[window.UTC().Truncate(model.MetricsWindow)][name]
}

// CurrentWindow snapshots the counters of the active window.
func (m *Metrics) CurrentWindow() map[string]int {
	window := m.clock().UTC().Truncate(model.MetricsWindow)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.counters[window]))
	for k, v := range m.counters[window] {
		out[k] = v
	}
	return out
}

func (m *Metrics) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
