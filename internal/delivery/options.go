package delivery

import (
	"time"

	"github.com/abiqua/relay-service/internal/domain/model"
)

type hubConfig struct {
	queueSize    int
	writeTimeout time.Duration
}

func defaultHubConfig() hubConfig {
	return hubConfig{
		queueSize:    4096,
		writeTimeout: 5 * time.Second,
	}
}

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithQueueSize sets the send-queue capacity, the backpressure threshold for
// outbound frames.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		h.config.queueSize = n
	}
}

// WithWriteTimeout bounds a single socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.config.writeTimeout = d
	}
}

// WriteTimeout exposes the configured socket write deadline for connector
// construction at the WS handler.
func (h *Hub) WriteTimeout() time.Duration { return h.config.writeTimeout }

type retryConfig struct {
	ackTimeout  time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	maxRetries  int
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		ackTimeout:  model.AckTimeout,
		backoffBase: model.RetryBackoffBase,
		backoffCap:  model.RetryBackoffCap,
		maxRetries:  model.MaxDeliveryRetries,
	}
}

// RetryOption configures the retry engine; tests shrink the timers.
type RetryOption func(*RetryEngine)

func WithAckTimeout(d time.Duration) RetryOption {
	return func(e *RetryEngine) {
		e.config.ackTimeout = d
	}
}

func WithBackoff(base, cap time.Duration) RetryOption {
	return func(e *RetryEngine) {
		e.config.backoffBase = base
		e.config.backoffCap = cap
	}
}

func WithMaxRetries(n int) RetryOption {
	return func(e *RetryEngine) {
		e.config.maxRetries = n
	}
}
