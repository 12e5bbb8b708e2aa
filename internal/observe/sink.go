package observe

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// Sink consumes the event topic and fans records out to the log buffer, the
// audit buffer, and the metric counters.
type Sink struct {
	logs    *LogStore
	audit   *AuditStore
	metrics *Metrics
	logger  *slog.Logger
}

func NewSink(logs *LogStore, audit *AuditStore, metrics *Metrics, logger *slog.Logger) *Sink {
	return &Sink{logs: logs, audit: audit, metrics: metrics, logger: logger}
}

func (s *Sink) Handle(msg *message.Message) error {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		s.logger.Error("event decode failed", "msg_id", msg.UUID, "error", err)
		return nil // terminal: a poison record must not wedge the pipeline
	}

	if !KnownType(ev.Type) {
		s.logger.Warn("unknown event type dropped", "event_type", ev.Type, "msg_id", msg.UUID)
		return nil
	}

	// Producers validate before publishing, so a violation here is a
	// programming error. The router's recoverer logs the panic; the process
	// stays up.
	if err := ValidateContentFree(ev.Data); err != nil {
		panic("observe: content policy violation reached sink: " + err.Error())
	}

	s.logs.Append(&ev)
	if AuditType(ev.Type) {
		s.audit.Append(&ev)
	}

	switch ev.Type {
	case EventMessageAttempted:
		s.metrics.Increment(MetricMessagesAttempted)
	case EventDeliveryFailed:
		s.metrics.Increment(MetricFailedDeliveries)
	default:
		s.metrics.Increment(string(ev.Type))
	}
	return nil
}

func NewRouter(wmLogger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, wmLogger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(
		middleware.CorrelationID,
		middleware.Recoverer,
	)
	return router, nil
}

// RegisterHandlers binds the sink to the event topic.
func RegisterHandlers(router *message.Router, sub message.Subscriber, sink *Sink) {
	router.AddNoPublisherHandler(
		"relay-events-sink",
		TopicEvents,
		sub,
		sink.Handle,
	)
}
