package observe

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// TopicEvents carries every observability record through the in-process bus.
const TopicEvents = "relay.events"

// Recorder is the high-level contract producers use to emit events. It keeps
// the services agnostic of the transport implementation.
type Recorder interface {
	Record(ctx context.Context, ev *Event)
}

// Interface guard
var _ Recorder = (*Dispatcher)(nil)

type Dispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

func NewDispatcher(publisher message.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Record validates and publishes one event. A content-schema violation here
// means our own code tried to log something it must not, so it panics rather
// than degrading silently.
func (d *Dispatcher) Record(ctx context.Context, ev *Event) {
	if ev == nil {
		return
	}
	if !KnownType(ev.Type) {
		panic("observe: unknown event type " + string(ev.Type))
	}
	if err := ValidateContentFree(ev.Data); err != nil {
		panic("observe: content policy violation: " + err.Error())
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Classification == "" {
		ev.Classification = ClassificationInternal
	}

	data, err := json.Marshal(ev)
	if err != nil {
		d.logger.Error("event marshal failed", "event_type", ev.Type, "error", err)
		return
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if err := d.publisher.Publish(TopicEvents, msg); err != nil {
		d.logger.Error("event publish failed", "event_type", ev.Type, "error", err)
	}
}
