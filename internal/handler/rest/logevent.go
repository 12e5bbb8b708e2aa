package rest

import (
	"net/http"

	"github.com/abiqua/relay-service/internal/auth"
	"github.com/abiqua/relay-service/internal/observe"
)

type logEventRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"event_data"`
}

// LogEvent accepts a client-submitted observability event. The event must be
// a known type and pass the content-free validation; anything else is
// rejected here so client input never reaches the dispatcher, whose own
// validation treats a violation as a programming error.
func (h *Handler) LogEvent(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpLogEvent)
	if !ok {
		return
	}

	var req logEventRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return
	}

	t := observe.EventType(req.EventType)
	if !observe.KnownType(t) {
		writeError(w, r, http.StatusBadRequest, CodeEventTypeInvalid, MsgInvalidRequest)
		return
	}
	if err := observe.ValidateContentFree(req.Data); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeEventDataInvalid, MsgInvalidRequest)
		return
	}

	h.rec.Record(r.Context(), &observe.Event{
		Type:    t,
		ActorID: deviceID,
		Data:    req.Data,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged"})
}
