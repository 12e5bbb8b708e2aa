package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/abiqua/relay-service/internal/auth"
	"github.com/abiqua/relay-service/internal/domain/model"
	"github.com/abiqua/relay-service/internal/service"
)

// sendRequest keeps payload raw so a non-string payload can be reported as
// its own error rather than a generic decode failure.
type sendRequest struct {
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
	Expiration     string          `json:"expiration"`
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpSendMessage)
	if !ok {
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return
	}
	if req.ConversationID == "" {
		writeError(w, r, http.StatusBadRequest, CodeConversationIDRequired, MsgInvalidRequest)
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, r, http.StatusBadRequest, CodePayloadRequired, MsgInvalidRequest)
		return
	}

	var payloadStr string
	if err := json.Unmarshal(req.Payload, &payloadStr); err != nil {
		writeError(w, r, http.StatusBadRequest, CodePayloadNotString, MsgInvalidRequest)
		return
	}
	if payloadStr == "" {
		writeError(w, r, http.StatusBadRequest, CodePayloadRequired, MsgInvalidRequest)
		return
	}

	payload, err := h.codec.Decode(payloadStr)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPayloadPlaintext):
			writeError(w, r, http.StatusBadRequest, CodePayloadPlaintextRejected, MsgInvalidRequest)
		case errors.Is(err, service.ErrPayloadEncoding):
			writeError(w, r, http.StatusBadRequest, CodePayloadEncodingInvalid, MsgInvalidRequest)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeBackendFailure, MsgSendRetry)
		}
		return
	}

	expiresAt, errCode := parseExpiration(req.Expiration)
	if errCode != "" {
		writeError(w, r, http.StatusBadRequest, errCode, MsgInvalidRequest)
		return
	}

	recipients, err := h.convs.Participants(r.Context(), req.ConversationID)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}
	participant := false
	for _, p := range recipients {
		if p == deviceID {
			participant = true
			break
		}
	}
	if !participant {
		writeError(w, r, http.StatusForbidden, CodeSenderNotParticipant, MsgForbidden)
		return
	}

	msg, err := h.relay.Relay(r.Context(), deviceID, req.ConversationID, payload, recipients, expiresAt)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPayloadTooLarge):
			writeError(w, r, http.StatusBadRequest, CodePayloadSizeExceeded, MsgInvalidRequest)
		case errors.Is(err, service.ErrExpirationNotFuture):
			writeError(w, r, http.StatusBadRequest, CodeExpirationNotFuture, MsgInvalidRequest)
		case errors.Is(err, service.ErrNoRecipients):
			writeError(w, r, http.StatusBadRequest, CodeNoRecipientsAvailable, MsgInvalidRequest)
		case errors.Is(err, service.ErrSenderInactive):
			writeError(w, r, http.StatusForbidden, CodeDeviceNotActive, MsgMessagingDisabled)
		case errors.Is(err, service.ErrTooManyRecipients):
			writeError(w, r, http.StatusBadRequest, CodeGroupSizeExceeded, MsgInvalidRequest)
		default:
			h.logger.Error("relay failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, CodeBackendFailure, MsgSendRetry)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message_id": msg.ID,
		"timestamp":  msg.CreatedAt,
		"status":     "queued",
	})
}

// parseExpiration validates the optional RFC 3339 expiration. Zero time with
// empty code means "use the default".
func parseExpiration(raw string) (time.Time, string) {
	if raw == "" {
		return time.Now().Add(model.DefaultMessageTTL), ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, CodeExpirationInvalidFormat
	}
	if !t.After(time.Now()) {
		return time.Time{}, CodeExpirationNotFuture
	}
	return t, ""
}

type receivedMessage struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Payload        string    `json:"payload"`
	SenderID       string    `json:"sender_id"`
	Expiration     time.Time `json:"expiration"`
}

// ReceiveMessages is the REST polling fallback: a single non-blocking scan of
// the pending map.
func (h *Handler) ReceiveMessages(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpReadConversation)
	if !ok {
		return
	}

	frames := h.relay.Poll(deviceID, r.URL.Query().Get("last_received_id"))
	messages := make([]receivedMessage, 0, len(frames))
	for _, f := range frames {
		messages = append(messages, receivedMessage{
			MessageID:      f.ID,
			ConversationID: f.ConversationID,
			Payload:        f.Payload,
			SenderID:       f.SenderID,
			Expiration:     f.Expiration,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
