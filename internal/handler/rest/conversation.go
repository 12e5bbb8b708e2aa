package rest

import (
	"errors"
	"net/http"

	"github.com/abiqua/relay-service/internal/auth"
	"github.com/abiqua/relay-service/internal/service"
	"github.com/abiqua/relay-service/internal/store"
)

type createConversationRequest struct {
	Participants []string `json:"participants" validate:"required,min=1,max=50"`
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpCreateConversation)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, r, http.StatusBadRequest, CodeParticipantsRequired, MsgInvalidRequest)
		return
	}

	conv, err := h.convs.Create(r.Context(), deviceID, req.Participants)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"participants":    conv.Participants,
		"status":          "success",
	})
}

func (h *Handler) JoinConversation(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpJoinConversation)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.convs.Join(r.Context(), deviceID, convID)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"participants":    conv.Participants,
		"status":          "joined",
	})
}

func (h *Handler) LeaveConversation(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpLeaveConversation)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	_, closed, err := h.convs.Leave(r.Context(), deviceID, convID)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}

	resp := map[string]any{
		"conversation_id": convID,
		"status":          "left",
	}
	if closed {
		resp["conversation_closed"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpCloseConversation)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.convs.Close(r.Context(), deviceID, convID)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conv.ID,
		"state":           string(conv.State),
		"status":          "closed",
	})
}

func (h *Handler) ConversationInfo(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.device(w, r, auth.OpReadConversation)
	if !ok {
		return
	}
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	conv, err := h.convs.Info(r.Context(), deviceID, convID)
	if err != nil {
		h.conversationError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id":  conv.ID,
		"participants":     conv.Participants,
		"state":            string(conv.State),
		"created_at":       conv.CreatedAt,
		"last_activity_at": conv.LastActivityAt,
	})
}

// conversationError maps service and store results onto status codes and the
// canonical error codes. Anything unrecognised is a transient backend
// failure; the internal retry already happened.
func (h *Handler) conversationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrParticipantsRequired):
		writeError(w, r, http.StatusBadRequest, CodeParticipantsRequired, MsgInvalidRequest)
	case errors.Is(err, service.ErrGroupSizeExceeded), errors.Is(err, store.ErrFull):
		writeError(w, r, http.StatusBadRequest, CodeGroupSizeExceeded, MsgInvalidRequest)
	case errors.Is(err, service.ErrParticipantNotActive):
		writeError(w, r, http.StatusBadRequest, CodeDeviceNotActive, MsgInvalidRequest)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeConversationNotFound, MsgNotFound)
	case errors.Is(err, store.ErrNotActive), errors.Is(err, service.ErrConversationNotActive):
		writeError(w, r, http.StatusBadRequest, CodeConversationNotActive, MsgInvalidRequest)
	case errors.Is(err, store.ErrNotMember), errors.Is(err, service.ErrNotParticipant):
		writeError(w, r, http.StatusForbidden, CodeSenderNotParticipant, MsgForbidden)
	default:
		h.logger.Error("conversation operation failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, CodeBackendFailure, MsgBackendFailure)
	}
}
