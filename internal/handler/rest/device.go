package rest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
)

type provisionRequest struct {
	DeviceID  string `json:"device_id" validate:"required"`
	PublicKey string `json:"public_key" validate:"required"`
}

type confirmRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

type revokeRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
}

// ProvisionDevice creates a device record in the pending state.
func (h *Handler) ProvisionDevice(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.devices.Register(req.DeviceID, req.PublicKey, "")
	if err != nil {
		if errors.Is(err, registry.ErrExists) {
			writeError(w, r, http.StatusConflict, CodeDeviceExists, MsgInvalidRequest)
			return
		}
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return
	}

	h.recordAudit(r.Context(), observe.EventDeviceProvisioned, d.ID, map[string]any{
		"state":                d.State,
		"controller_operation": "provision",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "provisioned",
		"device_id": d.ID,
		"state":     string(d.State),
	})
}

// ConfirmProvisioning transitions pending → provisioned.
func (h *Handler) ConfirmProvisioning(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !h.decode(w, r, &req) {
		return
	}

	d, err := h.devices.Provision(req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			writeError(w, r, http.StatusNotFound, CodeDeviceNotFound, MsgNotFound)
		case errors.Is(err, registry.ErrBadState):
			writeError(w, r, http.StatusConflict, CodeDeviceBadState, MsgInvalidRequest)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeBackendFailure, MsgBackendFailure)
		}
		return
	}

	h.recordAudit(r.Context(), observe.EventDeviceProvisioned, d.ID, map[string]any{
		"state":                d.State,
		"controller_operation": "confirm_provisioning",
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "confirmed",
		"device_id": d.ID,
		"state":     string(d.State),
	})
}

// RevokeDevice revokes and cascades before responding; the impact counts are
// part of the response. Revoking twice succeeds with a no-op.
func (h *Handler) RevokeDevice(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !h.decode(w, r, &req) {
		return
	}

	impact, err := h.revoker.Revoke(r.Context(), req.DeviceID, "")
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			writeError(w, r, http.StatusNotFound, CodeDeviceNotFound, MsgNotFound)
		case errors.Is(err, registry.ErrBadState):
			writeError(w, r, http.StatusConflict, CodeDeviceBadState, MsgInvalidRequest)
		default:
			writeError(w, r, http.StatusInternalServerError, CodeBackendFailure, MsgBackendFailure)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":                 "revoked",
		"device_id":              req.DeviceID,
		"affected_conversations": impact.AffectedConversations,
		"conversations_closed":   impact.ConversationsClosed,
	})
}

// decode unmarshals and validates a JSON body, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return false
	}
	return true
}
