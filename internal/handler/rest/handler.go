// Package rest exposes the HTTP surface: controller provisioning, device
// conversation and message endpoints, content-free log submission, and
// health. Device identity comes from the X-Device-ID header; controller
// identity from X-Controller-Key. Policy rejections carry the structured
// error body and neutral copy.
package rest

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/abiqua/relay-service/config"
	"github.com/abiqua/relay-service/internal/auth"
	"github.com/abiqua/relay-service/internal/domain/registry"
	"github.com/abiqua/relay-service/internal/observe"
	"github.com/abiqua/relay-service/internal/service"
)

const (
	HeaderDeviceID      = "X-Device-ID"
	HeaderControllerKey = "X-Controller-Key"
)

type Handler struct {
	logger   *slog.Logger
	cfg      *config.Config
	devices  registry.Identifier
	gate     auth.Gater
	keyring  *auth.Keyring
	convs    service.Conversationer
	relay    service.Relayer
	codec    *service.PayloadCodec
	revoker  service.Revoker
	rec      observe.Recorder
	validate *validator.Validate
}

func NewHandler(
	logger *slog.Logger,
	cfg *config.Config,
	devices registry.Identifier,
	gate auth.Gater,
	keyring *auth.Keyring,
	convs service.Conversationer,
	relay service.Relayer,
	codec *service.PayloadCodec,
	revoker service.Revoker,
	rec observe.Recorder,
) *Handler {
	return &Handler{
		logger:   logger,
		cfg:      cfg,
		devices:  devices,
		gate:     gate,
		keyring:  keyring,
		convs:    convs,
		relay:    relay,
		codec:    codec,
		revoker:  revoker,
		rec:      rec,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/device", func(r chi.Router) {
			r.Use(h.controllerAuth)
			r.Post("/provision", h.ProvisionDevice)
			r.Post("/provision/confirm", h.ConfirmProvisioning)
			r.Post("/revoke", h.RevokeDevice)
		})

		r.Post("/conversation/create", h.CreateConversation)
		r.Post("/conversation/join", h.JoinConversation)
		r.Post("/conversation/leave", h.LeaveConversation)
		r.Post("/conversation/close", h.CloseConversation)
		r.Get("/conversation/info", h.ConversationInfo)

		r.Post("/message/send", h.SendMessage)
		r.Get("/message/receive", h.ReceiveMessages)

		r.Post("/log/event", h.LogEvent)

		if h.cfg.Development() {
			r.Post("/dev/bootstrap", h.DevBootstrap)
		}
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// controllerAuth validates the controller key header for the provisioning
// surface.
func (h *Handler) controllerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.keyring.Validate(r.Header.Get(HeaderControllerKey)) {
			writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, MsgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// device authenticates a user endpoint: extracts the device header, applies
// the policy gate for the operation, and records a policy event on denial.
// Returns ("", false) after writing the error response when denied.
func (h *Handler) device(w http.ResponseWriter, r *http.Request, op auth.Operation) (string, bool) {
	deviceID := r.Header.Get(HeaderDeviceID)
	if deviceID == "" {
		writeError(w, r, http.StatusUnauthorized, CodeDeviceNotActive, MsgUnauthorized)
		return "", false
	}

	// First contact provisions the device automatically outside production.
	if h.cfg.Development() || h.cfg.DemoMode {
		h.devices.EnsureDevice(deviceID)
	}
	h.devices.Touch(deviceID)

	decision := h.gate.Authorize(deviceID, op)
	if !decision.Allow {
		msg := MsgUnauthorized
		if decision.Status == http.StatusForbidden {
			msg = MsgMessagingDisabled
		}
		h.rec.Record(r.Context(), &observe.Event{
			Type:    observe.EventPolicyEnforced,
			ActorID: deviceID,
			Data: map[string]any{
				"operation": int(op),
				"status":    decision.Status,
				"reason":    decision.Reason,
			},
		})
		writeError(w, r, decision.Status, decision.Reason, msg)
		return "", false
	}
	return deviceID, true
}

// conversationID pulls the mandatory query parameter shared by the
// conversation endpoints.
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("conversation_id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, CodeConversationIDRequired, MsgInvalidRequest)
		return "", false
	}
	return id, true
}

// DevBootstrap registers, provisions, and activates a device in one call.
// Development-only convenience; the route is not even mounted elsewhere.
func (h *Handler) DevBootstrap(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(HeaderDeviceID)
	if deviceID == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, MsgInvalidRequest)
		return
	}
	d := h.devices.EnsureDevice(deviceID)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "bootstrapped",
		"device_id": d.ID,
		"state":     string(d.State),
	})
}

// recordAudit emits a device lifecycle audit event.
func (h *Handler) recordAudit(ctx context.Context, t observe.EventType, actorID string, data map[string]any) {
	ev := &observe.Event{Type: t, ActorID: actorID, Data: data}
	h.rec.Record(ctx, ev)
}
