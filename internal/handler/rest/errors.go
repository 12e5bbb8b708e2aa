package rest

import (
	"encoding/json"
	"net/http"
)

// Canonical error_code values carried in the structured error body.
const (
	CodeConversationIDRequired   = "conversation_id_required"
	CodePayloadRequired          = "payload_required"
	CodePayloadNotString         = "payload_not_string"
	CodePayloadEncodingInvalid   = "payload_encoding_invalid"
	CodePayloadPlaintextRejected = "payload_plaintext_rejected"
	CodePayloadSizeExceeded      = "payload_size_exceeded"
	CodeConversationNotActive    = "conversation_not_active"
	CodeConversationNotFound     = "conversation_not_found"
	CodeNoRecipientsAvailable    = "no_recipients_available"
	CodeExpirationInvalidFormat  = "expiration_invalid_format"
	CodeExpirationNotFuture      = "expiration_not_future"
	CodeSenderNotParticipant     = "sender_not_participant"
	CodeDeviceNotActive          = "device_not_active"
	CodeParticipantsRequired     = "participants_required"
	CodeGroupSizeExceeded        = "group_size_exceeded"
	CodeEventTypeInvalid         = "event_type_invalid"
	CodeEventDataInvalid         = "event_data_invalid"
	CodeInvalidRequest           = "invalid_request"
	CodeUnauthorized             = "unauthorized"
	CodeDeviceExists             = "device_exists"
	CodeDeviceNotFound           = "device_not_found"
	CodeDeviceBadState           = "device_bad_state"
	CodeBackendFailure           = "backend_failure"
)

// Neutral user-facing copy. Messages come from this fixed set only; no
// internal detail ever leaks into a response body.
const (
	MsgUnauthorized      = "Unauthorized"
	MsgMessagingDisabled = "Messaging Disabled"
	MsgSendRetry         = "Unable to send messages; retry will occur automatically"
	MsgInvalidRequest    = "Invalid request"
	MsgBackendFailure    = "Backend failure"
	MsgNotFound          = "Not found"
	MsgForbidden         = "Forbidden"
)

type errorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorBody{
		ErrorCode: code,
		Message:   msg,
		RequestID: RequestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
