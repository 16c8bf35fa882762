package protocol

import (
	"encoding/json"
	"time"
)

// WireTimeFormat is the UTC millisecond-precision ISO 8601 layout used on
// the wire for the envelope timestamp.
const WireTimeFormat = "2006-01-02T15:04:05.000Z"

// Envelope is the validated wire unit. Values are immutable after
// validation; the runtime never mutates an envelope in place.
type Envelope struct {
	TraceID   string          `json:"trace_id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"-"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// wireEnvelope is the serialized form with the timestamp as a string.
type wireEnvelope struct {
	TraceID   string          `json:"trace_id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Meta      json.RawMessage `json:"meta,omitempty"`
}

// New builds an outbound envelope stamped with the current UTC time.
// The payload must marshal to a JSON object; callers pass structs or maps.
func New(traceID, eventType string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{
		TraceID:   traceID,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// MarshalJSON renders the envelope with the wire timestamp format.
func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		TraceID:   e.TraceID,
		Type:      e.Type,
		Timestamp: e.Timestamp.UTC().Format(WireTimeFormat),
		Payload:   e.Payload,
		Meta:      e.Meta,
	})
}

// Encode serializes the envelope for transmission.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ErrorPayload is the payload of an `error` event.
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorEnvelope builds the outbound `error` event for a wire error.
func NewErrorEnvelope(traceID string, werr *WireError) Envelope {
	details := werr.Detail
	if details == "" && werr.Field != "" {
		details = "field: " + werr.Field
	}
	env, _ := New(traceID, EventError, ErrorPayload{
		Code:    werr.Code,
		Message: werr.Message(),
		Details: details,
	})
	return env
}
