package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Validator checks raw inbound frames against the protocol contract.
// Validation is pure: no I/O, no side effects, stable check order.
type Validator struct {
	maxPayloadBytes int
}

// NewValidator returns a validator with the configured payload size limit.
func NewValidator(maxPayloadBytes int) *Validator {
	return &Validator{maxPayloadBytes: maxPayloadBytes}
}

// Validate parses and structurally validates a raw frame. Checks run in
// contract order: well-formed JSON, required fields present, field shapes,
// registered event type, payload size. The first failing check wins.
func (v *Validator) Validate(raw []byte) (Envelope, *WireError) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Envelope{}, NewError(CodeMalformed)
	}

	for _, name := range []string{"trace_id", "type", "timestamp"} {
		if _, ok := fields[name]; !ok {
			return Envelope{}, FieldError(CodeFieldMissing, name)
		}
	}

	var traceID string
	if err := json.Unmarshal(fields["trace_id"], &traceID); err != nil {
		return Envelope{}, FieldError(CodeFieldTypeMismatch, "trace_id")
	}
	if _, err := uuid.Parse(traceID); err != nil {
		return Envelope{}, FieldError(CodeFieldTypeMismatch, "trace_id")
	}

	var eventType string
	if err := json.Unmarshal(fields["type"], &eventType); err != nil {
		return Envelope{}, FieldError(CodeFieldTypeMismatch, "type")
	}

	var tsStr string
	if err := json.Unmarshal(fields["timestamp"], &tsStr); err != nil {
		return Envelope{}, FieldError(CodeFieldTypeMismatch, "timestamp")
	}
	ts, err := parseWireTime(tsStr)
	if err != nil {
		return Envelope{}, FieldError(CodeFieldTypeMismatch, "timestamp")
	}

	payload, werr := objectField(fields, "payload")
	if werr != nil {
		return Envelope{}, werr
	}
	meta, werr := objectField(fields, "meta")
	if werr != nil {
		return Envelope{}, werr
	}

	if !IsRegistered(eventType) {
		return Envelope{}, NewError(CodeUnknownType)
	}

	if v.maxPayloadBytes > 0 && len(payload) > v.maxPayloadBytes {
		return Envelope{}, NewError(CodePayloadTooLarge)
	}

	return Envelope{
		TraceID:   traceID,
		Type:      eventType,
		Timestamp: ts.UTC(),
		Payload:   payload,
		Meta:      meta,
	}, nil
}

// objectField extracts an optional field that, when present, must be a JSON
// object (null is treated as absent).
func objectField(fields map[string]json.RawMessage, name string) (json.RawMessage, *WireError) {
	raw, ok := fields[name]
	if !ok {
		return nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, FieldError(CodeFieldTypeMismatch, name)
	}
	if obj == nil {
		return nil, nil
	}
	return raw, nil
}

// parseWireTime accepts the canonical millisecond layout plus the common
// RFC 3339 variants clients actually send.
func parseWireTime(s string) (time.Time, error) {
	for _, layout := range []string{WireTimeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	_, err := time.Parse(time.RFC3339, s)
	return time.Time{}, err
}
