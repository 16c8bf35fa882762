package protocol

import "fmt"

// ErrorCode identifies a wire-level error condition.
type ErrorCode string

const (
	CodeMalformed          ErrorCode = "E001"
	CodeUnknownType        ErrorCode = "E002"
	CodeUnauthorizedTrace  ErrorCode = "E003"
	CodeExecutionFailed    ErrorCode = "E004"
	CodeStorageWriteFailed ErrorCode = "E005"
	CodeFieldMissing       ErrorCode = "E006"
	CodeFieldTypeMismatch  ErrorCode = "E007"
	CodePermissionDenied   ErrorCode = "E008"

	CodeAuthRequired    ErrorCode = "AUTH_REQUIRED"
	CodeTokenMissing    ErrorCode = "TOKEN_MISSING"
	CodeInvalidToken    ErrorCode = "INVALID_TOKEN"
	CodePayloadTooLarge ErrorCode = "PAYLOAD_TOO_LARGE"
)

var errorMessages = map[ErrorCode]string{
	CodeMalformed:          "Invalid JSON structure",
	CodeUnknownType:        "Unknown event type",
	CodeUnauthorizedTrace:  "Unauthorized trace_id",
	CodeExecutionFailed:    "Runtime execution failure",
	CodeStorageWriteFailed: "Database write failed",
	CodeFieldMissing:       "Required field missing",
	CodeFieldTypeMismatch:  "Field type mismatch",
	CodePermissionDenied:   "Permission denied",
	CodeAuthRequired:       "Authentication required",
	CodeTokenMissing:       "Token missing",
	CodeInvalidToken:       "Invalid or expired token",
	CodePayloadTooLarge:    "Payload exceeds size limit",
}

// WireError is a protocol-level error carrying the code reported to clients.
type WireError struct {
	Code   ErrorCode
	Field  string // populated for E006/E007, names the offending field
	Detail string
}

func (e *WireError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %q)", e.Code, e.Message(), e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message())
}

// Message returns the human-readable description for the error code.
func (e *WireError) Message() string {
	if m, ok := errorMessages[e.Code]; ok {
		return m
	}
	return "Unknown error"
}

// Retryable reports whether the client may safely retry the same message.
func (e *WireError) Retryable() bool {
	return e.Code == CodeExecutionFailed || e.Code == CodeStorageWriteFailed
}

// NewError builds a WireError for a bare code.
func NewError(code ErrorCode) *WireError {
	return &WireError{Code: code}
}

// FieldError builds a WireError that names the offending field.
func FieldError(code ErrorCode, field string) *WireError {
	return &WireError{Code: code, Field: field}
}
