package apperr

import (
	"errors"
	"fmt"
)

// Code identifies a failure class surfaced to the user.
type Code string

const (
	CodeValidation        Code = "VALIDATION"
	CodeBridgeUnavailable Code = "BRIDGE_UNAVAILABLE"
	CodePermissionDenied  Code = "PERMISSION_DENIED"
	CodeDeviceUnavailable Code = "DEVICE_UNAVAILABLE"
	CodeNoDesktopSource   Code = "NO_DESKTOP_SOURCE"
	CodeSaveCancelled     Code = "SAVE_CANCELLED"
	CodeRecorderFault     Code = "RECORDER_FAULT"
	CodeUploadFailed      Code = "UPLOAD_FAILED"
	CodeProcessingFailed  Code = "PROCESSING_FAILED"
	CodeWriteFailed       Code = "WRITE_FAILED"
	CodeBusy              Code = "BUSY"
	CodeNotCapturing      Code = "NOT_CAPTURING"
)

// Error is a coded error carrying a human-readable message.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error returns the message alone so it can be shown to the user verbatim.
func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair for logs and the API.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to cause. An empty message reuses the cause's text.
func Wrap(cause error, code Code, message string) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// CodeOf returns the first code found in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
