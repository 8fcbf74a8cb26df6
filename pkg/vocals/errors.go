package vocals

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
)

// Error codes as constants
const (
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeProtocol         = "PROTOCOL_ERROR"
	ErrCodeCapture          = "CAPTURE_ERROR"
	ErrCodeQuotaExhausted   = "QUOTA_EXHAUSTED"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeTokenExpired     = "TOKEN_EXPIRED"
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeConfigInvalid    = "CONFIG_INVALID"
	ErrCodeSessionState     = "SESSION_STATE"
	ErrCodeJSONParse        = "JSON_PARSE_ERROR"
	ErrCodeUnknown          = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. Any *VocalsError with the same code matches.
var (
	ErrConnection     = &VocalsError{Code: ErrCodeConnectionFailed, Message: "connection failed"}
	ErrProtocol       = &VocalsError{Code: ErrCodeProtocol, Message: "stream ended with non-ok status"}
	ErrCapture        = &VocalsError{Code: ErrCodeCapture, Message: "capture device failed"}
	ErrQuotaExhausted = &VocalsError{Code: ErrCodeQuotaExhausted, Message: "quota exhausted before completion"}
	ErrTimeout        = &VocalsError{Code: ErrCodeTimeout, Message: "session deadline exceeded"}
)

// VocalsError is a coded SDK error.
type VocalsError struct {
	Message   string
	Code      string
	Timestamp float64
	Details   map[string]interface{}
	err       error
}

func NewVocalsError(message, code string) *VocalsError {
	return &VocalsError{
		Message:   message,
		Code:      code,
		Timestamp: float64(time.Now().UnixMilli()),
	}
}

func (e *VocalsError) Error() string {
	if e.err != nil && e.Message == "" {
		return e.err.Error()
	}
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *VocalsError) Unwrap() error {
	return e.err
}

// Is matches on code so callers can test against the package sentinels.
func (e *VocalsError) Is(target error) bool {
	var t *VocalsError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// AddDetail attaches a key/value to the error.
func (e *VocalsError) AddDetail(key string, value interface{}) *VocalsError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *VocalsError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// Specific error creators with common codes
func NewConnectionError(message string, cause error) *VocalsError {
	e := NewVocalsError(message, ErrCodeConnectionFailed)
	e.err = cause
	return e
}

// NewProtocolError reports a non-ok final status.
func NewProtocolError(outcome *Outcome) *VocalsError {
	return NewVocalsError(outcome.Message, ErrCodeProtocol).
		AddDetail("status_code", int(outcome.Code)).
		AddDetail("status", outcome.Code.String())
}

// NewCaptureError wraps a local device failure. deviceCode and
// description come from the audio/video backend.
func NewCaptureError(message string, deviceCode int, description string, cause error) *VocalsError {
	e := NewVocalsError(message, ErrCodeCapture).
		AddDetail("device_code", deviceCode).
		AddDetail("device_description", description)
	e.err = cause
	return e
}

func NewQuotaExhaustedError(chunks int) *VocalsError {
	return NewVocalsError("quota reached without a terminal response", ErrCodeQuotaExhausted).
		AddDetail("chunks", chunks)
}

func NewTimeoutError(message string, cause error) *VocalsError {
	e := NewVocalsError(message, ErrCodeTimeout)
	e.err = cause
	return e
}

func NewTokenError(message string, cause error) *VocalsError {
	e := NewVocalsError(message, ErrCodeTokenExpired)
	e.err = cause
	return e
}

func NewAuthError(message string) *VocalsError {
	return NewVocalsError(message, ErrCodeAuthFailed)
}

func NewConfigError(message string) *VocalsError {
	return NewVocalsError(message, ErrCodeConfigInvalid)
}

func NewJSONError(message string) *VocalsError {
	return NewVocalsError(message, ErrCodeJSONParse)
}

// WrapError wraps any error as a VocalsError with the given code.
func WrapError(err error, code string) *VocalsError {
	if err == nil {
		return nil
	}
	var vErr *VocalsError
	if errors.As(err, &vErr) {
		return vErr
	}
	e := NewVocalsError(err.Error(), code)
	e.err = err
	return e
}

// IsErrorCode checks whether err is a VocalsError with the given code.
func IsErrorCode(err error, code string) bool {
	var vErr *VocalsError
	if !errors.As(err, &vErr) {
		return false
	}
	return vErr.Code == code
}

// IsRetryableError reports errors a caller may reasonably retry. The SDK
// itself never retries a streaming session.
func IsRetryableError(err error) bool {
	var vErr *VocalsError
	if !errors.As(err, &vErr) {
		return false
	}
	switch vErr.Code {
	case ErrCodeConnectionFailed, ErrCodeTimeout:
		return true
	case ErrCodeProtocol:
		code, _ := vErr.GetDetail("status_code")
		c, ok := code.(int)
		return ok && (codes.Code(c) == codes.Unavailable || codes.Code(c) == codes.ResourceExhausted)
	}
	return false
}

// IsCriticalError reports errors that need operator action.
func IsCriticalError(err error) bool {
	var vErr *VocalsError
	if !errors.As(err, &vErr) {
		return false
	}
	switch vErr.Code {
	case ErrCodeAuthFailed, ErrCodeTokenExpired, ErrCodeConfigInvalid:
		return true
	}
	return false
}

// FailureLine renders the user-visible failure line printed by the CLI.
func FailureLine(err error) string {
	var vErr *VocalsError
	if !errors.As(err, &vErr) {
		return fmt.Sprintf("failed with (%s): %v", ErrCodeUnknown, err)
	}
	code := vErr.Code
	if status, ok := vErr.GetDetail("status_code"); ok {
		code = fmt.Sprintf("%v", status)
	}
	line := fmt.Sprintf("failed with (%s): %s", code, vErr.Message)
	if vErr.Code == ErrCodeCapture {
		devCode, _ := vErr.GetDetail("device_code")
		desc, _ := vErr.GetDetail("device_description")
		line += fmt.Sprintf("\ndevice error %v: %v", devCode, desc)
	}
	return line
}
