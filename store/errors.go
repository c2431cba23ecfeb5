package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	ErrSearchFailed        = errors.New("search failed")
	ErrMissingVector       = errors.New("document has no vector")
	ErrUnsupportedDistance = errors.New("unsupported distance metric")
	ErrDimensionMismatch   = errors.New("collection dimension mismatch")
)

type OperationErrorCode string

const (
	OperationErrorValidationFailed OperationErrorCode = "validation_failed"
	OperationErrorEncodeFailed     OperationErrorCode = "encode_failed"
	OperationErrorDecodeFailed     OperationErrorCode = "decode_failed"
	OperationErrorTransportFailed  OperationErrorCode = "transport_failed"
	OperationErrorTimeout          OperationErrorCode = "timeout"
	OperationErrorQueryFailed      OperationErrorCode = "query_failed"
)

// OperationError describes a failed backend call.
type OperationError struct {
	Code       OperationErrorCode
	Operation  string
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("store %s: %s", e.Operation, e.Code)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (http %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func opErr(op string, code OperationErrorCode, message string, cause error) error {
	return &OperationError{Code: code, Operation: op, Message: message, Cause: cause}
}

// IsTransient reports whether retrying the failed call may succeed.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrMissingVector) || errors.Is(err, ErrUnsupportedDistance) || errors.Is(err, ErrDimensionMismatch) {
		return false
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		switch opErr.Code {
		case OperationErrorValidationFailed, OperationErrorEncodeFailed, OperationErrorDecodeFailed:
			return false
		case OperationErrorQueryFailed:
			return opErr.StatusCode == 0 || isRetryableHTTPStatus(opErr.StatusCode)
		}
	}
	return true
}

func isRetryableHTTPStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}
