// Package errors provides error code definitions for the offline sync core.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

// ErrorCode represents a unique error code surfaced to callers and the UI.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Admission errors. Raised synchronously from enqueue/updatePayload and
	// never retried automatically: the mutation truly cannot be queued.
	ErrPayloadTooLarge     ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrPayloadBinary       ErrorCode = "PAYLOAD_BINARY_CONTENT"
	ErrQueueBudgetExceeded ErrorCode = "QUEUE_BUDGET_EXCEEDED"
	ErrStorageWrite        ErrorCode = "STORAGE_WRITE_FAILED"

	// Network errors. Trigger the offline-fallback path in the router and
	// are retried by the replay processor up to maxRetries.
	ErrNetwork ErrorCode = "NETWORK_ERROR"
	ErrTimeout ErrorCode = "NETWORK_TIMEOUT"

	// Application errors. Never queued: retrying them offline cannot fix them.
	ErrPermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Session errors. Abort an entire replay run without touching any item.
	ErrSessionExpired       ErrorCode = "SESSION_EXPIRED"
	ErrSessionRefreshFailed ErrorCode = "SESSION_REFRESH_FAILED"

	// Replay errors
	ErrUnknownItemType ErrorCode = "UNKNOWN_ITEM_TYPE"
	ErrRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code of an error, or ErrInternal if it carries none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsNetworkError reports whether an error is network-class: timeouts,
// connection failures, DNS failures, aborted transports. These are the only
// failures the router is allowed to fall back to the queue for.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrNetwork, ErrTimeout:
			return true
		case ErrPermissionDenied, ErrValidationFailed:
			return false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// url.Error wraps transport failures from net/http round trips.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return syscallErr.Err == syscall.ECONNREFUSED || syscallErr.Err == syscall.ECONNRESET
	}

	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// IsAdmissionError reports whether an error came from the queue's admission
// guards. Admission failures are non-retryable by contract.
func IsAdmissionError(err error) bool {
	switch CodeOf(err) {
	case ErrPayloadTooLarge, ErrPayloadBinary, ErrQueueBudgetExceeded, ErrStorageWrite:
		return true
	}
	return false
}

// IsSessionError reports whether an error is session-class.
func IsSessionError(err error) bool {
	switch CodeOf(err) {
	case ErrSessionExpired, ErrSessionRefreshFailed:
		return true
	}
	return false
}
