package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput              ErrorCode = "INVALID_INPUT"
	ErrorInvalidPlatform           ErrorCode = "INVALID_PLATFORM"
	ErrorSessionConflict           ErrorCode = "SESSION_CONFLICT"
	ErrorClassificationUnavailable ErrorCode = "CLASSIFICATION_UNAVAILABLE"
	ErrorCapabilityTimeout         ErrorCode = "CAPABILITY_TIMEOUT"
	ErrorCapabilityFailure         ErrorCode = "CAPABILITY_FAILURE"
	ErrorRateLimited               ErrorCode = "RATE_LIMITED"
	ErrorUnreachableState          ErrorCode = "UNREACHABLE_STATE"
	ErrorInternal                  ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

// capabilityError classifies a failed capability call. stageCtx is the
// context the call ran under; its deadline counts as a timeout even when the
// callee reports it differently.
func capabilityError(stageCtx context.Context, name string, err error, otherwise ErrorCode) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return newError(ErrorCapabilityTimeout, name+"_timeout", err)
	}
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, name+"_rate_limited", err)
	}
	return newError(otherwise, name+"_error", err)
}
