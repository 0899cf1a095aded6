// Package apperr carries application-level errors with an HTTP status and
// a machine-readable code, independent of the transport that eventually
// reports them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"patchbay/internal/domain"
)

// Code represents application error codes.
type Code string

const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeConflict           Code = "CONFLICT"
	CodeRateLimit          Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeBadGateway         Code = "BAD_GATEWAY"
)

// AppError is an error with a code, an HTTP status, and optional context
// for logging.
type AppError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func New(code Code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Context: make(map[string]interface{})}
}

func Wrap(err error, code Code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err, Context: make(map[string]interface{})}
}

func NewInvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorized(message string) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden)
}

func NewConflict(message string) *AppError {
	return New(CodeConflict, message, http.StatusConflict)
}

func NewRateLimit() *AppError {
	return New(CodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternal(message string) *AppError {
	return New(CodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailable(message string) *AppError {
	return New(CodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

func Is(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func Get(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// FromDomain maps the core's sentinel errors (internal/domain/errors.go) to
// an AppError with the right HTTP status, for admission-layer handlers that
// surface forward/groups failures over REST or the signaling socket.
func FromDomain(err error) *AppError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrStreamNotFound), errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrGroupNotFound):
		return Wrap(err, CodeNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrStreamExists), errors.Is(err, domain.ErrPublisherExists), errors.Is(err, domain.ErrUserExists):
		return Wrap(err, CodeConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTooManySenders), errors.Is(err, domain.ErrMalformedInput):
		return Wrap(err, CodeInvalidInput, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUserNotInit):
		return Wrap(err, CodeUnauthorized, err.Error(), http.StatusUnauthorized)
	default:
		return Wrap(err, CodeInternal, err.Error(), http.StatusInternalServerError)
	}
}
