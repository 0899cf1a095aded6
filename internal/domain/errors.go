package domain

import "errors"

// Error taxonomy per the core's contract: plain sentinel values, no
// typed hierarchy. The admission layer is responsible for mapping these to
// HTTP status codes via pkg/apperr.
var (
	ErrStreamNotFound   = errors.New("stream not found")
	ErrStreamExists     = errors.New("stream already exists")
	ErrPublisherExists  = errors.New("publisher already exists")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTooManySenders   = errors.New("more than one send transceiver")
	ErrGroupNotFound    = errors.New("group not found")
	ErrUserNotInit      = errors.New("user not initiated")
	ErrUserExists       = errors.New("user already initiated")
	ErrSendFailed       = errors.New("send failed")
	ErrMalformedInput   = errors.New("malformed input")
	ErrTransportTerminal = errors.New("transport error")
)
