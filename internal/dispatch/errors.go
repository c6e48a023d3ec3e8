package dispatch

import (
	"context"
	"errors"
	"net"
)

// modelUnavailableError signals that the requested model is not served
// by the target connection; dispatch never falls back to another model.
type modelUnavailableError struct{ model string }

func (e modelUnavailableError) Error() string { return "model unavailable: " + e.model }

// ErrModelUnavailable constructs a modelUnavailableError.
func ErrModelUnavailable(model string) error { return modelUnavailableError{model: model} }

// IsModelUnavailable reports whether err indicates a missing model.
func IsModelUnavailable(err error) bool {
	var e modelUnavailableError
	return errors.As(err, &e)
}

// protocolError signals a malformed or self-contradictory backend
// response (bad JSON, usage counters that do not add up).
type protocolError struct{ msg string }

func (e protocolError) Error() string { return "protocol error: " + e.msg }

// ErrProtocol constructs a protocolError.
func ErrProtocol(msg string) error { return protocolError{msg: msg} }

// IsProtocol reports whether err indicates a malformed backend response.
func IsProtocol(err error) bool {
	var e protocolError
	return errors.As(err, &e)
}

// IsTimeout reports whether err is a deadline expiry, either from the
// context or the transport.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
