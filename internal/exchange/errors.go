package exchange

import (
	"fmt"

	"github.com/yanun0323/errors"
)

// ErrRateLimited is returned when a venue refuses a call for rate-limit
// reasons. Callers apply backpressure instead of treating it as a reject.
var ErrRateLimited = errors.New("exchange: rate limited")

// ErrDisconnected is returned when the venue's stream is down and the
// requested operation needs it.
var ErrDisconnected = errors.New("exchange: disconnected")

// ConnectivityError is a transport-level failure (timeout, 5xx). It is
// retryable at the caller's discretion.
type ConnectivityError struct {
	Venue string
	Op    string
	Err   error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("exchange %s: %s: %v", e.Venue, e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// RejectError is an explicit refusal from the venue. Orders hitting it move
// to a terminal rejected state and are never auto-retried.
type RejectError struct {
	Venue string
	Code  string
	Msg   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("exchange %s: rejected (%s): %s", e.Venue, e.Code, e.Msg)
}
