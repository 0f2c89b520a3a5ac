package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPhoneNumber is returned when the payer's number fails the
	// local syntactic check, before any gateway call is made.
	ErrInvalidPhoneNumber = errors.New("invalid Philippine mobile number")

	// ErrUserCancelled marks a checkout the payer abandoned.
	ErrUserCancelled = errors.New("payment cancelled by user")

	// ErrAlreadyStarted is returned when StartPayment is called on a
	// workflow that is not idle. One instance serves one attempt.
	ErrAlreadyStarted = errors.New("payment already started")

	// ErrStillProcessing is returned when Reset is called mid-attempt.
	ErrStillProcessing = errors.New("payment still processing")
)

// TransportError wraps a network or HTTP failure talking to the gateway.
// It is distinct from GatewayDeclinedError: the gateway never reported an
// outcome, the request itself failed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// GatewayDeclinedError means the gateway explicitly reported a failed or
// cancelled status for the intent.
type GatewayDeclinedError struct {
	Status string
}

func (e *GatewayDeclinedError) Error() string {
	return fmt.Sprintf("gateway reported status %q", e.Status)
}

// TimeoutError means the polling budget ran out without a terminal status.
// The true outcome is unknown, not negative: the gateway may still settle
// the charge out of band.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no terminal payment status after %d polls", e.Attempts)
}
