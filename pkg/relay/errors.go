package relay

import (
	"errors"
	"fmt"
)

var (
	ErrConnection = errors.New("relay: connection error")
	ErrProtocol   = errors.New("relay: protocol error")
	ErrTimeout    = errors.New("relay: timed out")

	// ErrPublishUnconfirmed means the event was sent but the connection went
	// away before the relay acknowledged it. The relay may or may not have
	// stored it.
	ErrPublishUnconfirmed = fmt.Errorf("%w: publish unconfirmed", ErrConnection)

	ErrNotConnected     = fmt.Errorf("%w: not connected", ErrConnection)
	ErrAlreadyConnected = errors.New("relay: already connected")
	ErrClientClosed     = fmt.Errorf("%w: client closed", ErrConnection)

	ErrNoFilters             = errors.New("relay: subscription needs at least one filter")
	ErrDuplicateSubscription = errors.New("relay: subscription id already in use")
)

// RejectedError is returned by Publish when the relay answers OK false
type RejectedError struct {
	ID     string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("relay rejected event %s", e.ID)
	}
	return fmt.Sprintf("relay rejected event %s: %s", e.ID, e.Reason)
}

func (e *RejectedError) Is(target error) bool { return target == ErrProtocol }

// ClosedError ends a subscription the relay closed on its side
type ClosedError struct {
	ID     string
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("relay closed subscription %s: %s", e.ID, e.Reason)
}

func (e *ClosedError) Is(target error) bool { return target == ErrProtocol }
