package marketplace

import (
	"errors"
	"fmt"
)

// TransportError indicates a network or HTTP-level failure reaching the API.
type TransportError struct {
	Status int
	Err    error
}

func (e TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transport: http %d: %v", e.Status, e.Err)
	}
	return fmt.Errorf("transport: %w", e.Err).Error()
}

func (e TransportError) Unwrap() error {
	return e.Err
}

// RPCError indicates the API returned a JSON-RPC error member.
type RPCError struct {
	Code    int
	Message string
}

func (e RPCError) Error() string {
	return fmt.Sprintf("rpc: %d %s", e.Code, e.Message)
}

// SessionError indicates authentication or token refresh failed.
type SessionError struct {
	Err error
}

func (e SessionError) Error() string {
	return fmt.Errorf("session: %w", e.Err).Error()
}

func (e SessionError) Unwrap() error {
	return e.Err
}

// ErrNoResult is returned when a response carries neither a result nor
// an error member.
var ErrNoResult = errors.New("marketplace: no result in response")
