package gateway

import (
	"errors"
	"fmt"
)

// ErrGone signals that an entity was deleted upstream. It is a deletion
// instruction, not a failure: the local copy should be removed and the
// operation reported as successful.
var ErrGone = errors.New("gateway: entity gone")

// NetworkError wraps transport-level failures (unreachable host,
// timeout, 5xx). The heartbeat scheduler folds these into the debounced
// offline flag instead of surfacing them individually.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsNetwork reports whether err is a transport-level failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// AuthError signals a rejected credential. The HTTP client refreshes
// the token and retries exactly once before surfacing it.
type AuthError struct {
	Op string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gateway: %s: authorization rejected", e.Op)
}
