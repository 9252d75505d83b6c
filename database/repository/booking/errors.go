package bookingRepo

import "errors"

var (
	// ErrNotFound means the booking (or the session within it) does not exist.
	ErrNotFound = errors.New("booking not found")
	// ErrSessionNotFound means the booking exists but holds no such session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPreconditionFailed means a conditional update matched nothing: the
	// stored state no longer equals the expected state, i.e. a concurrent
	// actor won the race. It is a definitive outcome, not a transient fault.
	ErrPreconditionFailed = errors.New("precondition failed")
)
