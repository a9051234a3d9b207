package attendance

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyClosed is returned when a close lost the race against another
	// writer. The auto-checkout engine treats it as success by someone else.
	ErrAlreadyClosed = errors.New("session already closed")

	// ErrSessionOpen is returned when checking in while a session for the
	// same day is still open.
	ErrSessionOpen = errors.New("session already open for day")

	// ErrNoOpenSession is returned by a manual check-out with nothing to close.
	ErrNoOpenSession = errors.New("no open session")

	// ErrInvalidMethod is returned for an unknown check-in/out method.
	ErrInvalidMethod = errors.New("invalid attendance method")
)

// CheckOutBeforeCheckInError rejects a manual check-out earlier than the
// session's check-in.
type CheckOutBeforeCheckInError struct {
	SessionID string
	CheckIn   string
	CheckOut  string
}

func (e *CheckOutBeforeCheckInError) Error() string {
	return fmt.Sprintf("check-out %s before check-in %s (session %s)", e.CheckOut, e.CheckIn, e.SessionID)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	var order *CheckOutBeforeCheckInError
	return errors.Is(err, ErrSessionOpen) ||
		errors.Is(err, ErrNoOpenSession) ||
		errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrAlreadyClosed) ||
		errors.As(err, &order)
}
