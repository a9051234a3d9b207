package discipline

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the sentinel for invalid disciplinary rules.
	ErrConfiguration = errors.New("disciplinary configuration error")

	// ErrDuplicateRecord is returned by Store.CreateRecord when the
	// (employee, rule, window start) key already exists.
	ErrDuplicateRecord = errors.New("disciplinary record already exists")

	// ErrInvalidTransition is returned for a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid disciplinary state transition")

	// ErrRecordNotFound is returned when a record id is unknown.
	ErrRecordNotFound = errors.New("disciplinary record not found")
)

// ConfigError describes a rule that cannot be applied.
type ConfigError struct {
	RuleID string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("disciplinary rule %s: %s", e.RuleID, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// TransitionError reports a forbidden transition.
type TransitionError struct {
	RecordID string
	From     State
	To       State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("record %s: cannot move from %s to %s", e.RecordID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsConfigError returns true for configuration errors.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConfiguration)
}
