package tardiness

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is the sentinel for every rule configuration problem.
	ErrConfiguration = errors.New("tardiness configuration error")

	// ErrDuplicateEvent is returned by Store.ApplyEvent when the session was
	// already accumulated.
	ErrDuplicateEvent = errors.New("tardiness event already recorded")

	// ErrNoRules is returned when classification runs before rules loaded.
	ErrNoRules = errors.New("tardiness rules not loaded")
)

// ConfigError describes an invalid or incomplete rule table.
type ConfigError struct {
	RuleID  string
	Type    Type
	Minutes *int // set when raised while classifying
	Reason  string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Minutes != nil:
		return fmt.Sprintf("tardiness configuration: %s (%d minutes late)", e.Reason, *e.Minutes)
	case e.RuleID != "":
		return fmt.Sprintf("tardiness configuration: rule %s (%s): %s", e.RuleID, e.Type, e.Reason)
	default:
		return "tardiness configuration: " + e.Reason
	}
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// IsConfigError returns true for configuration errors.
func IsConfigError(err error) bool { return errors.Is(err, ErrConfiguration) }
