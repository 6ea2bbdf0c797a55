package geolocate

import (
	"errors"
	"fmt"
)

var (
	// ErrContract is the root of every two-phase protocol violation.
	// Violations panic with a *ContractViolation wrapping it.
	ErrContract = errors.New("geolocate: contract violation")

	// ErrGridKindMismatch is returned when an operation that only makes sense
	// for one grid variant is handed the other one.
	ErrGridKindMismatch = errors.New("grid kind mismatch")

	// ErrUnknownStrategy is returned by NewStrategy for unrecognized names.
	ErrUnknownStrategy = errors.New("unknown ranking strategy")

	// ErrNoCoordinate marks a document that cannot be placed on the grid.
	ErrNoCoordinate = errors.New("document has no coordinate")

	// ErrEmptyDocument marks a document with zero tokens.
	ErrEmptyDocument = errors.New("document has no tokens")

	// ErrNotTraining marks a dev/test document offered for cell models.
	ErrNotTraining = errors.New("document is not in the training split")
)

// ContractViolation describes misuse of the OPEN→CLOSED protocol:
// mutation after close, queries before global finishing, double close.
type ContractViolation struct {
	Op     string
	Reason string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("geolocate: contract violation in %s: %s", e.Op, e.Reason)
}

func (e *ContractViolation) Unwrap() error { return ErrContract }

// violate panics; contract errors are programming bugs, not data problems.
func violate(op, format string, args ...any) {
	panic(&ContractViolation{Op: op, Reason: fmt.Sprintf(format, args...)})
}

// ConfigError indicates an invalid configuration value.
type ConfigError struct {
	Field string
	Value any
	cause error
}

func (e *ConfigError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("invalid config %s=%v: %v", e.Field, e.Value, e.cause)
	}
	return fmt.Sprintf("invalid config %s=%v", e.Field, e.Value)
}

func (e *ConfigError) Unwrap() error { return e.cause }
