package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for optimisation operations.
var (
	// ErrInvalidConfiguration indicates bad dimensions or a non-positive
	// horizon or step count. It is returned at construction time.
	ErrInvalidConfiguration = errors.New("dynamo: invalid configuration")

	// ErrIntegrationDivergence indicates a step produced NaN or Inf.
	ErrIntegrationDivergence = errors.New("dynamo: integration diverged (NaN or Inf detected)")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between vector and system")

	// ErrUnknownName indicates a registry lookup for an unregistered name.
	ErrUnknownName = errors.New("dynamo: unknown name")
)

// ConfigError reports which configuration field is invalid.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfiguration
}

// DivergenceError wraps ErrIntegrationDivergence with the failing step.
type DivergenceError struct {
	Step  int
	Time  float64
	State State
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, ErrIntegrationDivergence)
}

func (e *DivergenceError) Unwrap() error {
	return ErrIntegrationDivergence
}

// DimensionError matches both ErrDimensionMismatch and
// ErrInvalidConfiguration.
type DimensionError struct {
	What     string
	Got      int
	Expected int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s has dimension %d, expected %d", e.What, e.Got, e.Expected)
}

func (e *DimensionError) Unwrap() []error {
	return []error{ErrDimensionMismatch, ErrInvalidConfiguration}
}
