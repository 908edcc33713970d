package snowflake

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig       = errors.New("snowflake: invalid configuration")
	ErrClockMovedBackwards = errors.New("snowflake: clock moved backwards")
	ErrCapacityExhausted   = errors.New("snowflake: timestamp capacity exhausted")
	ErrClockStalled        = errors.New("snowflake: clock did not advance")
	ErrBeforeEpoch         = errors.New("snowflake: clock reading precedes epoch")
	ErrFieldOverflow       = errors.New("snowflake: field value out of range for layout")
)

// ConfigurationError reports a construction-time problem. A Node is never
// returned alongside one.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func newConfigError(field string, value any, reason string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Field:  field,
		Value:  fmt.Sprint(value),
		Reason: fmt.Sprintf(reason, args...),
	}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("snowflake: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ClockDriftError is returned when the clock is observed behind the last
// issued timestamp and the drift policy refuses to wait it out.
type ClockDriftError struct {
	Drift time.Duration
	// Last and Now are milliseconds since the node's epoch.
	Last int64
	Now  int64
}

func (e *ClockDriftError) Error() string {
	return fmt.Sprintf("snowflake: clock moved backwards by %v (last %dms, now %dms)", e.Drift, e.Last, e.Now)
}

func (e *ClockDriftError) Is(target error) bool {
	return target == ErrClockMovedBackwards
}

// CapacityExhaustedError means the timestamp no longer fits the layout. It is
// permanent for the Node that returned it: re-epoch or redeploy.
type CapacityExhaustedError struct {
	Delta int64
	Max   int64
}

func (e *CapacityExhaustedError) Error() string {
	return fmt.Sprintf("snowflake: timestamp delta %dms exceeds layout maximum %dms", e.Delta, e.Max)
}

func (e *CapacityExhaustedError) Is(target error) bool {
	return target == ErrCapacityExhausted
}
