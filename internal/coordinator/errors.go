package coordinator

import (
	"fmt"

	"github.com/nmslite/docwriter/internal/task"
)

// ConfigError reports a misuse of the fluent configuration surface: a
// setter called after the coordinator left Configurable, a second Start,
// or a nil listener argument.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("coordinator: config error: %s", e.Reason)
}

// StateError reports an operation that requires the coordinator to be
// initialized (past Configurable) when it is not.
type StateError struct {
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("coordinator: state error: %s", e.Reason)
}

// StoppedError reports an operation attempted after Stop.
type StoppedError struct {
	Op string
}

func (e *StoppedError) Error() string {
	return fmt.Sprintf("coordinator: %s called on a stopped coordinator", e.Op)
}

// TransportError wraps an error a HostClient returned while writing a
// batch. It is what reaches failure listeners. Defined in internal/task
// (the package that actually performs the write and knows the target
// host) and aliased here so callers can keep writing coordinator.TransportError.
type TransportError = task.TransportError

// RetryFailed wraps a transport error surfaced during failover resubmission
// when failure listeners were explicitly suppressed.
type RetryFailed struct {
	BatchNumber uint64
	Err         error
}

func (e *RetryFailed) Error() string {
	return fmt.Sprintf("coordinator: retry of batch %d failed: %v", e.BatchNumber, e.Err)
}

func (e *RetryFailed) Unwrap() error {
	return e.Err
}

// ListenerError records a listener that panicked or misbehaved. It is
// logged, never returned to a caller.
type ListenerError struct {
	ListenerKind string
	Value        any
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("coordinator: %s listener panicked: %v", e.ListenerKind, e.Value)
}
