package domain

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Registry errors
	ErrDuplicateName = errors.New("resource name already registered")
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidName   = errors.New("resource name is invalid")
	ErrNotAGroup     = errors.New("parent resource is not a group")

	// Endpoint errors
	ErrPortConflict      = errors.New("host port already claimed")
	ErrDuplicateEndpoint = errors.New("endpoint already declared")
	ErrInvalidEndpoint   = errors.New("invalid endpoint configuration")
	ErrEndpointNotBound  = errors.New("endpoint has no host port yet")
	ErrNoAvailablePorts  = errors.New("no available ports in range")

	// Graph errors
	ErrCycle = errors.New("wait-for cycle detected")

	// Resolution errors
	ErrPrematureResolution = errors.New("value resolved before endpoint allocation completed")

	// Pipeline errors
	ErrStepOrdering = errors.New("pipeline step references unknown anchor")

	// Assembly errors
	ErrInvalidFlagSelection = errors.New("invalid flag selection")

	// Lifecycle errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrDependencyFailed  = errors.New("dependency did not become ready")
)

// TopologyError wraps errors with the resource they concern.
type TopologyError struct {
	Op       string // Operation that failed (e.g., "Register")
	Resource string // Resource name if applicable
	Message  string
	Err      error
}

func (e *TopologyError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// NewTopologyError creates a new TopologyError.
func NewTopologyError(op, resource, message string, err error) *TopologyError {
	return &TopologyError{
		Op:       op,
		Resource: resource,
		Message:  message,
		Err:      err,
	}
}

// CycleError reports every resource on a wait-for cycle, in edge order.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s -> %s", ErrCycle.Error(), strings.Join(e.Path, " -> "), e.Path[0])
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}

// PortConflictError reports two resources claiming the same fixed host port.
type PortConflictError struct {
	Port     int
	Resource string // Resource whose claim was rejected
	Holder   string // Resource that already holds the port
}

func (e *PortConflictError) Error() string {
	return fmt.Sprintf("host port %d requested by %s is already claimed by %s", e.Port, e.Resource, e.Holder)
}

func (e *PortConflictError) Unwrap() error {
	return ErrPortConflict
}

// StepOrderingError reports a pipeline step whose anchor does not exist.
type StepOrderingError struct {
	Step     string
	Anchor   string
	Relation string // "dependsOn" or "requiredBy"
}

func (e *StepOrderingError) Error() string {
	return fmt.Sprintf("step %s: %s anchor %q is not registered", e.Step, e.Relation, e.Anchor)
}

func (e *StepOrderingError) Unwrap() error {
	return ErrStepOrdering
}
