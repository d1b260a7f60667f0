// Package domain holds the value types shared by the topology engine:
// resource kinds and lifecycle states, property bags, endpoints and the
// error taxonomy. Everything here is pure; no I/O and no locking.
package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Resource Kind
// =============================================================================

// Kind classifies a resource in the topology graph.
type Kind string

const (
	KindContainer Kind = "container"
	KindProcess   Kind = "process"
	KindGroup     Kind = "group"
	KindVirtual   Kind = "virtual"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindContainer, KindProcess, KindGroup, KindVirtual:
		return true
	}
	return false
}

// Runnable reports whether resources of this kind have startup work.
func (k Kind) Runnable() bool {
	return k == KindContainer || k == KindProcess
}

// =============================================================================
// Lifecycle State
// =============================================================================

// State is the lifecycle state of a resource.
type State string

const (
	StatePending  State = "pending"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateReady    State = "ready"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
)

// validTransitions lists allowed state changes.
var validTransitions = map[State][]State{
	StatePending:  {StateStarting, StateReady, StateFailed, StateStopped},
	StateStarting: {StateRunning, StateReady, StateFailed, StateStopped},
	StateRunning:  {StateReady, StateFailed, StateStopped},
	StateReady:    {StateFailed, StateStopped},
	StateFailed:   {},
	StateStopped:  {},
}

// CanTransitionTo checks if a transition from s to next is valid.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateStopped
}

// progress orders the non-terminal states.
func (s State) progress() int {
	switch s {
	case StatePending:
		return 0
	case StateStarting:
		return 1
	case StateRunning:
		return 2
	case StateReady:
		return 3
	}
	return -1
}

// AtLeast reports whether s has progressed to min or further.
// Terminal states never satisfy AtLeast.
func (s State) AtLeast(min State) bool {
	if s.IsTerminal() {
		return false
	}
	return s.progress() >= min.progress()
}

// ValidateName checks that a resource name is usable as an identity.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, " \t\r\n=") {
		return fmt.Errorf("%w: %q contains whitespace or '='", ErrInvalidName, name)
	}
	return nil
}

// =============================================================================
// Health Check
// =============================================================================

// HealthCheck describes an HTTP readiness probe against one of the
// resource's own endpoints.
type HealthCheck struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	Path     string `json:"path" yaml:"path"`
}
