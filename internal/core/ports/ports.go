// Package ports picks host ports for dynamically bound endpoints.
package ports

import (
	"fmt"

	"github.com/artpar/apphost/internal/core/domain"
)

// Range defines the host ports available for dynamic endpoints.
type Range struct {
	Start int `mapstructure:"start"` // Inclusive, e.g., 30000
	End   int `mapstructure:"end"`   // Inclusive, e.g., 39999
}

// DefaultRange returns the default dynamic port range.
func DefaultRange() Range {
	return Range{Start: 30000, End: 39999}
}

// Validate checks that the range is non-empty and within 1..65535.
func (r Range) Validate() error {
	if r.Start < 1 || r.End > 65535 || r.Start > r.End {
		return fmt.Errorf("%w: port range %d-%d", domain.ErrInvalidEndpoint, r.Start, r.End)
	}
	return nil
}

// Contains reports whether port is within the range.
func (r Range) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Size returns the number of ports in the range.
func (r Range) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Set is a set of claimed host ports.
type Set map[int]struct{}

// NewSet builds a Set from a list of ports.
func NewSet(ports ...int) Set {
	s := make(Set, len(ports))
	for _, p := range ports {
		s.Add(p)
	}
	return s
}

// Add marks port as claimed.
func (s Set) Add(port int) {
	s[port] = struct{}{}
}

// Has reports whether port is claimed.
func (s Set) Has(port int) bool {
	_, ok := s[port]
	return ok
}

// Allocate finds the first port in r that is not in used.
// Pure function: the caller records the returned port.
func Allocate(used Set, r Range) (int, error) {
	for port := r.Start; port <= r.End; port++ {
		if !used.Has(port) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: %d-%d", domain.ErrNoAvailablePorts, r.Start, r.End)
}
