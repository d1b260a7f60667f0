package store

import (
	"context"
	"time"

	"github.com/artpar/apphost/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists published plans.
type Store interface {
	SavePlan(ctx context.Context, plan *domain.Plan) error
	GetPlan(ctx context.Context, id string) (*domain.Plan, error)
	DeletePlan(ctx context.Context, id string) error
	ListPlans(ctx context.Context, opts ListOptions) ([]PlanSummary, error)
	ListPlanResources(ctx context.Context, planID string) ([]ResourceSummary, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// PlanSummary is one row of the plan listing.
type PlanSummary struct {
	ID        string      `json:"id"`
	Project   string      `json:"project"`
	Mode      domain.Mode `json:"mode"`
	Flags     string      `json:"flags"`
	Resources int         `json:"resources"`
	CreatedAt time.Time   `json:"created_at"`
}

// ResourceSummary is one resource of a stored plan.
type ResourceSummary struct {
	Name     string       `json:"name"`
	Position int          `json:"position"`
	Kind     domain.Kind  `json:"kind"`
	State    domain.State `json:"state"`
	Image    string       `json:"image,omitempty"`
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
