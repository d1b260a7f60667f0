package api

import (
	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/shell/store"
)

// =============================================================================
// Response Types
// =============================================================================

// HealthResponse is the response for the health endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Project   string `json:"project"`
	Resources int    `json:"resources"`
}

// ErrorResponse is the response for errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ResourceListResponse lists every registered resource.
type ResourceListResponse struct {
	Resources []domain.ResourcePlan `json:"resources"`
	Total     int                   `json:"total"`
}

// OrderResponse is the current start order.
type OrderResponse struct {
	Order []string `json:"order"`
}

// PlanListResponse is a page of stored plans.
type PlanListResponse struct {
	Plans  []store.PlanSummary `json:"plans"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// PlanResponse is one stored plan with its resource rows.
type PlanResponse struct {
	Plan      *domain.Plan            `json:"plan"`
	Resources []store.ResourceSummary `json:"resources"`
}
