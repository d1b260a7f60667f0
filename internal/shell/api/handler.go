// Package api serves a read-only HTTP view of a topology: resources with
// their live state and published properties, the start order, and the
// plans kept in the plan store.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/shell/api/openapi"
	"github.com/artpar/apphost/internal/shell/store"
	"github.com/artpar/apphost/internal/topology"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the inspection API.
type Handler struct {
	topo    *topology.Topology
	store   store.Store
	openapi *openapi.Generator
	logger  *slog.Logger
}

// NewHandler creates a new API handler. s may be nil, in which case the
// plan routes answer 503.
func NewHandler(topo *topology.Topology, s store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		topo:    topo,
		store:   s,
		openapi: openapi.NewGenerator(),
		logger:  logger.With("component", "api"),
	}
	h.registerDocs()
	return h
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	r.Get("/health", h.handleHealth)
	r.Get("/openapi.json", h.openapi.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/resources", h.handleListResources)
		r.Get("/resources/{name}", h.handleGetResource)
		r.Get("/order", h.handleOrder)

		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.handleListPlans)
			r.Get("/{id}", h.handleGetPlan)
		})
	})

	return r
}

func (h *Handler) registerDocs() {
	for _, route := range []openapi.Route{
		{Path: "/health", Name: "health", Summary: "Service health", Tag: "health", Model: HealthResponse{}},
		{Path: "/api/v1/resources", Name: "listResources", Summary: "List resources", Tag: "resources", Model: ResourceListResponse{}},
		{Path: "/api/v1/resources/{name}", Name: "getResource", Summary: "Get a resource", Tag: "resources", Model: domain.ResourcePlan{}, PathParam: "name"},
		{Path: "/api/v1/order", Name: "getOrder", Summary: "Start order", Tag: "resources", Model: OrderResponse{}},
		{Path: "/api/v1/plans", Name: "listPlans", Summary: "List stored plans", Tag: "plans", Model: PlanListResponse{}, Paged: true},
		{Path: "/api/v1/plans/{id}", Name: "getPlan", Summary: "Get a stored plan", Tag: "plans", Model: PlanResponse{}, PathParam: "id"},
	} {
		h.openapi.Register(route)
	}
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Topology Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Project:   h.topo.Project(),
		Resources: h.topo.Registry().Len(),
	})
}

func (h *Handler) handleListResources(w http.ResponseWriter, r *http.Request) {
	resources := h.topo.Snapshot()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := resources[:0]
		for _, res := range resources {
			if string(res.Kind) == kind {
				filtered = append(filtered, res)
			}
		}
		resources = filtered
	}
	h.writeJSON(w, http.StatusOK, ResourceListResponse{
		Resources: resources,
		Total:     len(resources),
	})
}

func (h *Handler) handleGetResource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	res, ok := h.topo.Describe(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "resource not found", "resource_not_found")
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.topo.StartOrder()
	if err != nil {
		var cycle *domain.CycleError
		if errors.As(err, &cycle) {
			h.writeError(w, http.StatusConflict, err.Error(), "cycle")
			return
		}
		h.logger.Error("failed to compute start order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to compute start order", "internal_error")
		return
	}
	h.writeJSON(w, http.StatusOK, OrderResponse{Order: order})
}

// =============================================================================
// Plan Handlers
// =============================================================================

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "plan store not configured", "store_unavailable")
		return
	}

	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}
	opts = opts.Normalize()

	plans, err := h.store.ListPlans(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list plans", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list plans", "internal_error")
		return
	}
	if plans == nil {
		plans = []store.PlanSummary{}
	}

	h.writeJSON(w, http.StatusOK, PlanListResponse{
		Plans:  plans,
		Total:  len(plans),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

func (h *Handler) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "plan store not configured", "store_unavailable")
		return
	}

	id := chi.URLParam(r, "id")
	plan, err := h.store.GetPlan(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "plan not found", "plan_not_found")
			return
		}
		h.logger.Error("failed to get plan", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get plan", "internal_error")
		return
	}

	resources, err := h.store.ListPlanResources(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list plan resources", "plan_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get plan", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, PlanResponse{Plan: plan, Resources: resources})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
