package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/ports"
	"github.com/artpar/apphost/internal/shell/store"
	"github.com/artpar/apphost/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubStore implements store.Store for testing.
type stubStore struct {
	plans map[string]*domain.Plan
	err   error // If set, all operations return this error
}

func newStubStore() *stubStore {
	return &stubStore{plans: make(map[string]*domain.Plan)}
}

func (s *stubStore) SavePlan(ctx context.Context, plan *domain.Plan) error {
	if s.err != nil {
		return s.err
	}
	if _, exists := s.plans[plan.ID]; exists {
		return store.NewStoreError("SavePlan", "plan", plan.ID, "already exists", store.ErrDuplicateID)
	}
	s.plans[plan.ID] = plan
	return nil
}

func (s *stubStore) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.plans[id]
	if !ok {
		return nil, store.NewStoreError("GetPlan", "plan", id, "not found", store.ErrNotFound)
	}
	return p, nil
}

func (s *stubStore) DeletePlan(ctx context.Context, id string) error {
	if s.err != nil {
		return s.err
	}
	delete(s.plans, id)
	return nil
}

func (s *stubStore) ListPlans(ctx context.Context, opts store.ListOptions) ([]store.PlanSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []store.PlanSummary
	for _, p := range s.plans {
		out = append(out, store.PlanSummary{
			ID: p.ID, Project: p.Project, Mode: p.Mode, Flags: p.Flags,
			Resources: len(p.Resources), CreatedAt: p.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *stubStore) ListPlanResources(ctx context.Context, planID string) ([]store.ResourceSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.plans[planID]
	if !ok {
		return nil, nil
	}
	var out []store.ResourceSummary
	for i, name := range p.Order {
		rp, _ := p.Resource(name)
		out = append(out, store.ResourceSummary{Name: name, Position: i, Kind: rp.Kind, State: rp.State, Image: rp.Image})
	}
	return out, nil
}

func (s *stubStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	return fn(s)
}

func (s *stubStore) Close() error { return nil }

// newTestTopology declares db <- api under the "backend" group and plans it.
func newTestTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo := topology.New(topology.Options{
		Project:   "demo",
		Host:      "localhost",
		PortRange: ports.Range{Start: 41000, End: 41010},
	})
	t.Cleanup(topo.Close)

	db := topo.AddContainer("db", "postgres:16").
		WithPortMapping("15432:5432").
		WithParent("backend")
	topo.AddContainer("api", "api:dev").
		WithHTTPEndpoint("http", 0, 8080).
		WithEnv("DB_PORT", topology.EndpointHostPort(db.Endpoint("port-5432"))).
		WaitFor(db).
		WithParent("backend")

	_, err := topo.Plan(context.Background())
	require.NoError(t, err)
	return topo
}

func setupTestHandler(t *testing.T) (*Handler, *stubStore) {
	t.Helper()
	s := newStubStore()
	return NewHandler(newTestTopology(t), s, nil), s
}

func get(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// =============================================================================
// Health & Middleware Tests
// =============================================================================

func TestHealth(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "demo", resp.Project)
	assert.Equal(t, 3, resp.Resources)
}

// =============================================================================
// Resource Tests
// =============================================================================

func TestListResources(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/resources")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ResourceListResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	names := make([]string, 0, len(resp.Resources))
	for _, r := range resp.Resources {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"db", "api", "backend"}, names)
}

func TestListResources_FilterByKind(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/resources?kind=group")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[ResourceListResponse](t, rec)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "backend", resp.Resources[0].Name)
}

func TestGetResource(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/resources/api")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[domain.ResourcePlan](t, rec)
	assert.Equal(t, domain.KindContainer, res.Kind)
	assert.Equal(t, domain.StatePending, res.State)
	assert.Equal(t, []string{"db"}, res.WaitFor)
	assert.Equal(t, []string{"backend"}, res.Parents)

	port, ok := res.Environment.Get("DB_PORT")
	require.True(t, ok)
	assert.Equal(t, "15432", port)

	require.Len(t, res.Endpoints, 1)
	assert.Equal(t, 41000, res.Endpoints[0].HostPort)
	assert.Equal(t, "http://localhost:41000", res.Endpoints[0].URL)
}

func TestGetResource_ShowsPublishedProperties(t *testing.T) {
	h, _ := setupTestHandler(t)
	db, ok := h.topo.Registry().Find("db")
	require.True(t, ok)
	db.PublishProperty("health", "healthy")

	rec := get(t, h, "/api/v1/resources/db")
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[domain.ResourcePlan](t, rec)
	v, ok := res.Properties.Get("health")
	assert.True(t, ok)
	assert.Equal(t, "healthy", v)
}

func TestGetResource_NotFound(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/resources/missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "resource_not_found", resp.Code)
}

func TestOrder(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/order")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[OrderResponse](t, rec)
	assert.Equal(t, []string{"db", "api", "backend"}, resp.Order)
}

func TestOrder_Cycle(t *testing.T) {
	topo := topology.New(topology.Options{Project: "cyclic"})
	t.Cleanup(topo.Close)
	a := topo.AddContainer("a", "a:dev")
	b := topo.AddContainer("b", "b:dev").WaitFor(a)
	a.WaitFor(b)

	rec := get(t, NewHandler(topo, nil, nil), "/api/v1/order")

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "cycle", resp.Code)
	assert.Contains(t, resp.Error, "a -> b")
}

// =============================================================================
// Plan Tests
// =============================================================================

func seedPlans(t *testing.T, s *stubStore) {
	t.Helper()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.SavePlan(context.Background(), &domain.Plan{
			ID:        id,
			Project:   "demo",
			Mode:      domain.ModePublish,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Order:     []string{"db", "api"},
			Resources: []domain.ResourcePlan{
				{Name: "db", Kind: domain.KindContainer, Image: "postgres:16", State: domain.StatePending},
				{Name: "api", Kind: domain.KindContainer, Image: "api:dev", State: domain.StatePending},
			},
		}))
	}
}

func TestListPlans(t *testing.T) {
	h, s := setupTestHandler(t)
	seedPlans(t, s)

	rec := get(t, h, "/api/v1/plans")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[PlanListResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 100, resp.Limit)
	assert.Equal(t, "p3", resp.Plans[0].ID)
	assert.Equal(t, 2, resp.Plans[0].Resources)
}

func TestListPlans_Paging(t *testing.T) {
	h, s := setupTestHandler(t)
	seedPlans(t, s)

	rec := get(t, h, "/api/v1/plans?limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[PlanListResponse](t, rec)
	require.Len(t, resp.Plans, 1)
	assert.Equal(t, "p2", resp.Plans[0].ID)
	assert.Equal(t, 1, resp.Limit)
	assert.Equal(t, 1, resp.Offset)
}

func TestListPlans_EmptyIsArray(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/plans")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plans":[]`)
}

func TestListPlans_StoreError(t *testing.T) {
	h, s := setupTestHandler(t)
	s.err = errors.New("disk gone")

	rec := get(t, h, "/api/v1/plans")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk gone")
}

func TestGetPlan(t *testing.T) {
	h, s := setupTestHandler(t)
	seedPlans(t, s)

	rec := get(t, h, "/api/v1/plans/p2")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[PlanResponse](t, rec)
	require.NotNil(t, resp.Plan)
	assert.Equal(t, "p2", resp.Plan.ID)
	require.Len(t, resp.Resources, 2)
	assert.Equal(t, "db", resp.Resources[0].Name)
	assert.Equal(t, 1, resp.Resources[1].Position)
}

func TestGetPlan_NotFound(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/api/v1/plans/nope")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "plan_not_found", resp.Code)
}

func TestPlans_NoStore(t *testing.T) {
	h := NewHandler(newTestTopology(t), nil, nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/plans").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/plans/p1").Code)
}

// =============================================================================
// OpenAPI Tests
// =============================================================================

func TestOpenAPI(t *testing.T) {
	h, _ := setupTestHandler(t)

	rec := get(t, h, "/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc struct {
		OpenAPI string                     `json:"openapi"`
		Paths   map[string]json.RawMessage `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)
	for _, p := range []string{
		"/health",
		"/api/v1/resources",
		"/api/v1/resources/{name}",
		"/api/v1/order",
		"/api/v1/plans",
		"/api/v1/plans/{id}",
	} {
		assert.Contains(t, doc.Paths, p)
	}
}
