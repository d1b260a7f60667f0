package topology

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Group Tests
// =============================================================================

func TestGroup_MemoizedAcrossConcurrentCallers(t *testing.T) {
	topo := newTestTopology(t)

	const callers = 24
	results := make([]*Resource, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := topo.Group("platform")
			require.NoError(t, err)
			results[i] = g
		}()
	}
	wg.Wait()

	for _, g := range results {
		assert.Same(t, results[0], g)
	}
	assert.Len(t, topo.Groups(), 1)
	assert.Equal(t, domain.KindGroup, results[0].Kind())
	assert.Equal(t, domain.StateReady, results[0].State())
}

func TestGroup_NameTakenByContainer(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("db", "postgres")

	_, err := topo.Group("db")
	assert.True(t, errors.Is(err, domain.ErrNotAGroup))
}

func TestAddGroup_ReturnsSameResource(t *testing.T) {
	topo := newTestTopology(t)
	first := topo.AddGroup("e-observability")
	second := topo.AddGroup("e-observability")
	assert.Same(t, first.Resource(), second.Resource())
}

// =============================================================================
// Builder Tests
// =============================================================================

func TestBuilder_StickyError(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("db", "postgres")

	dup := topo.AddContainer("db", "postgres").
		WithEnvValue("A", "1").
		WithHTTPEndpoint("http", 0, 8080)

	require.Error(t, dup.Err())
	assert.True(t, errors.Is(dup.Err(), domain.ErrDuplicateName))
	assert.Nil(t, dup.Resource())
	assert.True(t, errors.Is(topo.Err(), domain.ErrDuplicateName))
}

func TestBuilder_EnvReplacesInPlace(t *testing.T) {
	topo := newTestTopology(t)
	b := topo.AddProcess("api", "dotnet", "run").
		WithEnvValue("A", "1").
		WithEnvValue("B", "2").
		WithEnvValue("A", "3")

	env := b.Resource().Env()
	require.Len(t, env, 2)
	assert.Equal(t, "A", env[0].Key)
	assert.Equal(t, "B", env[1].Key)
}

func TestBuilder_ReservedProperty(t *testing.T) {
	topo := newTestTopology(t)
	b := topo.AddContainer("web", "nginx").WithProperty(domain.ParentNameProperty, "x")
	assert.True(t, errors.Is(b.Err(), domain.ErrInvalidName))
}

func TestBuilder_PortMapping(t *testing.T) {
	topo := newTestTopology(t)
	b := topo.AddContainer("hsm", "sim").WithPortMapping("33001:3001")
	require.NoError(t, b.Err())

	ep, ok := topo.Allocator().Lookup("hsm", "port-3001")
	require.True(t, ok)
	assert.Equal(t, 33001, ep.HostPort)
}

func TestBuilder_WaitForFailedDependency(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("db", "postgres")
	broken := topo.AddContainer("db", "postgres")

	b := topo.AddProcess("api", "run").WaitFor(broken)
	assert.Error(t, b.Err())
}

// =============================================================================
// Plan Tests
// =============================================================================

func TestPlan_OrderEndpointsAndEnvironment(t *testing.T) {
	topo := newTestTopology(t)

	db := topo.AddContainer("keycloak-db", "postgres:17.6-alpine3.22").
		WithEndpoint(domain.EndpointSpec{Name: "port", TargetPort: 5432, HostPort: 15432}).
		WithVolume("keycloak_db_data", "/var/lib/postgresql/data").
		WithParent("a-keycloak")
	topo.AddContainer("keycloak", "keycloak:26").
		WithHTTPEndpoint("http", 0, 8080).
		WithEnvValue("KC_DB_URL_HOST", db.Name()).
		WithEnv("KC_DB_URL_PORT", EndpointTargetPort(db.Endpoint("port"))).
		WithEnv("KC_DB_URL", Format("jdbc:postgresql://%s/keycloak", EndpointHostPort(db.Endpoint("port")))).
		WaitFor(db).
		WithParent("a-keycloak")

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "test", plan.Project)
	assert.Equal(t, []string{"keycloak-db", "keycloak", "a-keycloak"}, plan.Order)

	kc, ok := plan.Resource("keycloak")
	require.True(t, ok)
	assert.Equal(t, []string{"KC_DB_URL_HOST", "KC_DB_URL_PORT", "KC_DB_URL"}, kc.Environment.Keys())
	port, _ := kc.Environment.Get("KC_DB_URL_PORT")
	assert.Equal(t, "5432", port)
	url, _ := kc.Environment.Get("KC_DB_URL")
	assert.Equal(t, "jdbc:postgresql://localhost:15432/keycloak", url)
	require.Len(t, kc.Endpoints, 1)
	assert.Equal(t, "http://localhost:30000", kc.Endpoints[0].URL)

	group, ok := plan.Resource("a-keycloak")
	require.True(t, ok, "dangling parent group is materialized")
	assert.Equal(t, domain.KindGroup, group.Kind)

	dbPlan, _ := plan.Resource("keycloak-db")
	assert.Equal(t, []string{"keycloak_db_data:/var/lib/postgresql/data"}, dbPlan.Volumes)
}

func TestPlan_CycleAbortsBeforeBind(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("a", "x").WithHTTPEndpoint("http", 0, 80).WaitForName("b")
	topo.AddContainer("b", "x").WaitForName("c")
	topo.AddContainer("c", "x").WaitForName("a")

	_, err := topo.Plan(context.Background())
	var cycle *domain.CycleError
	require.True(t, errors.As(err, &cycle))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.Path)
	assert.False(t, topo.Allocator().Sealed())
}

func TestPlan_PortConflictAborts(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("platform-db", "postgres").WithEndpoint(domain.EndpointSpec{Name: "port", TargetPort: 5432, HostPort: 25432})
	topo.AddContainer("portal-db", "postgres").WithEndpoint(domain.EndpointSpec{Name: "port", TargetPort: 5432, HostPort: 25432})

	_, err := topo.Plan(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPortConflict))
	assert.Contains(t, err.Error(), "platform-db")
	assert.Contains(t, err.Error(), "portal-db")
	assert.False(t, topo.Allocator().Sealed())
}

func TestPlan_UnknownDependency(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("api", "x").WaitForName("ghost")

	_, err := topo.Plan(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Contains(t, err.Error(), "ghost")
}

func TestPlan_ParentIsNotAGroup(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("db", "postgres")
	topo.AddContainer("api", "x").WithParent("db")

	_, err := topo.Plan(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotAGroup))
}

func TestPlan_RebuildResolvesAgain(t *testing.T) {
	topo := newTestTopology(t)
	var calls int
	topo.AddProcess("api", "run").WithEnv("N", Defer(func(context.Context) (string, error) {
		calls++
		return "v", nil
	}))

	_, err := topo.Plan(context.Background())
	require.NoError(t, err)
	_, err = topo.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	topo.Rebuild()
	_, err = topo.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDescribe(t *testing.T) {
	topo := newTestTopology(t)
	topo.AddContainer("web", "nginx").WithProperty("team", "edge")

	rp, ok := topo.Describe("web")
	require.True(t, ok)
	assert.Equal(t, "nginx", rp.Image)
	assert.Equal(t, domain.StatePending, rp.State)
	v, _ := rp.Properties.Get("team")
	assert.Equal(t, "edge", v)

	_, ok = topo.Describe("missing")
	assert.False(t, ok)
}
