package stacks

import (
	"context"
	"strings"
	"testing"

	"github.com/artpar/apphost/internal/assembler"
	"github.com/artpar/apphost/internal/core/compose"
	"github.com/artpar/apphost/internal/core/domain"
	"github.com/artpar/apphost/internal/core/flags"
	"github.com/artpar/apphost/internal/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecrets = map[string]string{
	"KEYCLOAK_ADMIN":          "admin",
	"KEYCLOAK_ADMIN_PASSWORD": "admin-secret",
	"KEYCLOAK_DB_USER":        "keycloak",
	"KEYCLOAK_DB_PASSWORD":    "keycloak-secret",
	"KEYCLOAK_DB":             "keycloak",
	"KEYCLOAK_BASE_URL":       "http://localhost:8080",
	"KEYCLOAK_MANAGEMENT_URL": "http://localhost:9000",
	"PLATFORM_DB_USER":        "platform",
	"PLATFORM_DB_PASSWORD":    "platform-secret",
	"PLATFORM_DB":             "platform",
	"PLATFORM_REALM":          "platform",
	"PORTAL_DB_USER":          "portal",
	"PORTAL_DB_PASSWORD":      "portal-secret",
	"PORTAL_DB":               "portal",
}

func testConfig() Config {
	return ConfigFrom(func(key string) string { return testSecrets[key] })
}

func assemble(t *testing.T, runMode string, cfg Config) (*topology.Topology, error) {
	t.Helper()
	topo := topology.New(topology.Options{Project: "keycloak"})
	t.Cleanup(topo.Close)
	a := assembler.New(assembler.Options{})
	Register(a, cfg)
	return topo, a.Assemble(context.Background(), flags.ParseOrDefault(runMode), topo)
}

func registered(topo *topology.Topology) []string {
	var out []string
	for _, r := range topo.Registry().All() {
		out = append(out, r.Name())
	}
	return out
}

func index(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestConfigFrom(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "keycloak", cfg.KeycloakDBUser)
	assert.Equal(t, "platform-secret", cfg.Platform.DBPassword)
	assert.Equal(t, "platform", cfg.Platform.Realm)
	assert.Equal(t, "portal", cfg.Portal.DB)
	assert.Empty(t, cfg.Portal.Realm)
	assert.Equal(t, "http://localhost:9000", cfg.KeycloakManagementURL)
}

func TestKeycloakWithoutManagementURL(t *testing.T) {
	cfg := testConfig()
	cfg.KeycloakManagementURL = ""
	topo, err := assemble(t, "", cfg)
	require.NoError(t, err)

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)
	kc, ok := plan.Resource(Keycloak)
	require.True(t, ok)
	_, ok = kc.Environment.Get("KC_HOSTNAME_ADMIN")
	assert.False(t, ok)
}

func TestInfraOnly(t *testing.T) {
	topo, err := assemble(t, "", testConfig())
	require.NoError(t, err)

	assert.Equal(t, []string{
		Collector, GroupObservability,
		HSMSim, GroupHSM,
		KeycloakDB, Keycloak, GroupKeycloak,
	}, registered(topo))
}

func TestPlatformFullAddsFrontend(t *testing.T) {
	topo, err := assemble(t, "platform:be+fe", testConfig())
	require.NoError(t, err)

	names := registered(topo)
	assert.Contains(t, names, "b01-platform-db")
	assert.Contains(t, names, "b02-platform-be")
	assert.Contains(t, names, "b03-platform-fe")
	assert.Contains(t, names, GroupPlatform)
	assert.NotContains(t, names, "c01-portal-db")
}

func TestPortalBackendOnly(t *testing.T) {
	topo, err := assemble(t, "portal:be", testConfig())
	require.NoError(t, err)

	names := registered(topo)
	assert.Contains(t, names, "c02-portal-be")
	assert.NotContains(t, names, "c03-portal-fe")
}

func TestMissingCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.KeycloakDBUser = ""
	cfg.Platform = App{}

	_, err := assemble(t, "platform:be", cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidFlagSelection)
	assert.Contains(t, err.Error(), "KEYCLOAK_DB_USER")
	assert.Contains(t, err.Error(), "PLATFORM_DB, PLATFORM_DB_PASSWORD, PLATFORM_DB_USER")
}

func TestKeycloakPlan(t *testing.T) {
	topo, err := assemble(t, "", testConfig())
	require.NoError(t, err)

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)

	assert.Less(t, index(plan.Order, KeycloakDB), index(plan.Order, Keycloak))
	assert.Less(t, index(plan.Order, Collector), index(plan.Order, Keycloak))

	kc, ok := plan.Resource(Keycloak)
	require.True(t, ok)
	port, _ := kc.Environment.Get("KC_DB_URL_PORT")
	assert.Equal(t, "5432", port)
	host, _ := kc.Environment.Get("KC_DB_URL_HOST")
	assert.Equal(t, KeycloakDB, host)
	opts, _ := kc.Environment.Get("JAVA_TOOL_OPTIONS")
	assert.Contains(t, opts, "http://e01-otelcollector:4318")
	require.NotNil(t, kc.HealthCheck)
	assert.Equal(t, "management", kc.HealthCheck.Endpoint)
	assert.Equal(t, []string{GroupKeycloak}, kc.Parents)
	admin, ok := kc.Environment.Get("KC_HOSTNAME_ADMIN")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9000", admin)

	sim, ok := plan.Resource(HSMSim)
	require.True(t, ok)
	require.Len(t, sim.Endpoints, 1)
	assert.Equal(t, "port-3001", sim.Endpoints[0].Name)
	assert.Equal(t, 33001, sim.Endpoints[0].HostPort)
}

func TestPlatformConnectionStringUsesHostPort(t *testing.T) {
	topo, err := assemble(t, "platform:be", testConfig())
	require.NoError(t, err)

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)

	be, ok := plan.Resource("b02-platform-be")
	require.True(t, ok)
	conn, _ := be.Environment.Get("ConnectionStrings__platformdb")
	assert.Equal(t, "Host=localhost;Port=25432;Database=platform;Username=platform;Password=platform-secret", conn)
}

func TestFunctionsConnectionString(t *testing.T) {
	topo, err := assemble(t, "functions", testConfig())
	require.NoError(t, err)

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)

	assert.Less(t, index(plan.Order, Azurite), index(plan.Order, FuncApp))

	fn, ok := plan.Resource(FuncApp)
	require.True(t, ok)
	conn, _ := fn.Environment.Get("AzureWebJobsStorage")
	assert.True(t, strings.HasPrefix(conn, "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;"))
	assert.Contains(t, conn, "BlobEndpoint=http://localhost:10000/devstoreaccount1;")
	assert.Contains(t, conn, "QueueEndpoint=http://localhost:10001/devstoreaccount1;")
	assert.Contains(t, conn, "TableEndpoint=http://localhost:10002/devstoreaccount1;")
	runtime, _ := fn.Environment.Get("FUNCTIONS_WORKER_RUNTIME")
	assert.Equal(t, "dotnet-isolated", runtime)
}

func TestConcurrentAssemblyMatchesSequential(t *testing.T) {
	topo := topology.New(topology.Options{Project: "keycloak"})
	t.Cleanup(topo.Close)
	a := assembler.New(assembler.Options{Concurrency: 4})
	Register(a, testConfig())

	err := a.Assemble(context.Background(), flags.Parse("platform:be+fe,portal:be+fe,functions"), topo)
	require.NoError(t, err)

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)
	assert.Len(t, plan.Order, len(registered(topo)))
}

const composeStack = `
services:
  cache:
    image: redis:7
    ports:
      - "6379"
    labels:
      apphost.parent: data
  api:
    build: ./api
    depends_on:
      - cache
    ports:
      - name: http
        target: 8080
        app_protocol: http
    environment:
      LOG_LEVEL: debug
    labels:
      apphost.parent: data
      apphost.health: http:/healthz
`

func TestFromCompose(t *testing.T) {
	doc, err := compose.Parse(context.Background(), "sample", composeStack)
	require.NoError(t, err)

	topo := topology.New(topology.Options{Project: doc.Name})
	t.Cleanup(topo.Close)
	a := assembler.New(assembler.Options{})
	a.Register("compose", flags.Always(), FromCompose(doc))
	require.NoError(t, a.Assemble(context.Background(), flags.ParseOrDefault(""), topo))

	plan, err := topo.Plan(context.Background())
	require.NoError(t, err)
	assert.Less(t, index(plan.Order, "cache"), index(plan.Order, "api"))

	api, ok := plan.Resource("api")
	require.True(t, ok)
	assert.Equal(t, "api:dev", api.Image)
	assert.Equal(t, []string{"data"}, api.Parents)
	lvl, _ := api.Environment.Get("LOG_LEVEL")
	assert.Equal(t, "debug", lvl)
	ctxDir, _ := api.Properties.Get("build.context")
	assert.NotEmpty(t, ctxDir)
	require.NotNil(t, api.HealthCheck)
	assert.Equal(t, "/healthz", api.HealthCheck.Path)

	group, ok := plan.Resource("data")
	require.True(t, ok)
	assert.Equal(t, domain.KindGroup, group.Kind)
}
