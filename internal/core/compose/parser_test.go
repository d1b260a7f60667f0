package compose

import (
	"context"
	"errors"
	"testing"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const keycloakSpec = `
services:
  a01-keycloak-db:
    image: postgres:17.6-alpine3.22
    ports:
      - name: port
        target: 5432
        published: "15432"
    environment:
      POSTGRES_USER: keycloak
      POSTGRES_DB: keycloak
    volumes:
      - keycloak_db_data:/var/lib/postgresql/data
    labels:
      apphost.parent: a-keycloak

  a02-keycloak:
    build: ../../keycloak
    depends_on:
      - a01-keycloak-db
    ports:
      - name: http
        target: 8080
        app_protocol: http
      - name: management
        target: 9000
        app_protocol: http
    labels:
      apphost.parent: a-keycloak
      apphost.health: management:/health/ready
      com.example.team: identity

volumes:
  keycloak_db_data:
`

func parse(t *testing.T, content string) *Document {
	t.Helper()
	doc, err := Parse(context.Background(), "test", content)
	require.NoError(t, err)
	return doc
}

// =============================================================================
// Input Validation Tests
// =============================================================================

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse(context.Background(), "", "   \n")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse(context.Background(), "", "services: [unclosed")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NotAMapping(t *testing.T) {
	_, err := Parse(context.Background(), "", "- a\n- b\n")
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestParse_NoServices(t *testing.T) {
	_, err := Parse(context.Background(), "", "volumes:\n  data:\n")
	assert.ErrorIs(t, err, ErrNoServices)
}

func TestParse_ServiceWithoutImageOrBuild(t *testing.T) {
	_, err := Parse(context.Background(), "", "services:\n  app:\n    command: [\"true\"]\n")
	assert.ErrorIs(t, err, ErrServiceNoImage)
}

func TestParse_SecretsUnsupported(t *testing.T) {
	content := `
services:
  app:
    image: nginx
secrets:
  token:
    file: ./token.txt
`
	_, err := Parse(context.Background(), "", content)
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
}

// =============================================================================
// Conversion Tests
// =============================================================================

func TestParse_DocumentOrderPreserved(t *testing.T) {
	doc := parse(t, `
services:
  zeta:
    image: busybox
  alpha:
    image: busybox
  mid:
    image: busybox
`)
	names := make([]string, len(doc.Services))
	for i, s := range doc.Services {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, names)
}

func TestParse_ProjectName(t *testing.T) {
	doc := parse(t, minimalSpec)
	assert.Equal(t, "test", doc.Name)

	doc, err := Parse(context.Background(), "", minimalSpec)
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, doc.Name)
}

const minimalSpec = `
services:
  app:
    image: nginx:latest
`

func TestParse_KeycloakStack(t *testing.T) {
	doc := parse(t, keycloakSpec)
	require.Len(t, doc.Services, 2)

	db := doc.Services[0]
	assert.Equal(t, "a01-keycloak-db", db.Name)
	assert.Equal(t, "postgres:17.6-alpine3.22", db.Image)
	assert.Equal(t, "a-keycloak", db.Parent)
	require.Len(t, db.Endpoints, 1)
	assert.Equal(t, domain.EndpointSpec{
		Name:       "port",
		Protocol:   "tcp",
		Scheme:     "tcp",
		TargetPort: 5432,
		HostPort:   15432,
	}, db.Endpoints[0])
	assert.Equal(t, []string{"POSTGRES_DB", "POSTGRES_USER"}, db.Environment.Keys())
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, "/var/lib/postgresql/data", db.Volumes[0].Target)

	kc := doc.Services[1]
	assert.Equal(t, "../../keycloak", kc.Build)
	assert.Equal(t, []string{"a01-keycloak-db"}, kc.DependsOn)
	require.Len(t, kc.Endpoints, 2)
	assert.Equal(t, "http", kc.Endpoints[0].Scheme)
	assert.Equal(t, 0, kc.Endpoints[0].HostPort)
	assert.Equal(t, &domain.HealthCheck{Endpoint: "management", Path: "/health/ready"}, kc.HealthCheck)

	team, ok := kc.Properties.Get("com.example.team")
	require.True(t, ok)
	assert.Equal(t, "identity", team)
	_, ok = kc.Properties.Get(LabelParent)
	assert.False(t, ok)
}

func TestParse_ShortPortSyntaxNames(t *testing.T) {
	doc := parse(t, `
services:
  dns:
    image: coredns
    ports:
      - "53:53/udp"
      - "8053"
`)
	eps := doc.Services[0].Endpoints
	require.Len(t, eps, 2)
	assert.Equal(t, "port-53-udp", eps[0].Name)
	assert.Equal(t, "udp", eps[0].Protocol)
	assert.Equal(t, 53, eps[0].HostPort)
	assert.Equal(t, "port-8053", eps[1].Name)
	assert.Equal(t, 0, eps[1].HostPort)
}

func TestParse_CircularDependency(t *testing.T) {
	content := `
services:
  a:
    image: busybox
    depends_on: [b]
  b:
    image: busybox
    depends_on: [a]
`
	_, err := Parse(context.Background(), "", content)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCycle))
}

// =============================================================================
// Label Tests
// =============================================================================

func TestParse_HealthLabelUnknownEndpoint(t *testing.T) {
	content := `
services:
  app:
    image: nginx
    ports: ["80"]
    labels:
      apphost.health: http:/health
`
	_, err := Parse(context.Background(), "", content)
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestParse_HealthLabelMalformed(t *testing.T) {
	content := `
services:
  app:
    image: nginx
    ports: ["80"]
    labels:
      apphost.health: port-80
`
	_, err := Parse(context.Background(), "", content)
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestParse_UnknownApphostLabel(t *testing.T) {
	content := `
services:
  app:
    image: nginx
    labels:
      apphost.lifetime: persistent
`
	_, err := Parse(context.Background(), "", content)
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestParse_InvalidParentLabel(t *testing.T) {
	content := `
services:
  app:
    image: nginx
    labels:
      apphost.parent: "my group"
`
	_, err := Parse(context.Background(), "", content)
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestParseError_Format(t *testing.T) {
	err := NewParseError("services.web.ports[0]", "bad port", ErrServiceInvalidPort)
	assert.Equal(t, "services.web.ports[0]: bad port", err.Error())
	assert.ErrorIs(t, err, ErrServiceInvalidPort)
	assert.Equal(t, "bad port", NewParseError("", "bad port", nil).Error())
}
