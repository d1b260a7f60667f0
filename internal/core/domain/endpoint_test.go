package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpointSpec_Defaults(t *testing.T) {
	spec, err := NormalizeEndpointSpec(EndpointSpec{TargetPort: 5432})
	require.NoError(t, err)
	assert.Equal(t, "tcp", spec.Protocol)
	assert.Equal(t, "tcp", spec.Scheme)
	assert.Equal(t, "tcp", spec.Name)
}

func TestNormalizeEndpointSpec_Invalid(t *testing.T) {
	_, err := NormalizeEndpointSpec(EndpointSpec{TargetPort: 0})
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))

	_, err = NormalizeEndpointSpec(EndpointSpec{TargetPort: 80, Protocol: "sctp"})
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))

	_, err = NormalizeEndpointSpec(EndpointSpec{TargetPort: 80, HostPort: 70000})
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))
}

func TestEndpoint_URL(t *testing.T) {
	ep := Endpoint{
		EndpointSpec: EndpointSpec{Name: "http", Scheme: "http", TargetPort: 80, HostPort: 8080},
		Resource:     "web",
	}
	_, err := ep.URL()
	assert.True(t, errors.Is(err, ErrEndpointNotBound))

	ep.Bound = true
	ep.Host = "localhost"
	url, err := ep.URL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", url)
}

func TestParseEndpointSpec(t *testing.T) {
	specs, err := ParseEndpointSpec("15432:5432")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, 5432, specs[0].TargetPort)
	assert.Equal(t, 15432, specs[0].HostPort)
	assert.Equal(t, "tcp", specs[0].Protocol)

	specs, err = ParseEndpointSpec("53/udp")
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "udp", specs[0].Protocol)
	assert.Equal(t, 0, specs[0].HostPort)
}

func TestParseEndpointSpec_Invalid(t *testing.T) {
	_, err := ParseEndpointSpec("not-a-port")
	assert.True(t, errors.Is(err, ErrInvalidEndpoint))
}
