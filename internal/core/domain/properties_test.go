package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestProperties_WithAppendsNewKey(t *testing.T) {
	p := PropertiesFromPairs("a", "1")
	p2 := p.With("b", "2")

	assert.Equal(t, []string{"a"}, p.Keys(), "receiver must not change")
	assert.Equal(t, []string{"a", "b"}, p2.Keys())
}

func TestProperties_WithReplacesInPlace(t *testing.T) {
	p := PropertiesFromPairs("a", "1", "b", "2", "c", "3")
	p = p.With("b", "9")

	assert.Equal(t, []string{"a", "b", "c"}, p.Keys())
	v, ok := p.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "9", v)
}

func TestProperties_RepublishDoesNotDuplicate(t *testing.T) {
	var p Properties
	p = p.With(ParentNameProperty, "g")
	p = p.With(ParentNameProperty, "g")
	assert.Len(t, p, 1)
}

func TestProperties_Merge(t *testing.T) {
	p := PropertiesFromPairs("a", "1").Merge(PropertiesFromPairs("a", "2", "b", "3"))
	assert.Equal(t, Properties{{Key: "a", Value: "2"}, {Key: "b", Value: "3"}}, p)
}

func TestProperties_JSONPreservesOrder(t *testing.T) {
	p := PropertiesFromPairs("z", "1", "a", "2")
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"1","a":"2"}`, string(data))

	var decoded Properties
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, p, decoded)
}

func TestProperties_UnmarshalRejectsArray(t *testing.T) {
	var p Properties
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &p))
}

func TestProperties_YAMLPreservesOrder(t *testing.T) {
	p := PropertiesFromPairs("zeta", "one", "alpha", "two")
	out, err := yaml.Marshal(struct {
		Props Properties `yaml:"props"`
	}{Props: p})
	require.NoError(t, err)
	assert.Equal(t, "props:\n    zeta: one\n    alpha: two\n", string(out))
}
