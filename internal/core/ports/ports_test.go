package ports

import (
	"errors"
	"testing"

	"github.com/artpar/apphost/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRange(t *testing.T) {
	r := DefaultRange()
	assert.Equal(t, 30000, r.Start)
	assert.Equal(t, 39999, r.End)
	assert.Equal(t, 10000, r.Size())
	require.NoError(t, r.Validate())
}

func TestAllocate(t *testing.T) {
	small := Range{Start: 30000, End: 30005}

	tests := []struct {
		name     string
		used     Set
		r        Range
		wantPort int
		wantErr  bool
	}{
		{"nothing used returns first port", nil, small, 30000, false},
		{"first port used returns second", NewSet(30000), small, 30001, false},
		{"gaps fill first gap", NewSet(30000, 30002), small, 30001, false},
		{"unsorted input", NewSet(30002, 30000, 30001), small, 30003, false},
		{"ports outside range ignored", NewSet(80, 443), small, 30000, false},
		{"all used", NewSet(30000, 30001, 30002, 30003, 30004, 30005), small, 0, true},
		{"single port range used", NewSet(30000), Range{Start: 30000, End: 30000}, 0, true},
		{"single port range free", nil, Range{Start: 30000, End: 30000}, 30000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, err := Allocate(tt.used, tt.r)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrNoAvailablePorts))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPort, port)
		})
	}
}

func TestRange_Validate(t *testing.T) {
	assert.Error(t, Range{Start: 0, End: 10}.Validate())
	assert.Error(t, Range{Start: 100, End: 99}.Validate())
	assert.Error(t, Range{Start: 60000, End: 70000}.Validate())
	assert.NoError(t, Range{Start: 5000, End: 5000}.Validate())
}

func TestRange_Contains(t *testing.T) {
	r := Range{Start: 10, End: 20}
	assert.True(t, r.Contains(10))
	assert.True(t, r.Contains(20))
	assert.False(t, r.Contains(21))
}
