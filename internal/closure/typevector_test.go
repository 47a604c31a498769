package closure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeVector_IsOneHot(t *testing.T) {
	tests := []struct {
		name string
		v    TypeVector
		want bool
	}{
		{"single slot", TypeVector{1}, true},
		{"first of three", TypeVector{1, 0, 0}, true},
		{"last of three", TypeVector{0, 0, 1}, true},
		{"all zero", TypeVector{0, 0, 0}, false},
		{"two ones", TypeVector{1, 1, 0}, false},
		{"two in one slot", TypeVector{2, 0, 0}, false},
		{"empty", TypeVector{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.IsOneHot())
		})
	}
}

func TestTypeVector_Add(t *testing.T) {
	sum, err := TypeVector{1, 0, 2}.Add(TypeVector{0, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, TypeVector{1, 1, 5}, sum)

	_, err = TypeVector{1}.Add(TypeVector{1, 0})
	assert.ErrorIs(t, err, ErrWidthMismatch)
}

func TestTypeVector_KeyRoundTrip(t *testing.T) {
	v := TypeVector{3, 0, 12}
	assert.Equal(t, "3,0,12", v.Key())

	parsed, err := ParseKey(v.Key())
	require.NoError(t, err)
	assert.True(t, v.Equal(parsed))

	_, err = ParseKey("1,x")
	assert.Error(t, err)
}

func TestOneHotAndSlot(t *testing.T) {
	v := OneHot(3, 2)
	assert.Equal(t, TypeVector{0, 0, 1}, v)
	assert.Equal(t, 2, v.Slot())
	assert.Equal(t, int64(1), v.Sum())
	assert.Equal(t, -1, TypeVector{1, 1}.Slot())
}

func TestEdge_IsDirect(t *testing.T) {
	assert.True(t, Edge{From: 1, To: 2, Types: TypeVector{0, 1}}.IsDirect())
	assert.False(t, Edge{From: 1, To: 3, Types: TypeVector{0, 2}}.IsDirect())
}
