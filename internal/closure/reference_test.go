package closure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountWalks_Diamond(t *testing.T) {
	a := TypeVector{1, 0}
	b := TypeVector{0, 1}
	edges := []Edge{
		{ID: 1, From: 1, To: 2, Types: a},
		{ID: 2, From: 1, To: 3, Types: a},
		{ID: 3, From: 2, To: 4, Types: a},
		{ID: 4, From: 3, To: 4, Types: b},
	}

	walks, err := CountWalks(edges, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(1), walks[PathKey{From: 1, To: 4, Types: "2,0"}])
	assert.Equal(t, int64(1), walks[PathKey{From: 1, To: 4, Types: "1,1"}])
	assert.Equal(t, int64(1), walks[PathKey{From: 1, To: 2, Types: "1,0"}])
	assert.Len(t, walks, 6)
}

func TestCountWalks_ParallelEdges(t *testing.T) {
	edges := []Edge{
		{ID: 1, From: 1, To: 2, Types: TypeVector{1}},
		{ID: 2, From: 1, To: 2, Types: TypeVector{1}},
		{ID: 3, From: 2, To: 3, Types: TypeVector{1}},
	}
	walks, err := CountWalks(edges, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(2), walks[PathKey{From: 1, To: 2, Types: "1"}])
	assert.Equal(t, int64(2), walks[PathKey{From: 1, To: 3, Types: "2"}])
}

func TestCountWalks_Cycle(t *testing.T) {
	edges := []Edge{
		{ID: 1, From: 1, To: 2, Types: TypeVector{1}},
		{ID: 2, From: 2, To: 1, Types: TypeVector{1}},
	}
	_, err := CountWalks(edges, 1)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestCountWalks_WidthMismatch(t *testing.T) {
	_, err := CountWalks([]Edge{{From: 1, To: 2, Types: TypeVector{1}}}, 2)
	assert.ErrorIs(t, err, ErrWidthMismatch)
}
