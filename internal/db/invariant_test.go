package db

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typeddag/internal/closure"
)

func TestChain_ExpandAndPrune(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		e12 := mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 2, 3, typeA)

		assert.Equal(t, int64(1), pathCount(t, db, 1, 2, typeA))
		assert.Equal(t, int64(1), pathCount(t, db, 2, 3, typeA))
		assert.Equal(t, int64(1), pathCount(t, db, 1, 3, closure.TypeVector{2, 0}))
		assert.Equal(t, int64(3), totalRows(t, db))

		mustDelete(t, db, e12.ID)

		assert.Equal(t, int64(1), pathCount(t, db, 2, 3, typeA))
		assert.Equal(t, int64(1), totalRows(t, db))
		requireConsistent(t, db)
	})
}

func TestParallelEdgesOfDifferentType(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 1, 2, typeB)

		comps, err := db.Compositions(context.Background(), 1, 2)
		require.NoError(t, err)
		require.Len(t, comps, 2)
		assert.Equal(t, int64(1), pathCount(t, db, 1, 2, typeA))
		assert.Equal(t, int64(1), pathCount(t, db, 1, 2, typeB))
		requireConsistent(t, db)
	})
}

func TestDiamond_CountsBothRoutes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 1, 3, typeA)
		e24 := mustCreate(t, db, 2, 4, typeA)
		mustCreate(t, db, 3, 4, typeA)

		twoA := closure.TypeVector{2, 0}
		assert.Equal(t, int64(2), pathCount(t, db, 1, 4, twoA))

		mustDelete(t, db, e24.ID)

		assert.Equal(t, int64(1), pathCount(t, db, 1, 4, twoA))
		requireConsistent(t, db)
	})
}

func TestParallelEdgesOfSameType(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		first := mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 2, 3, typeB)
		mustCreate(t, db, 0, 1, typeB)

		assert.Equal(t, int64(2), pathCount(t, db, 1, 3, closure.TypeVector{1, 1}))
		assert.Equal(t, int64(2), pathCount(t, db, 0, 3, closure.TypeVector{1, 2}))

		mustDelete(t, db, first.ID)

		assert.Equal(t, int64(1), pathCount(t, db, 1, 2, typeA))
		assert.Equal(t, int64(1), pathCount(t, db, 1, 3, closure.TypeVector{1, 1}))
		assert.Equal(t, int64(1), pathCount(t, db, 0, 3, closure.TypeVector{1, 2}))
		requireConsistent(t, db)
	})
}

func TestBridgeBetweenRegions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		// Two diamonds joined by a single bridge edge 4->5.
		for _, e := range [][2]int64{{1, 2}, {1, 3}, {2, 4}, {3, 4}, {5, 6}, {5, 7}, {6, 8}, {7, 8}} {
			mustCreate(t, db, e[0], e[1], typeA)
		}
		bridge := mustCreate(t, db, 4, 5, typeB)

		// 2 ways into 4, 2 ways out of 5.
		assert.Equal(t, int64(4), pathCount(t, db, 1, 8, closure.TypeVector{4, 1}))
		requireConsistent(t, db)

		mustDelete(t, db, bridge.ID)

		reachable, err := db.Reachable(context.Background(), 1, 8)
		require.NoError(t, err)
		assert.False(t, reachable)
		requireConsistent(t, db)
	})
}

func TestRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		mustCreate(t, db, 1, 2, typeA)
		mustCreate(t, db, 2, 3, typeB)
		mustCreate(t, db, 1, 3, typeA)
		mustCreate(t, db, 3, 4, typeA)

		before, err := db.Fingerprint(ctx)
		require.NoError(t, err)
		rowsBefore := totalRows(t, db)

		e := mustCreate(t, db, 2, 4, typeB)
		assert.Greater(t, totalRows(t, db), rowsBefore)
		mustDelete(t, db, e.ID)

		after, err := db.Fingerprint(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, rowsBefore, totalRows(t, db))
	})
}

func TestOrderIndependence(t *testing.T) {
	edges := []EdgeSpec{
		{From: 1, To: 2, Types: typeA},
		{From: 2, To: 3, Types: typeB},
		{From: 1, To: 3, Types: typeA},
		{From: 3, To: 5, Types: typeA},
		{From: 2, To: 5, Types: typeB},
		{From: 0, To: 1, Types: typeB},
	}
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			forward := b.open(t)
			backward := b.open(t)

			for _, e := range edges {
				mustCreate(t, forward, e.From, e.To, e.Types)
			}
			for i := len(edges) - 1; i >= 0; i-- {
				mustCreate(t, backward, edges[i].From, edges[i].To, edges[i].Types)
			}

			fa, err := forward.Fingerprint(ctx)
			require.NoError(t, err)
			fb, err := backward.Fingerprint(ctx)
			require.NoError(t, err)
			assert.Equal(t, fa, fb)
		})
	}
}

func TestTeardownLeavesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		rng := rand.New(rand.NewSource(7))
		var ids []int64
		for from := int64(1); from <= 6; from++ {
			for to := from + 1; to <= 6; to++ {
				types := typeA
				if rng.Intn(2) == 0 {
					types = typeB
				}
				ids = append(ids, mustCreate(t, db, from, to, types).ID)
			}
		}
		requireConsistent(t, db)

		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		for _, id := range ids {
			mustDelete(t, db, id)
		}
		assert.Equal(t, int64(0), totalRows(t, db))
	})
}

// TestRandomOperations checks the count invariant after every step of a
// seeded sequence of creates and deletes over an acyclic node order.
func TestRandomOperations(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		rng := rand.New(rand.NewSource(42))
		var live []int64

		for step := 0; step < 60; step++ {
			if len(live) > 0 && rng.Intn(3) == 0 {
				i := rng.Intn(len(live))
				mustDelete(t, db, live[i])
				live = append(live[:i], live[i+1:]...)
			} else {
				from := int64(rng.Intn(7))
				to := from + 1 + int64(rng.Intn(int(8-from)))
				types := typeA
				if rng.Intn(2) == 0 {
					types = typeB
				}
				live = append(live, mustCreate(t, db, from, to, types).ID)
			}
			requireConsistent(t, db)
		}
	})
}
