package closure

import "fmt"

type walkKey struct {
	to    int64
	types string
}

type walkCount struct {
	types TypeVector
	count int64
}

// CountWalks counts, by brute force over the direct edges, the walks between
// every pair of nodes grouped by summed type vector. It is the independent
// reference the closure table is verified against.
func CountWalks(edges []Edge, width int) (map[PathKey]int64, error) {
	out := make(map[int64][]Edge)
	for _, e := range edges {
		if err := e.Types.validate(width); err != nil {
			return nil, fmt.Errorf("edge %d: %w", e.ID, err)
		}
		out[e.From] = append(out[e.From], e)
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[int64]int)
	memo := make(map[int64]map[walkKey]*walkCount)

	var walk func(x int64) (map[walkKey]*walkCount, error)
	walk = func(x int64) (map[walkKey]*walkCount, error) {
		switch state[x] {
		case done:
			return memo[x], nil
		case visiting:
			return nil, fmt.Errorf("node %d: %w", x, ErrCycle)
		}
		state[x] = visiting

		acc := make(map[walkKey]*walkCount)
		add := func(to int64, types TypeVector, n int64) {
			k := walkKey{to: to, types: types.Key()}
			if wc, ok := acc[k]; ok {
				wc.count += n
				return
			}
			acc[k] = &walkCount{types: types, count: n}
		}

		for _, e := range out[x] {
			add(e.To, e.Types, 1)
			tails, err := walk(e.To)
			if err != nil {
				return nil, err
			}
			for k, wc := range tails {
				sum, err := e.Types.Add(wc.types)
				if err != nil {
					return nil, err
				}
				add(k.to, sum, wc.count)
			}
		}

		state[x] = done
		memo[x] = acc
		return acc, nil
	}

	result := make(map[PathKey]int64)
	for from := range out {
		walks, err := walk(from)
		if err != nil {
			return nil, err
		}
		for k, wc := range walks {
			result[PathKey{From: from, To: k.to, Types: k.types}] = wc.count
		}
	}
	return result, nil
}
