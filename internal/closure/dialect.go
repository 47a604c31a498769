package closure

import (
	"fmt"
	"strings"
)

// Rank strategy names accepted by RankerFor.
const (
	StrategyWindow  = "window"
	StrategyCounter = "counter"
)

// rankColumn is the alias of the computed rank in ranked row sets.
const rankColumn = "rnk"

// Ranker assigns each row a rank 1..k within its (from, to, types) group.
//
// Implementations differ only in how they compute the rank. For the same
// input they yield the same rank distribution per group; which row gets which
// rank is unspecified.
type Ranker interface {
	// Name returns the strategy name.
	Name() string
	// RankedRows returns a SELECT over s.Table producing the id, the group
	// key columns and the rank column for every row matching where.
	RankedRows(s Schema, where string) string
}

// RankerFor returns the ranker for a configured strategy name.
func RankerFor(strategy string) (Ranker, error) {
	switch strings.ToLower(strategy) {
	case StrategyWindow:
		return WindowRanker{}, nil
	case StrategyCounter:
		return CounterRanker{}, nil
	default:
		return nil, fmt.Errorf("%q: %w", strategy, ErrUnknownStrategy)
	}
}

// WindowRanker ranks with ROW_NUMBER() OVER (PARTITION BY ...).
// Works on PostgreSQL, SQLite 3.25+ and MySQL 8.
type WindowRanker struct{}

func (WindowRanker) Name() string { return StrategyWindow }

func (WindowRanker) RankedRows(s Schema, where string) string {
	return fmt.Sprintf(`SELECT %s,
			ROW_NUMBER() OVER (PARTITION BY %s ORDER BY id) AS %s
		FROM %s
		WHERE %s`,
		s.Columns(""), s.EdgeColumns(""), rankColumn, s.Table, where)
}

// CounterRanker emulates the window function with MySQL session variables.
// Rows are materialized in group order by a derived table (the LIMIT keeps
// the optimizer from merging it and dropping the ORDER BY), then the counter
// increments while the group key repeats and resets to 1 when it changes.
// GREATEST evaluates the comparison before LEAST overwrites the remembered
// key. LEAST(0, ...) is at most 0 and the rank is at least 1, so GREATEST
// always returns the rank, whatever the sign of the node ids.
type CounterRanker struct{}

func (CounterRanker) Name() string { return StrategyCounter }

// maxRows is MySQL's documented "no limit" value for LIMIT.
const maxRows = "18446744073709551615"

func (CounterRanker) RankedRows(s Schema, where string) string {
	cols := append([]string{s.FromColumn, s.ToColumn}, s.TypeColumns...)

	inits := []string{"@closure_rnk := 0"}
	compares := make([]string, len(cols))
	assigns := make([]string, len(cols))
	for i, c := range cols {
		inits = append(inits, fmt.Sprintf("@closure_%s := NULL", c))
		compares[i] = fmt.Sprintf("@closure_%[1]s = sorted.%[1]s", c)
		assigns[i] = fmt.Sprintf("@closure_%[1]s := sorted.%[1]s", c)
	}

	return fmt.Sprintf(`SELECT %s,
			GREATEST(
				@closure_rnk := IF(%s, @closure_rnk + 1, 1),
				LEAST(0, %s)
			) AS %s
		FROM (SELECT %s) closure_vars
		CROSS JOIN (
			SELECT %s
			FROM %s
			WHERE %s
			ORDER BY %s, id
			LIMIT %s
		) sorted`,
		s.Columns("sorted"),
		strings.Join(compares, " AND "),
		strings.Join(assigns, ", "),
		rankColumn,
		strings.Join(inits, ", "),
		s.Columns(""),
		s.Table,
		where,
		s.EdgeColumns(""),
		maxRows,
	)
}
