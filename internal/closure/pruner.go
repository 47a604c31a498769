package closure

import (
	"context"
	"fmt"
)

// Pruner removes the paths a deleted direct edge no longer supports.
//
// It works in three set-based steps folded into one DELETE:
//  1. count, per (from, to, types) group, the paths that routed through the
//     edge (the same three branches the Expander inserts);
//  2. rank the stored rows of the affected region within their group;
//  3. delete the rows ranked at or below the through-count, leaving exactly
//     group size minus through-count rows in every group.
//
// Rows of one group are interchangeable, so which physical rows survive is
// unspecified. Only the per-group count is meaningful.
type Pruner struct {
	schema Schema
	ranker Ranker
}

// NewPruner returns a Pruner for the given schema and rank strategy.
func NewPruner(schema Schema, ranker Ranker) *Pruner {
	return &Pruner{schema: schema, ranker: ranker}
}

// SQL returns the DELETE statement for e. The row of e itself must already be
// gone when it runs, otherwise it would count e as its own continuation.
func (p *Pruner) SQL(e Edge) string {
	s := p.schema
	return fmt.Sprintf(`DELETE FROM %[1]s
		WHERE id IN (
			SELECT ranked.id
			FROM (
				SELECT %[2]s, COUNT(*) AS through_count
				FROM (
					%[3]s
				) through_paths
				GROUP BY %[2]s
			) doomed
			JOIN (
				%[4]s
			) ranked
			ON %[5]s
				AND ranked.%[6]s <= doomed.through_count
		)`,
		s.Table,
		s.EdgeColumns(""),
		s.pathsThrough(e),
		p.ranker.RankedRows(s, s.affectedRegion(e)),
		s.sameGroup("ranked", "doomed"),
		rankColumn,
	)
}

// Prune deletes the surplus rows left by removing e and returns how many rows
// were deleted.
func (p *Pruner) Prune(ctx context.Context, q Execer, e Edge) (int64, error) {
	if err := p.schema.ValidateDirect(e); err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, p.SQL(e))
	if err != nil {
		return 0, fmt.Errorf("pruning closure for %d->%d (%s): %w", e.From, e.To, p.ranker.Name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading deleted row count: %w", err)
	}
	return n, nil
}
