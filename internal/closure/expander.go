package closure

import (
	"context"
	"database/sql"
	"fmt"
)

// Execer runs a statement. *sql.Tx and *sql.DB satisfy it; callers pass a
// transaction so the closure update commits or rolls back with the edge row.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Expander inserts the paths a new direct edge creates.
type Expander struct {
	schema Schema
}

// NewExpander returns an Expander for the given schema.
func NewExpander(schema Schema) *Expander {
	return &Expander{schema: schema}
}

// SQL returns the INSERT statement for e. The one-hop row for e itself must
// already exist; it is not selected by any branch, so it is never duplicated.
func (x *Expander) SQL(e Edge) string {
	return fmt.Sprintf(`INSERT INTO %s (%s)
		%s`,
		x.schema.Table, x.schema.EdgeColumns(""), x.schema.pathsThrough(e))
}

// Expand inserts every path of the form (x→a)·e, e·(b→y) and (x→a)·e·(b→y)
// and returns the number of rows inserted.
//
// Not idempotent: running it twice for the same edge doubles the derived rows.
func (x *Expander) Expand(ctx context.Context, q Execer, e Edge) (int64, error) {
	if err := x.schema.ValidateDirect(e); err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, x.SQL(e))
	if err != nil {
		return 0, fmt.Errorf("expanding closure for %d->%d: %w", e.From, e.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading inserted row count: %w", err)
	}
	return n, nil
}
