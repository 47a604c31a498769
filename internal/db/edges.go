package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"typeddag/internal/closure"
	"typeddag/internal/ctxlog"
)

// ----- Direct edges -----

// CreateEdge writes a direct edge and expands the closure in one transaction.
func (db *DB) CreateEdge(ctx context.Context, from, to int64, types closure.TypeVector) (*closure.Edge, error) {
	var created closure.Edge
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		e, err := db.createEdgeTx(ctx, tx, from, to, types)
		created = e
		return err
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("edge created",
		"edge_id", created.ID, "from", from, "to", to, "types", types.Key())
	return &created, nil
}

// CreateEdgeOfType creates a direct edge whose single set slot is the named
// type column.
func (db *DB) CreateEdgeOfType(ctx context.Context, from, to int64, typeName string) (*closure.Edge, error) {
	types, err := db.TypesOf(typeName)
	if err != nil {
		return nil, err
	}
	return db.CreateEdge(ctx, from, to, types)
}

// TypesOf returns the one-hot vector for a type column name.
func (db *DB) TypesOf(typeName string) (closure.TypeVector, error) {
	slot, ok := db.schema.SlotOf(typeName)
	if !ok {
		return nil, fmt.Errorf("%q (known: %s): %w", typeName, strings.Join(db.schema.TypeColumns, ", "), ErrUnknownType)
	}
	return closure.OneHot(db.schema.Width(), slot), nil
}

func (db *DB) createEdgeTx(ctx context.Context, tx *sql.Tx, from, to int64, types closure.TypeVector) (closure.Edge, error) {
	e := closure.Edge{From: from, To: to, Types: types}
	if from == to {
		return e, fmt.Errorf("node %d: %w", from, ErrSelfLoop)
	}
	if err := db.schema.ValidateDirect(e); err != nil {
		return e, err
	}

	id, err := db.insertEdge(ctx, tx, e)
	if err != nil {
		return e, fmt.Errorf("inserting edge: %w", err)
	}
	e.ID = id

	if err := db.closure.OnEdgeCreated(ctx, tx, e); err != nil {
		return e, err
	}
	return e, nil
}

// insertEdge writes a single row. A non-zero e.ID is written verbatim.
func (db *DB) insertEdge(ctx context.Context, tx *sql.Tx, e closure.Edge) (int64, error) {
	s := db.schema
	cols := s.EdgeColumns("")
	args := []any{e.From, e.To}
	for _, n := range e.Types {
		args = append(args, n)
	}
	if e.ID != 0 {
		cols = "id, " + cols
		args = append([]any{e.ID}, args...)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", s.Table, cols, placeholders)

	if db.driver == DriverPostgres {
		var id int64
		err := db.queryRow(ctx, tx, q+" RETURNING id", args...).Scan(&id)
		return id, err
	}

	result, err := db.exec(ctx, tx, q, args...)
	if err != nil {
		return 0, err
	}
	if e.ID != 0 {
		return e.ID, nil
	}
	return result.LastInsertId()
}

// DeleteEdge removes a direct edge by id and prunes the closure in one
// transaction. Derived rows are rejected with ErrDerivedEdge.
func (db *DB) DeleteEdge(ctx context.Context, id int64) (*closure.Edge, error) {
	var deleted closure.Edge
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		e, err := db.getEdge(ctx, tx, id)
		if err != nil {
			return err
		}
		deleted = e
		return db.deleteEdgeTx(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("edge deleted",
		"edge_id", deleted.ID, "from", deleted.From, "to", deleted.To, "types", deleted.Types.Key())
	return &deleted, nil
}

// DeleteEdgeBetween removes one direct edge of the named type between two
// nodes. With parallel edges of the same type the oldest one goes.
func (db *DB) DeleteEdgeBetween(ctx context.Context, from, to int64, typeName string) (*closure.Edge, error) {
	types, err := db.TypesOf(typeName)
	if err != nil {
		return nil, err
	}
	slot := types.Slot()

	var deleted closure.Edge
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		q := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s = ? AND %s = ? AND %s AND %s = 1 ORDER BY id LIMIT 1",
			db.schema.Columns(""), db.schema.Table, db.schema.FromColumn, db.schema.ToColumn,
			db.directCondition(), db.schema.TypeColumns[slot],
		)
		e, err := db.scanEdge(db.queryRow(ctx, tx, q, from, to))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("finding edge: %w", err)
		}
		deleted = e
		return db.deleteEdgeTx(ctx, tx, e)
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("edge deleted",
		"edge_id", deleted.ID, "from", from, "to", to, "type", typeName)
	return &deleted, nil
}

func (db *DB) deleteEdgeTx(ctx context.Context, tx *sql.Tx, e closure.Edge) error {
	if !e.IsDirect() {
		return fmt.Errorf("row %d (%s): %w", e.ID, e.Types.Key(), ErrDerivedEdge)
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", db.schema.Table)
	if _, err := db.exec(ctx, tx, q, e.ID); err != nil {
		return fmt.Errorf("deleting edge: %w", err)
	}
	return db.closure.OnEdgeDeleted(ctx, tx, e)
}

// EdgeSpec describes a direct edge to import.
type EdgeSpec struct {
	From  int64
	To    int64
	Types closure.TypeVector
}

// ImportEdges creates all edges in a single transaction. Either every edge
// and its closure is written, or nothing is.
func (db *DB) ImportEdges(ctx context.Context, specs []EdgeSpec) ([]closure.Edge, error) {
	created := make([]closure.Edge, 0, len(specs))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for i, s := range specs {
			e, err := db.createEdgeTx(ctx, tx, s.From, s.To, s.Types)
			if err != nil {
				return fmt.Errorf("edge %d (%d->%d): %w", i, s.From, s.To, err)
			}
			created = append(created, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("edges imported", "count", len(created))
	return created, nil
}

// ----- Lookups -----

// GetEdge retrieves a closure row (direct or derived) by id.
func (db *DB) GetEdge(ctx context.Context, id int64) (*closure.Edge, error) {
	e, err := db.getEdge(ctx, db.DB, id)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *DB) getEdge(ctx context.Context, on querier, id int64) (closure.Edge, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", db.schema.Columns(""), db.schema.Table)
	e, err := db.scanEdge(db.queryRow(ctx, on, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("querying edge: %w", err)
	}
	return e, nil
}

// ListDirectEdges returns every direct edge in creation order.
func (db *DB) ListDirectEdges(ctx context.Context) ([]closure.Edge, error) {
	return db.listDirectEdges(ctx, db.DB)
}

func (db *DB) listDirectEdges(ctx context.Context, on querier) ([]closure.Edge, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id",
		db.schema.Columns(""), db.schema.Table, db.directCondition())
	rows, err := db.query(ctx, on, q)
	if err != nil {
		return nil, fmt.Errorf("listing direct edges: %w", err)
	}
	return db.scanEdges(rows)
}

// Paths returns every path record from one node to another.
func (db *DB) Paths(ctx context.Context, from, to int64) ([]closure.Edge, error) {
	s := db.schema
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ? ORDER BY id",
		s.Columns(""), s.Table, s.FromColumn, s.ToColumn)
	rows, err := db.query(ctx, db.DB, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing paths: %w", err)
	}
	return db.scanEdges(rows)
}

// Compositions returns, per distinct type vector, how many paths lead from
// one node to another.
func (db *DB) Compositions(ctx context.Context, from, to int64) ([]closure.Composition, error) {
	s := db.schema
	q := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM %[2]s
		WHERE %[3]s = ? AND %[4]s = ?
		GROUP BY %[1]s
		ORDER BY %[1]s`,
		s.EdgeColumns(""), s.Table, s.FromColumn, s.ToColumn)
	rows, err := db.query(ctx, db.DB, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying compositions: %w", err)
	}
	return db.scanCompositions(rows)
}

// GroupCounts returns the number of rows of every (from, to, types) group.
func (db *DB) GroupCounts(ctx context.Context) ([]closure.Composition, error) {
	return db.groupCounts(ctx, db.DB)
}

func (db *DB) groupCounts(ctx context.Context, on querier) ([]closure.Composition, error) {
	s := db.schema
	q := fmt.Sprintf("SELECT %[1]s, COUNT(*) FROM %[2]s GROUP BY %[1]s ORDER BY %[1]s",
		s.EdgeColumns(""), s.Table)
	rows, err := db.query(ctx, on, q)
	if err != nil {
		return nil, fmt.Errorf("counting path groups: %w", err)
	}
	return db.scanCompositions(rows)
}

func (db *DB) scanCompositions(rows *sql.Rows) ([]closure.Composition, error) {
	defer rows.Close()
	var out []closure.Composition
	for rows.Next() {
		c := closure.Composition{Types: make(closure.TypeVector, db.schema.Width())}
		dest := []any{&c.From, &c.To}
		for i := range c.Types {
			dest = append(dest, &c.Types[i])
		}
		dest = append(dest, &c.Count)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reachable reports whether at least one path leads from one node to another.
func (db *DB) Reachable(ctx context.Context, from, to int64) (bool, error) {
	s := db.schema
	q := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? AND %s = ? LIMIT 1", s.Table, s.FromColumn, s.ToColumn)
	var one int
	err := db.queryRow(ctx, db.DB, q, from, to).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking reachability: %w", err)
	}
	return true, nil
}

// Descendants returns every node reachable from node.
func (db *DB) Descendants(ctx context.Context, node int64) ([]int64, error) {
	s := db.schema
	return db.nodeIDs(ctx, fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s = ? ORDER BY %[1]s",
		s.ToColumn, s.Table, s.FromColumn), node)
}

// Ancestors returns every node node is reachable from.
func (db *DB) Ancestors(ctx context.Context, node int64) ([]int64, error) {
	s := db.schema
	return db.nodeIDs(ctx, fmt.Sprintf("SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s = ? ORDER BY %[1]s",
		s.FromColumn, s.Table, s.ToColumn), node)
}

func (db *DB) nodeIDs(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := db.query(ctx, db.DB, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
