package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"typeddag/internal/cas"
	"typeddag/internal/closure"
	"typeddag/internal/ctxlog"
)

// Mismatch is a path group whose stored row count differs from the number of
// walks the direct edges allow.
type Mismatch struct {
	From     int64
	To       int64
	Types    closure.TypeVector
	Expected int64
	Actual   int64
}

// VerifyReport summarizes a full comparison of the closure table against a
// brute-force walk count.
type VerifyReport struct {
	DirectEdges int
	Groups      int
	Rows        int64
	Mismatches  []Mismatch
}

// OK reports whether the table matched exactly.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0
}

// Verify recomputes every path count from the direct edges and compares it
// with the stored groups. A non-empty Mismatches list means the closure was
// corrupted, e.g. by a maintenance statement that ran outside a transaction.
func (db *DB) Verify(ctx context.Context) (*VerifyReport, error) {
	var direct []closure.Edge
	var groups []closure.Composition

	// Read both sides from one snapshot.
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if direct, err = db.listDirectEdges(ctx, tx); err != nil {
			return err
		}
		groups, err = db.groupCounts(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}

	expected, err := closure.CountWalks(direct, db.schema.Width())
	if err != nil {
		return nil, fmt.Errorf("counting walks: %w", err)
	}

	report := &VerifyReport{DirectEdges: len(direct), Groups: len(groups)}
	seen := make(map[closure.PathKey]bool, len(groups))
	for _, g := range groups {
		key := g.Key()
		seen[key] = true
		report.Rows += g.Count
		if want := expected[key]; want != g.Count {
			report.Mismatches = append(report.Mismatches, Mismatch{
				From: g.From, To: g.To, Types: g.Types, Expected: want, Actual: g.Count,
			})
		}
	}
	for key, want := range expected {
		if seen[key] {
			continue
		}
		types, err := closure.ParseKey(key.Types)
		if err != nil {
			return nil, err
		}
		report.Mismatches = append(report.Mismatches, Mismatch{
			From: key.From, To: key.To, Types: types, Expected: want,
		})
	}
	sort.Slice(report.Mismatches, func(i, j int) bool {
		a, b := report.Mismatches[i], report.Mismatches[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Types.Key() < b.Types.Key()
	})

	logger := ctxlog.FromContext(ctx)
	if report.OK() {
		logger.Debug("closure verified", "direct", report.DirectEdges, "rows", report.Rows)
	} else {
		logger.Warn("closure mismatch", "groups", len(report.Mismatches))
	}
	return report, nil
}

// RebuildStats describes a completed rebuild.
type RebuildStats struct {
	DirectEdges int
	Rows        int64
}

// Rebuild discards every row and replays the direct edges in id order,
// re-deriving the whole closure in one transaction. Direct edges keep their ids.
// This is the repair path for a table left inconsistent by a non-atomic write.
func (db *DB) Rebuild(ctx context.Context) (*RebuildStats, error) {
	stats := &RebuildStats{}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		direct, err := db.listDirectEdges(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := db.exec(ctx, tx, "DELETE FROM "+db.schema.Table); err != nil {
			return fmt.Errorf("clearing closure: %w", err)
		}
		for _, e := range direct {
			if _, err := db.insertEdge(ctx, tx, e); err != nil {
				return fmt.Errorf("reinserting edge %d: %w", e.ID, err)
			}
			if err := db.closure.OnEdgeCreated(ctx, tx, e); err != nil {
				return err
			}
		}
		stats.DirectEdges = len(direct)
		return db.queryRow(ctx, tx, "SELECT COUNT(*) FROM "+db.schema.Table).Scan(&stats.Rows)
	})
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("closure rebuilt", "direct", stats.DirectEdges, "rows", stats.Rows)
	return stats, nil
}

type fingerprintGroup struct {
	From  int64   `json:"from"`
	To    int64   `json:"to"`
	Types []int64 `json:"types"`
	Count int64   `json:"count"`
}

// Fingerprint digests the multiset of path groups. Row ids do not contribute,
// so two tables holding the same paths fingerprint equally regardless of the
// order their edges were created in.
func (db *DB) Fingerprint(ctx context.Context) (string, error) {
	groups, err := db.GroupCounts(ctx)
	if err != nil {
		return "", err
	}
	payload := struct {
		Columns []string           `json:"columns"`
		Groups  []fingerprintGroup `json:"groups"`
	}{Columns: db.schema.TypeColumns, Groups: make([]fingerprintGroup, len(groups))}
	for i, g := range groups {
		payload.Groups[i] = fingerprintGroup{From: g.From, To: g.To, Types: g.Types, Count: g.Count}
	}
	return cas.Digest("closure", payload)
}
