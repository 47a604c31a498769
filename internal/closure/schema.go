package closure

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// identRegex matches identifiers that are safe to splice into SQL unquoted.
var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Schema describes the closure table and the columns holding the type vector.
type Schema struct {
	// Table is the closure table name.
	Table string
	// FromColumn holds the ancestor node id.
	FromColumn string
	// ToColumn holds the descendant node id.
	ToColumn string
	// TypeColumns holds one column per edge type, in slot order.
	TypeColumns []string
}

// DefaultSchema returns the conventional layout for the given type columns.
func DefaultSchema(typeColumns ...string) Schema {
	return Schema{
		Table:       "edges",
		FromColumn:  "from_id",
		ToColumn:    "to_id",
		TypeColumns: typeColumns,
	}
}

// Validate rejects empty type lists and identifiers that cannot be used verbatim.
func (s Schema) Validate() error {
	if len(s.TypeColumns) == 0 {
		return ErrEmptySchema
	}
	seen := map[string]bool{"id": true}
	for _, name := range append([]string{s.Table, s.FromColumn, s.ToColumn}, s.TypeColumns...) {
		if !identRegex.MatchString(name) {
			return fmt.Errorf("%q: %w", name, ErrInvalidIdentifier)
		}
	}
	for _, name := range append([]string{s.FromColumn, s.ToColumn}, s.TypeColumns...) {
		lower := strings.ToLower(name)
		if seen[lower] {
			return fmt.Errorf("%q: %w", name, ErrDuplicateColumn)
		}
		seen[lower] = true
	}
	return nil
}

// Width is the number of type slots.
func (s Schema) Width() int {
	return len(s.TypeColumns)
}

// SlotOf returns the slot index of a type column name.
func (s Schema) SlotOf(name string) (int, bool) {
	for i, c := range s.TypeColumns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// ValidateDirect checks that e fits the schema and is one-hot.
func (s Schema) ValidateDirect(e Edge) error {
	if err := e.Types.validate(s.Width()); err != nil {
		return err
	}
	if !e.IsDirect() {
		return fmt.Errorf("types (%s): %w", e.Types.Key(), ErrNotDirect)
	}
	return nil
}

// ----- Query fragments -----
//
// Node ids and vector slots are int64 values and are rendered as literals, so
// the generated statements carry no placeholders and read the same on every
// driver.

func lit(n int64) string {
	return strconv.FormatInt(n, 10)
}

// Columns returns "id, from, to, t1, ..., tn" qualified by alias (may be empty).
func (s Schema) Columns(alias string) string {
	return qualify(alias, "id") + ", " + s.EdgeColumns(alias)
}

// EdgeColumns returns "from, to, t1, ..., tn" qualified by alias.
func (s Schema) EdgeColumns(alias string) string {
	return qualify(alias, s.FromColumn) + ", " + qualify(alias, s.ToColumn) + ", " + s.TypeList(alias)
}

// TypeList returns "t1, ..., tn" qualified by alias.
func (s Schema) TypeList(alias string) string {
	cols := make([]string, len(s.TypeColumns))
	for i, c := range s.TypeColumns {
		cols[i] = qualify(alias, c)
	}
	return strings.Join(cols, ", ")
}

// shiftedTypes renders "alias.t_i + v_i AS t_i" for every slot.
func (s Schema) shiftedTypes(alias string, v TypeVector) string {
	cols := make([]string, len(s.TypeColumns))
	for i, c := range s.TypeColumns {
		cols[i] = fmt.Sprintf("%s + %s AS %s", qualify(alias, c), lit(v[i]), c)
	}
	return strings.Join(cols, ", ")
}

// bridgedTypes renders "left.t_i + v_i + right.t_i AS t_i" for every slot.
func (s Schema) bridgedTypes(left, right string, v TypeVector) string {
	cols := make([]string, len(s.TypeColumns))
	for i, c := range s.TypeColumns {
		cols[i] = fmt.Sprintf("%s + %s + %s AS %s", qualify(left, c), lit(v[i]), qualify(right, c), c)
	}
	return strings.Join(cols, ", ")
}

// sameGroup renders the equality predicate between two aliases over the group key.
func (s Schema) sameGroup(left, right string) string {
	cols := append([]string{s.FromColumn, s.ToColumn}, s.TypeColumns...)
	conds := make([]string, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = %s", qualify(left, c), qualify(right, c))
	}
	return strings.Join(conds, " AND ")
}

// pathsThrough selects every path that routes through the edge e, except e's
// own one-hop path: predecessors of e.From extended by e, e extended by
// successors of e.To, and both combined. Used by the Expander to materialize
// the paths e creates and by the Pruner to count the paths e supported.
func (s Schema) pathsThrough(e Edge) string {
	a, b := lit(e.From), lit(e.To)
	return fmt.Sprintf(`SELECT p.%[1]s AS %[1]s, %[4]s AS %[2]s, %[6]s
			FROM %[3]s p
			WHERE p.%[2]s = %[5]s
		UNION ALL
			SELECT %[5]s AS %[1]s, q.%[2]s AS %[2]s, %[7]s
			FROM %[3]s q
			WHERE q.%[1]s = %[4]s
		UNION ALL
			SELECT p.%[1]s AS %[1]s, q.%[2]s AS %[2]s, %[8]s
			FROM %[3]s p
			JOIN %[3]s q ON p.%[2]s = %[5]s AND q.%[1]s = %[4]s`,
		s.FromColumn, s.ToColumn, s.Table, b, a,
		s.shiftedTypes("p", e.Types),
		s.shiftedTypes("q", e.Types),
		s.bridgedTypes("p", "q", e.Types),
	)
}

// affectedRegion restricts rows to the (from, to) pairs whose path counts can
// change when e is removed: from in {e.From} ∪ ancestors(e.From) and to in
// {e.To} ∪ descendants(e.To).
func (s Schema) affectedRegion(e Edge) string {
	a, b := lit(e.From), lit(e.To)
	return fmt.Sprintf(`(%[1]s = %[4]s OR %[1]s IN (SELECT anc.%[1]s FROM %[3]s anc WHERE anc.%[2]s = %[4]s))
			AND (%[2]s = %[5]s OR %[2]s IN (SELECT des.%[2]s FROM %[3]s des WHERE des.%[1]s = %[5]s))`,
		s.FromColumn, s.ToColumn, s.Table, a, b)
}

func qualify(alias, col string) string {
	if alias == "" {
		return col
	}
	return alias + "." + col
}
