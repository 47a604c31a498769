// Package closure maintains a typed transitive-closure table for a DAG.
//
// Every row of the closure table is one distinct path between two nodes,
// annotated with the elementwise sum of the type vectors of the direct edges
// along it. Direct edges are the rows whose type vector is one-hot; all other
// rows are derived by the Expander when a direct edge is created and removed
// by the Pruner when one is deleted. Both run as single set-based statements
// inside the caller's transaction.
package closure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptySchema       = errors.New("type schema has no columns")
	ErrInvalidIdentifier = errors.New("invalid SQL identifier")
	ErrDuplicateColumn   = errors.New("duplicate column")
	ErrUnknownStrategy   = errors.New("unknown rank strategy")
	ErrWidthMismatch     = errors.New("type vector width does not match schema")
	ErrNotDirect         = errors.New("edge is not direct (type vector must be one-hot)")
	ErrNegativeTypeCount = errors.New("type vector has a negative slot")
	ErrCycle             = errors.New("graph contains a cycle")
)

// TypeVector holds one counter per configured edge type.
type TypeVector []int64

// OneHot returns a vector of the given width with slot set to 1.
func OneHot(width, slot int) TypeVector {
	v := make(TypeVector, width)
	v[slot] = 1
	return v
}

// IsOneHot reports whether exactly one slot is 1 and the rest are 0.
func (v TypeVector) IsOneHot() bool {
	ones := 0
	for _, n := range v {
		switch n {
		case 0:
		case 1:
			ones++
		default:
			return false
		}
	}
	return ones == 1
}

// Slot returns the index of the set slot of a one-hot vector, or -1.
func (v TypeVector) Slot() int {
	if !v.IsOneHot() {
		return -1
	}
	for i, n := range v {
		if n == 1 {
			return i
		}
	}
	return -1
}

// Add returns the elementwise sum of v and o.
func (v TypeVector) Add(o TypeVector) (TypeVector, error) {
	if len(v) != len(o) {
		return nil, fmt.Errorf("adding width %d to width %d: %w", len(o), len(v), ErrWidthMismatch)
	}
	sum := make(TypeVector, len(v))
	for i := range v {
		sum[i] = v[i] + o[i]
	}
	return sum, nil
}

// Sum returns the total number of edges the vector accounts for.
func (v TypeVector) Sum() int64 {
	var total int64
	for _, n := range v {
		total += n
	}
	return total
}

// Equal reports whether both vectors have the same width and slots.
func (v TypeVector) Equal(o TypeVector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Key renders the vector as a stable map key, e.g. "1,0,2".
func (v TypeVector) Key() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ",")
}

// ParseKey is the inverse of Key.
func ParseKey(key string) (TypeVector, error) {
	if key == "" {
		return TypeVector{}, nil
	}
	parts := strings.Split(key, ",")
	v := make(TypeVector, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing slot %d of %q: %w", i, key, err)
		}
		v[i] = n
	}
	return v, nil
}

func (v TypeVector) validate(width int) error {
	if len(v) != width {
		return fmt.Errorf("got width %d, want %d: %w", len(v), width, ErrWidthMismatch)
	}
	for _, n := range v {
		if n < 0 {
			return ErrNegativeTypeCount
		}
	}
	return nil
}

// Edge is a closure-table row. Direct edges carry a one-hot vector.
type Edge struct {
	ID    int64
	From  int64
	To    int64
	Types TypeVector
}

// IsDirect reports whether the edge is an externally managed direct edge.
func (e Edge) IsDirect() bool {
	return e.Types.IsOneHot()
}

// PathKey identifies a group of interchangeable path records.
type PathKey struct {
	From  int64
	To    int64
	Types string // TypeVector.Key()
}

// Composition is the number of paths between two nodes with a given vector.
type Composition struct {
	From  int64
	To    int64
	Types TypeVector
	Count int64
}

// Key returns the group key of the composition.
func (c Composition) Key() PathKey {
	return PathKey{From: c.From, To: c.To, Types: c.Types.Key()}
}
