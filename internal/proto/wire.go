// Package proto defines wire format DTOs for the typeddag HTTP API and
// export packs.
package proto

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Driver   string `json:"driver,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// CreateEdgeRequest creates a direct edge. Exactly one of Type (a configured
// type column name) or Types (a one-hot vector) must be set.
type CreateEdgeRequest struct {
	From  int64   `json:"from"`
	To    int64   `json:"to"`
	Type  string  `json:"type,omitempty"`
	Types []int64 `json:"types,omitempty"`
}

// Edge is a closure row on the wire.
type Edge struct {
	ID     int64   `json:"id"`
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Types  []int64 `json:"types"`
	Direct bool    `json:"direct"`
}

// PathGroup is the number of paths between two nodes with one type vector.
type PathGroup struct {
	Types []int64 `json:"types"`
	// Hops is the path length in direct edges.
	Hops  int64 `json:"hops"`
	Count int64 `json:"count"`
}

// PathsResponse answers a reachability query.
type PathsResponse struct {
	From      int64       `json:"from"`
	To        int64       `json:"to"`
	Reachable bool        `json:"reachable"`
	Total     int64       `json:"total"`
	Groups    []PathGroup `json:"groups"`
}

// NodesResponse lists the nodes reachable from (or reaching) a node.
type NodesResponse struct {
	Node  int64   `json:"node"`
	Nodes []int64 `json:"nodes"`
}

// Mismatch is a path group whose stored count disagrees with the walk count.
type Mismatch struct {
	From     int64   `json:"from"`
	To       int64   `json:"to"`
	Types    []int64 `json:"types"`
	Expected int64   `json:"expected"`
	Actual   int64   `json:"actual"`
}

// VerifyResponse reports a full consistency check.
type VerifyResponse struct {
	OK          bool       `json:"ok"`
	DirectEdges int        `json:"directEdges"`
	Groups      int        `json:"groups"`
	Rows        int64      `json:"rows"`
	Mismatches  []Mismatch `json:"mismatches,omitempty"`
}

// FingerprintResponse carries the order-independent closure digest.
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// PackHeader describes an edge export pack.
type PackHeader struct {
	// PackID uniquely identifies the export.
	PackID string `json:"packId"`
	// Format is the pack format version.
	Format int `json:"format"`
	// TypeColumns are the type column names in slot order at export time.
	TypeColumns []string `json:"typeColumns"`
	// Count is the number of edges in the body.
	Count int `json:"count"`
	// Checksum is the hex blake3 digest of the body.
	Checksum string `json:"checksum"`
	// CreatedAt is Unix milliseconds.
	CreatedAt int64 `json:"createdAt"`
}

// PackEdge is one direct edge in a pack body. Type names the type column so
// packs stay readable even if slot order changes.
type PackEdge struct {
	ID   int64  `json:"id"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
	Type string `json:"type"`
}
