package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"typeddag/internal/cfg"
	"typeddag/internal/closure"
	"typeddag/internal/ctxlog"
	"typeddag/internal/db"
	"typeddag/internal/proto"
)

// Handler serves the closure store over HTTP.
type Handler struct {
	db  *db.DB
	cfg *cfg.Config
}

// NewHandler creates a new API handler.
func NewHandler(store *db.DB, cfg *cfg.Config) *Handler {
	return &Handler{db: store, cfg: cfg}
}

// NewRouter creates the HTTP router with all routes registered. Metrics are
// served from gatherer when it is non-nil.
func NewRouter(store *db.DB, cfg *cfg.Config, gatherer prometheus.Gatherer) http.Handler {
	h := NewHandler(store, cfg)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)

	// Edges
	mux.HandleFunc("POST /v1/edges", h.CreateEdge)
	mux.HandleFunc("GET /v1/edges/{id}", h.GetEdge)
	mux.HandleFunc("DELETE /v1/edges/{id}", h.DeleteEdge)

	// Reachability
	mux.HandleFunc("GET /v1/paths", h.Paths)
	mux.HandleFunc("GET /v1/nodes/{id}/descendants", h.Descendants)
	mux.HandleFunc("GET /v1/nodes/{id}/ancestors", h.Ancestors)

	// Maintenance
	mux.HandleFunc("GET /v1/verify", h.Verify)
	mux.HandleFunc("GET /v1/fingerprint", h.Fingerprint)

	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := proto.HealthResponse{Status: "ok", Version: h.cfg.Version}
	if h.db != nil {
		resp.Driver = h.db.Driver().String()
		resp.Strategy = h.db.Strategy()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ----- Edges -----

func (h *Handler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if (req.Type == "") == (len(req.Types) == 0) {
		writeError(w, http.StatusBadRequest, "exactly one of type or types required", nil)
		return
	}

	var (
		e   *closure.Edge
		err error
	)
	if req.Type != "" {
		e, err = h.db.CreateEdgeOfType(r.Context(), req.From, req.To, req.Type)
	} else {
		e, err = h.db.CreateEdge(r.Context(), req.From, req.To, closure.TypeVector(req.Types))
	}
	if err != nil {
		h.fail(w, r, "failed to create edge", err)
		return
	}
	writeJSON(w, http.StatusCreated, edgeToWire(*e))
}

func (h *Handler) GetEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	e, err := h.db.GetEdge(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to get edge", err)
		return
	}
	writeJSON(w, http.StatusOK, edgeToWire(*e))
}

func (h *Handler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	e, err := h.db.DeleteEdge(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to delete edge", err)
		return
	}
	writeJSON(w, http.StatusOK, edgeToWire(*e))
}

// ----- Reachability -----

func (h *Handler) Paths(w http.ResponseWriter, r *http.Request) {
	from, ok := queryInt(w, r, "from")
	if !ok {
		return
	}
	to, ok := queryInt(w, r, "to")
	if !ok {
		return
	}

	comps, err := h.db.Compositions(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, "failed to query paths", err)
		return
	}

	resp := proto.PathsResponse{From: from, To: to, Groups: []proto.PathGroup{}}
	for _, c := range comps {
		resp.Groups = append(resp.Groups, proto.PathGroup{Types: c.Types, Hops: c.Types.Sum(), Count: c.Count})
		resp.Total += c.Count
	}
	resp.Reachable = resp.Total > 0
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Descendants(w http.ResponseWriter, r *http.Request) {
	h.nodes(w, r, h.db.Descendants)
}

func (h *Handler) Ancestors(w http.ResponseWriter, r *http.Request) {
	h.nodes(w, r, h.db.Ancestors)
}

func (h *Handler) nodes(w http.ResponseWriter, r *http.Request, lookup func(context.Context, int64) ([]int64, error)) {
	id, ok := pathInt(w, r, "id")
	if !ok {
		return
	}
	nodes, err := lookup(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to query nodes", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.NodesResponse{Node: id, Nodes: nodes})
}

// ----- Maintenance -----

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.db.Verify(r.Context())
	if err != nil {
		h.fail(w, r, "failed to verify closure", err)
		return
	}
	resp := proto.VerifyResponse{
		OK:          report.OK(),
		DirectEdges: report.DirectEdges,
		Groups:      report.Groups,
		Rows:        report.Rows,
	}
	for _, m := range report.Mismatches {
		resp.Mismatches = append(resp.Mismatches, proto.Mismatch{
			From:     m.From,
			To:       m.To,
			Types:    m.Types,
			Expected: m.Expected,
			Actual:   m.Actual,
		})
	}
	if !resp.OK {
		ctxlog.FromContext(r.Context()).Warn("closure verification failed", "mismatches", len(resp.Mismatches))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Fingerprint(w http.ResponseWriter, r *http.Request) {
	fp, err := h.db.Fingerprint(r.Context())
	if err != nil {
		h.fail(w, r, "failed to compute fingerprint", err)
		return
	}
	writeJSON(w, http.StatusOK, proto.FingerprintResponse{Fingerprint: fp})
}

// ----- Helpers -----

// statusFor maps store and closure errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrDerivedEdge):
		return http.StatusConflict
	case errors.Is(err, db.ErrSelfLoop),
		errors.Is(err, db.ErrUnknownType),
		errors.Is(err, closure.ErrNotDirect),
		errors.Is(err, closure.ErrWidthMismatch),
		errors.Is(err, closure.ErrNegativeTypeCount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).Error(msg, "error", err)
	}
	writeError(w, status, msg, err)
}

func edgeToWire(e closure.Edge) proto.Edge {
	return proto.Edge{
		ID:     e.ID,
		From:   e.From,
		To:     e.To,
		Types:  e.Types,
		Direct: e.IsDirect(),
	}
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name), err)
		return 0, false
	}
	return n, true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s required", name), nil)
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name), err)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := proto.ErrorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
