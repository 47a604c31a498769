package closure

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"typeddag/internal/ctxlog"
)

const tracerName = "typeddag/closure"

// Maintainer is the entry point the persistence layer calls from inside the
// transaction that writes or removes a direct edge.
type Maintainer struct {
	schema   Schema
	ranker   Ranker
	expander *Expander
	pruner   *Pruner
	metrics  *Metrics
	tracer   trace.Tracer
}

// Option configures a Maintainer.
type Option func(*Maintainer)

// WithMetrics records statement counts and durations.
func WithMetrics(m *Metrics) Option {
	return func(mt *Maintainer) { mt.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(mt *Maintainer) { mt.tracer = tp.Tracer(tracerName) }
}

// NewMaintainer validates the schema and wires the Expander and Pruner.
func NewMaintainer(schema Schema, ranker Ranker, opts ...Option) (*Maintainer, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if ranker == nil {
		ranker = WindowRanker{}
	}
	m := &Maintainer{
		schema:   schema,
		ranker:   ranker,
		expander: NewExpander(schema),
		pruner:   NewPruner(schema, ranker),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Schema returns the schema the maintainer was built for.
func (m *Maintainer) Schema() Schema { return m.schema }

// Ranker returns the configured rank strategy.
func (m *Maintainer) Ranker() Ranker { return m.ranker }

// OnEdgeCreated expands the closure for a direct edge whose row was just
// written through q. Non-direct edges are ignored.
func (m *Maintainer) OnEdgeCreated(ctx context.Context, q Execer, e Edge) error {
	if !e.IsDirect() {
		return nil
	}
	_, err := m.run(ctx, "expand", e, func(ctx context.Context) (int64, error) {
		return m.expander.Expand(ctx, q, e)
	})
	return err
}

// OnEdgeDeleted prunes the closure for a direct edge whose row was just
// removed through q. Non-direct edges are ignored.
func (m *Maintainer) OnEdgeDeleted(ctx context.Context, q Execer, e Edge) error {
	if !e.IsDirect() {
		return nil
	}
	_, err := m.run(ctx, "prune", e, func(ctx context.Context) (int64, error) {
		return m.pruner.Prune(ctx, q, e)
	})
	return err
}

func (m *Maintainer) run(ctx context.Context, op string, e Edge, fn func(context.Context) (int64, error)) (int64, error) {
	ctx, span := m.tracer.Start(ctx, "closure."+op, trace.WithAttributes(
		attribute.Int64("edge.id", e.ID),
		attribute.Int64("edge.from", e.From),
		attribute.Int64("edge.to", e.To),
		attribute.String("edge.types", e.Types.Key()),
		attribute.String("closure.strategy", m.ranker.Name()),
	))
	defer span.End()

	start := time.Now()
	n, err := fn(ctx)
	elapsed := time.Since(start)

	logger := ctxlog.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if m.metrics != nil {
			m.metrics.Failures.WithLabelValues(op).Inc()
		}
		logger.ErrorContext(ctx, "closure "+op+" failed",
			"edge_id", e.ID, "from", e.From, "to", e.To, "error", err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("closure.rows", n))
	if m.metrics != nil {
		m.metrics.Duration.WithLabelValues(op, m.ranker.Name()).Observe(elapsed.Seconds())
		switch op {
		case "expand":
			m.metrics.RowsInserted.Add(float64(n))
		case "prune":
			m.metrics.RowsDeleted.Add(float64(n))
		}
	}
	logger.DebugContext(ctx, "closure "+op,
		"edge_id", e.ID, "from", e.From, "to", e.To, "rows", n, "elapsed", elapsed)
	return n, nil
}
