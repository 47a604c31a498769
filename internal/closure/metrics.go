package closure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records closure maintenance activity.
type Metrics struct {
	RowsInserted prometheus.Counter
	RowsDeleted  prometheus.Counter
	Duration     *prometheus.HistogramVec
	Failures     *prometheus.CounterVec
}

// NewMetrics registers the closure metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RowsInserted: f.NewCounter(prometheus.CounterOpts{
			Name: "typeddag_closure_rows_inserted_total",
			Help: "Derived path records inserted by the expander",
		}),
		RowsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "typeddag_closure_rows_deleted_total",
			Help: "Derived path records deleted by the pruner",
		}),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "typeddag_closure_operation_duration_seconds",
				Help:    "Duration of closure maintenance statements",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op", "strategy"},
		),
		Failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "typeddag_closure_failures_total",
				Help: "Closure maintenance statements that returned an error",
			},
			[]string{"op"},
		),
	}
}
