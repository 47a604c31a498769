// Package background provides background processing for typeddag.
package background

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"typeddag/internal/ctxlog"
	"typeddag/internal/db"
)

// Store is the subset of *db.DB the verifier needs.
type Store interface {
	Verify(ctx context.Context) (*db.VerifyReport, error)
	Rebuild(ctx context.Context) (*db.RebuildStats, error)
}

// Verifier periodically checks the closure table against a brute-force walk
// count and, when configured, rebuilds it on mismatch.
type Verifier struct {
	store       Store
	interval    time.Duration
	autoRebuild bool
	stop        chan struct{}
	done        chan struct{}

	inconsistent prometheus.Gauge
	rebuilds     prometheus.Counter
}

// NewVerifier creates a background verifier. reg may be nil.
func NewVerifier(store Store, interval time.Duration, autoRebuild bool, reg prometheus.Registerer) *Verifier {
	f := promauto.With(reg)
	return &Verifier{
		store:       store,
		interval:    interval,
		autoRebuild: autoRebuild,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		inconsistent: f.NewGauge(prometheus.GaugeOpts{
			Name: "typeddag_closure_inconsistent_groups",
			Help: "Path groups whose row count disagreed with the walk count at the last check",
		}),
		rebuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "typeddag_closure_rebuilds_total",
			Help: "Automatic closure rebuilds triggered by the verifier",
		}),
	}
}

// Start begins the background processing loop.
func (v *Verifier) Start(ctx context.Context) {
	go v.run(ctx)
}

// Stop signals the verifier to stop and waits for the current check.
func (v *Verifier) Stop() {
	close(v.stop)
	<-v.done
}

func (v *Verifier) run(ctx context.Context) {
	defer close(v.done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-v.stop:
			return
		case <-ticker.C:
			v.CheckOnce(ctx)
		}
	}
}

// CheckOnce runs a single verification pass and returns the number of
// inconsistent groups found, or -1 if the check itself failed.
func (v *Verifier) CheckOnce(ctx context.Context) int {
	ctx = ctxlog.With(ctx, "component", "verifier")
	logger := ctxlog.FromContext(ctx)

	report, err := v.store.Verify(ctx)
	if err != nil {
		logger.Error("closure verification failed", "error", err)
		return -1
	}
	n := len(report.Mismatches)
	v.inconsistent.Set(float64(n))
	if n == 0 {
		logger.Debug("closure consistent", "direct_edges", report.DirectEdges, "rows", report.Rows)
		return 0
	}

	logger.Warn("closure inconsistent", "mismatches", n, "groups", report.Groups)
	if !v.autoRebuild {
		return n
	}
	stats, err := v.store.Rebuild(ctx)
	if err != nil {
		logger.Error("closure rebuild failed", "error", err)
		return n
	}
	v.rebuilds.Inc()
	v.inconsistent.Set(0)
	logger.Warn("closure rebuilt", "direct_edges", stats.DirectEdges, "rows", stats.Rows)
	return n
}
