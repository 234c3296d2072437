package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Error kinds reported on reconcile_errors_total.
const (
	KindValidation = "validation"
	KindRetrieval  = "retrieval"
	KindPersist    = "persist"
	KindLock       = "lock"
	KindOther      = "other"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "batchplant",
		Subsystem: "reconcile",
		Name:      "decisions_total",
		Help:      "Link decisions applied, by resulting state.",
	}, []string{"state"})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "batchplant",
		Subsystem: "reconcile",
		Name:      "errors_total",
		Help:      "Reconciliation runs that ended without a decision, by cause.",
	}, []string{"kind"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "batchplant",
		Subsystem: "reconcile",
		Name:      "run_seconds",
		Help:      "Wall time of one reconciliation run.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	candidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "batchplant",
		Subsystem: "reconcile",
		Name:      "candidates",
		Help:      "Same-day candidate orders considered per run.",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})
)

func ObserveDecision(state string, candidateCount int, elapsed time.Duration) {
	decisions.WithLabelValues(state).Inc()
	candidates.Observe(float64(candidateCount))
	runDuration.Observe(elapsed.Seconds())
}

func ObserveFailure(kind string, elapsed time.Duration) {
	failures.WithLabelValues(kind).Inc()
	runDuration.Observe(elapsed.Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
