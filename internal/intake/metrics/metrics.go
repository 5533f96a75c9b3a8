package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the capture/correlation pipeline.
type Metrics struct {
	Captures          prometheus.Counter
	IdentifiersSeen   prometheus.Counter
	Matches           prometheus.Counter
	Timeouts          prometheus.Counter
	Backfills         prometheus.Counter
	SinkFailures      *prometheus.CounterVec
	MatchLatency      prometheus.Histogram
	PendingSubmission prometheus.Gauge
}

// New creates a Metrics instance with all pipeline metrics registered on the
// default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers all pipeline metrics on the given registerer. Tests pass
// a fresh registry so instances never collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Captures: factory.NewCounter(prometheus.CounterOpts{
			Name: "intakewatch_captures_total",
			Help: "Form submissions captured",
		}),
		IdentifiersSeen: factory.NewCounter(prometheus.CounterOpts{
			Name: "intakewatch_identifiers_total",
			Help: "Identifier events observed in network traffic",
		}),
		Matches: factory.NewCounter(prometheus.CounterOpts{
			Name: "intakewatch_matches_total",
			Help: "Submissions matched to an identifier inside the grace window",
		}),
		Timeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "intakewatch_timeouts_total",
			Help: "Submissions flushed unmatched after the pending timeout",
		}),
		Backfills: factory.NewCounter(prometheus.CounterOpts{
			Name: "intakewatch_backfills_total",
			Help: "Stored unmatched records back-filled by a late identifier",
		}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intakewatch_sink_failures_total",
			Help: "Failed sink writes by sink name",
		}, []string{"sink"}),
		MatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "intakewatch_match_latency_seconds",
			Help:    "Gap between form capture and identifier observation for matched records",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}),
		PendingSubmission: factory.NewGauge(prometheus.GaugeOpts{
			Name: "intakewatch_pending_submissions",
			Help: "Submissions currently awaiting an identifier",
		}),
	}
}

// ObserveMatchLatency records the capture-to-identifier gap of a match.
func (m *Metrics) ObserveMatchLatency(capturedAt, observedAt time.Time) {
	gap := observedAt.Sub(capturedAt)
	if gap < 0 {
		gap = -gap
	}
	m.MatchLatency.Observe(gap.Seconds())
}
