package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GateTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirtydiff_gate_triggers_total",
		Help: "Recompute triggers by result (scheduled, queued, absorbed)",
	}, []string{"result"})

	Recomputes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirtydiff_recomputes_total",
		Help: "Finished recomputes by result (ok, error, discarded)",
	}, []string{"result"})

	RecomputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dirtydiff_recompute_duration_seconds",
		Help:    "Duration of a recompute from resolution to delta",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	DeltasEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dirtydiff_deltas_emitted_total",
		Help: "Non-empty change deltas published to listeners",
	})

	Trackers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dirtydiff_trackers",
		Help: "Currently attached trackers",
	})

	OriginalsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dirtydiff_originals_resolved_total",
		Help: "Original buffers acquired",
	})

	OriginalsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dirtydiff_originals_released_total",
		Help: "Original buffers disposed",
	})

	Repositories = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dirtydiff_repositories",
		Help: "Repositories currently registered",
	})

	CompareSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dirtydiff_compare_sessions_total",
		Help: "Settled compare sessions by outcome",
	}, []string{"outcome"})

	ComparePending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dirtydiff_compare_pending",
		Help: "Compare sessions awaiting a decision",
	})

	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dirtydiff_info",
		Help: "Daemon identity, always 1",
	}, []string{"instance"})
)
