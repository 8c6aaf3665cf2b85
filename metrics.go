package swapsort

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// iterationsTotal counts completed iterations
	iterationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapsort_iterations_total",
		Help: "Completed sort iterations",
	})

	// attemptedSwapsTotal counts evaluated pairs
	attemptedSwapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapsort_attempted_swaps_total",
		Help: "Pairs evaluated by the compare-exchange step",
	})

	// swapsTotal counts pairs that were exchanged
	swapsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapsort_swaps_total",
		Help: "Pairs exchanged by the compare-exchange step",
	})

	// unitDuration tracks the latency of one dispatch unit
	unitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swapsort_unit_duration_seconds",
		Help:    "Duration of one dispatch unit (IterationsPerDispatch iterations)",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 0.1ms to ~3s
	})

	// checkpointsTotal counts persisted checkpoints by result
	checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapsort_checkpoints_total",
		Help: "Checkpoints by result",
	}, []string{"result"})

	// checkpointDuration tracks snapshot decode plus persistence time
	checkpointDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swapsort_checkpoint_duration_seconds",
		Help:    "Checkpoint decode and save duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
)
