package pipeline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// stageTimings and warningsTotal are the optional per-stage
// timing/warning counters SPEC_FULL.md §10 names, wired off the Prompt
// State Tracker's existing RecordStageResolution/AddWarning hooks
// rather than a separate instrumentation layer — the Tracker already
// observes every stage transition and warning, so it is the natural
// place to export them (§4.11).
var (
	stageTimings = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conduit",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Time spent resolving or executing one pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	warningsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conduit",
		Subsystem: "pipeline",
		Name:      "warnings_total",
		Help:      "Count of resolution-time warnings raised, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(stageTimings, warningsTotal)
}

func observeStageTiming(stage Stage, elapsed time.Duration) {
	stageTimings.WithLabelValues(strconv.Itoa(int(stage))).Observe(elapsed.Seconds())
}

func observeWarning(kind string) {
	warningsTotal.WithLabelValues(kind).Inc()
}
