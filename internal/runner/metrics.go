package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runner's Prometheus collectors.
type Metrics struct {
	cycles      *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	lastCycle   prometheus.Gauge
}

// NewMetrics creates the runner collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtpsched",
			Name:      "cycle_total",
			Help:      "Scheduler cycles by result (ok, error).",
		}, []string{"result"}),
		outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtpsched",
			Name:      "entry_outcomes_total",
			Help:      "Per-entry cycle outcomes.",
		}, []string{"outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mtpsched",
			Name:      "job_duration_seconds",
			Help:      "Run time of job bodies by job name.",
			Buckets:   []float64{.01, .1, 1, 5, 30, 60, 300, 900, 3600},
		}, []string{"job"}),
		lastCycle: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "mtpsched",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
	}
}

func (m *Metrics) observeCycle(err error, finished time.Time) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.lastCycle.Set(float64(finished.Unix()))
}

func (m *Metrics) observeResult(res Result) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(res.Outcome.String()).Inc()
	if res.Outcome == OutcomeExecuted || (res.Outcome == OutcomeFailed && res.Duration > 0) {
		m.jobDuration.WithLabelValues(res.Entry.Name).Observe(res.Duration.Seconds())
	}
}
