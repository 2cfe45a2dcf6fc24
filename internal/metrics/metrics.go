package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for analysis calls, reveal runs and session
// rejections. It satisfies analyzer.Observer, reveal.Observer and
// session.Observer.
type Metrics struct {
	analyzeRequests *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
	revealTicks     *prometheus.CounterVec
	revealRuns      *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	gatherer        prometheus.Gatherer
}

// New creates the collectors and registers them on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := NewWithRegisterer(reg)
	m.gatherer = reg
	return m
}

// NewWithRegisterer registers the collectors on reg
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		analyzeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoexplain_analyze_requests_total",
			Help: "Analysis requests by outcome.",
		}, []string{"outcome"}),
		analyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "duoexplain_analyze_duration_seconds",
			Help:    "Latency of analysis requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}),
		revealTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoexplain_reveal_ticks_total",
			Help: "Reveal ticks, split by whether they advanced a channel.",
		}, []string{"effective"}),
		revealRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoexplain_reveal_runs_total",
			Help: "Finished reveal runs by outcome.",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duoexplain_submissions_rejected_total",
			Help: "Submissions rejected before analysis.",
		}, []string{"reason"}),
		gatherer: prometheus.DefaultGatherer,
	}

	reg.MustRegister(m.analyzeRequests, m.analyzeDuration, m.revealTicks, m.revealRuns, m.rejected)
	return m
}

// ObserveAnalyze records one analysis call
func (m *Metrics) ObserveAnalyze(outcome string, elapsed time.Duration) {
	m.analyzeRequests.WithLabelValues(outcome).Inc()
	m.analyzeDuration.Observe(elapsed.Seconds())
}

// ObserveTick records one scheduler tick
func (m *Metrics) ObserveTick(advanced bool) {
	m.revealTicks.WithLabelValues(strconv.FormatBool(advanced)).Inc()
}

// ObserveRun records a finished reveal run
func (m *Metrics) ObserveRun(outcome string) {
	m.revealRuns.WithLabelValues(outcome).Inc()
}

// ObserveRejected records a rejected submission
func (m *Metrics) ObserveRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// Handler serves the exposition format for the registry the metrics live on
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
