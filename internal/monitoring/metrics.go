package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors for tracker calls and history
// reconciliation. It satisfies jira.Observer.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	recycles        prometheus.Counter
	circuitState    prometheus.Gauge
	itemsProcessed  *prometheus.CounterVec
	changeCount     prometheus.Histogram
	unparseable     prometheus.Counter
}

// NewMetrics registers collectors on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datemover_jira_requests_total",
			Help: "Tracker HTTP attempts by operation, status code and failure kind",
		}, []string{"operation", "status", "kind"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "datemover_jira_request_duration_seconds",
			Help:    "Tracker HTTP attempt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.025, 2, 12), // 25ms to ~51s
		}, []string{"operation"}),
		retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datemover_jira_retries_total",
			Help: "Tracker retries by operation and failure kind",
		}, []string{"operation", "kind"}),
		recycles: f.NewCounter(prometheus.CounterOpts{
			Name: "datemover_jira_connection_recycles_total",
			Help: "Times the tracker connection pool was torn down and recreated",
		}),
		circuitState: f.NewGauge(prometheus.GaugeOpts{
			Name: "datemover_jira_circuit_state",
			Help: "Tracker circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		itemsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "datemover_history_items_total",
			Help: "Work items reconciled by outcome",
		}, []string{"outcome"}),
		changeCount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "datemover_history_change_count",
			Help:    "Recorded date changes per reconciled field",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		}),
		unparseable: f.NewCounter(prometheus.CounterOpts{
			Name: "datemover_history_unparseable_values_total",
			Help: "Changelog values skipped because they are not dates",
		}),
	}
}

// ObserveRequest records one HTTP attempt.
func (m *Metrics) ObserveRequest(operation string, status int, kind string, elapsed time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	m.requests.WithLabelValues(operation, strconv.Itoa(status), kind).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRetry records a retry about to be scheduled.
func (m *Metrics) ObserveRetry(operation, kind string) {
	m.retries.WithLabelValues(operation, kind).Inc()
}

// ObserveRecycle records a connection pool teardown.
func (m *Metrics) ObserveRecycle() {
	m.recycles.Inc()
}

// ObserveCircuitState records the breaker state as a number.
func (m *Metrics) ObserveCircuitState(state int) {
	m.circuitState.Set(float64(state))
}

// ObserveItem records the outcome of reconciling one work item.
func (m *Metrics) ObserveItem(outcome string) {
	m.itemsProcessed.WithLabelValues(outcome).Inc()
}

// ObserveField records one reconciled field.
func (m *Metrics) ObserveField(changes, unparseable int) {
	m.changeCount.Observe(float64(changes))
	m.unparseable.Add(float64(unparseable))
}
