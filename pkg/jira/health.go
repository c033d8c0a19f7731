package jira

import (
	"sync"
	"time"

	"github.com/sells-group/datemover/internal/resilience"
)

// HealthSnapshot is the connectivity view exposed to status indicators.
type HealthSnapshot struct {
	Connected           bool                       `json:"connected"`
	LastSuccess         time.Time                  `json:"last_success,omitzero"`
	LastFailure         time.Time                  `json:"last_failure,omitzero"`
	LastError           string                     `json:"last_error,omitempty"`
	LastErrorKind       resilience.Kind            `json:"last_error_kind,omitempty"`
	ConsecutiveFailures int                        `json:"consecutive_failures"`
	InFlight            int                        `json:"in_flight"`
	Retrying            int                        `json:"retrying"`
	TotalRequests       int64                      `json:"total_requests"`
	TotalRetries        int64                      `json:"total_retries"`
	ConnectionRecycles  int64                      `json:"connection_recycles"`
	Circuit             resilience.CircuitSnapshot `json:"circuit"`
}

// healthTracker records the outcome of logical requests. Retries inside a
// request do not count as separate requests.
type healthTracker struct {
	mu sync.Mutex

	lastSuccess         time.Time
	lastFailure         time.Time
	lastError           string
	lastErrorKind       resilience.Kind
	consecutiveFailures int
	inFlight            int
	retrying            int
	totalRequests       int64
	totalRetries        int64

	nowFunc func() time.Time
}

func newHealthTracker() *healthTracker {
	return &healthTracker{nowFunc: time.Now}
}

func (h *healthTracker) begin() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight++
	h.totalRequests++
}

// retry records one scheduled retry; first reports whether the request just
// entered its retry phase.
func (h *healthTracker) retry(first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.totalRetries++
	if first {
		h.retrying++
	}
}

func (h *healthTracker) end(wasRetrying bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inFlight--
	if wasRetrying {
		h.retrying--
	}

	kind := resilience.Classify(err)
	switch kind {
	case resilience.KindNone, resilience.KindNotFound:
		// A 404 is still an answer from a reachable tracker.
		h.lastSuccess = h.nowFunc()
		h.consecutiveFailures = 0
	case resilience.KindCanceled:
	default:
		h.lastFailure = h.nowFunc()
		h.lastError = err.Error()
		h.lastErrorKind = kind
		h.consecutiveFailures++
	}
}

func (h *healthTracker) snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Connected:           !h.lastSuccess.IsZero() && !h.lastSuccess.Before(h.lastFailure),
		LastSuccess:         h.lastSuccess,
		LastFailure:         h.lastFailure,
		LastError:           h.lastError,
		LastErrorKind:       h.lastErrorKind,
		ConsecutiveFailures: h.consecutiveFailures,
		InFlight:            h.inFlight,
		Retrying:            h.retrying,
		TotalRequests:       h.totalRequests,
		TotalRetries:        h.totalRetries,
	}
}
