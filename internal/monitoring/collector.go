package monitoring

import (
	"context"
	"time"

	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/pkg/jira"
)

// MetricsSnapshot holds a point-in-time view of tracker connectivity.
type MetricsSnapshot struct {
	Connected           bool                    `json:"connected"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	LastError           string                  `json:"last_error,omitempty"`
	LastErrorKind       resilience.Kind         `json:"last_error_kind,omitempty"`
	CircuitState        resilience.CircuitState `json:"circuit_state"`
	TotalRequests       int64                   `json:"total_requests"`
	TotalRetries        int64                   `json:"total_retries"`
	ConnectionRecycles  int64                   `json:"connection_recycles"`

	// Check is set when the collector ran an active connection test.
	Check *jira.ConnectionResult `json:"check,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// Tester is the part of jira.Client the collector needs.
type Tester interface {
	TestConnection(ctx context.Context) jira.ConnectionResult
	Health() jira.HealthSnapshot
}

// Collector gathers connectivity metrics from the tracker client.
type Collector struct {
	client Tester
	// idle is how long without traffic before Collect tests the connection actively.
	idle    time.Duration
	nowFunc func() time.Time
}

// NewCollector creates a collector that tests the tracker connection when no request
// has completed within idle.
func NewCollector(client Tester, idle time.Duration) *Collector {
	return &Collector{client: client, idle: idle, nowFunc: time.Now}
}

// Collect returns the current connectivity view. Passive health is used
// while traffic is flowing; otherwise a connection test runs first so the
// snapshot reflects the tracker as it is now.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	var check *jira.ConnectionResult
	if c.needsCheck(c.client.Health()) {
		res := c.client.TestConnection(ctx)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		check = &res
	}

	h := c.client.Health()
	return &MetricsSnapshot{
		Connected:           h.Connected,
		ConsecutiveFailures: h.ConsecutiveFailures,
		LastError:           h.LastError,
		LastErrorKind:       h.LastErrorKind,
		CircuitState:        h.Circuit.State,
		TotalRequests:       h.TotalRequests,
		TotalRetries:        h.TotalRetries,
		ConnectionRecycles:  h.ConnectionRecycles,
		Check:               check,
		CollectedAt:         c.nowFunc().UTC(),
	}, nil
}

func (c *Collector) needsCheck(h jira.HealthSnapshot) bool {
	if h.InFlight > 0 {
		return false
	}
	last := h.LastSuccess
	if h.LastFailure.After(last) {
		last = h.LastFailure
	}
	return last.IsZero() || c.nowFunc().Sub(last) >= c.idle
}
