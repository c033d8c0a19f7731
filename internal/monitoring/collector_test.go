package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/pkg/jira"
	"github.com/sells-group/datemover/pkg/jira/mocks"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestCollector(client Tester, idle time.Duration) *Collector {
	c := NewCollector(client, idle)
	c.nowFunc = func() time.Time { return testNow }
	return c
}

func TestCollector_PassiveWhenTrafficIsRecent(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Health").Return(jira.HealthSnapshot{
		Connected:          true,
		LastSuccess:        testNow.Add(-30 * time.Second),
		TotalRequests:      12,
		TotalRetries:       2,
		ConnectionRecycles: 1,
	})

	snap, err := newTestCollector(client, 5*time.Minute).Collect(context.Background())

	require.NoError(t, err)
	assert.True(t, snap.Connected)
	assert.Nil(t, snap.Check)
	assert.Equal(t, int64(12), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.TotalRetries)
	assert.Equal(t, int64(1), snap.ConnectionRecycles)
	assert.Equal(t, testNow, snap.CollectedAt)
	client.AssertNotCalled(t, "TestConnection", mock.Anything)
}

func TestCollector_TestsConnectionWhenIdle(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Health").Return(jira.HealthSnapshot{}).Once()
	client.On("TestConnection", mock.Anything).Return(jira.ConnectionResult{
		Success: false,
		Message: "Authentication failed: invalid or expired token",
		Kind:    string(resilience.KindAuthentication),
	})
	client.On("Health").Return(jira.HealthSnapshot{
		LastFailure:         testNow,
		LastError:           "jira: server_info: HTTP 401",
		LastErrorKind:       resilience.KindAuthentication,
		ConsecutiveFailures: 1,
		Circuit:             resilience.CircuitSnapshot{State: resilience.CircuitClosed},
	}).Once()

	snap, err := newTestCollector(client, 5*time.Minute).Collect(context.Background())

	require.NoError(t, err)
	require.NotNil(t, snap.Check)
	assert.False(t, snap.Check.Success)
	assert.False(t, snap.Connected)
	assert.Equal(t, resilience.KindAuthentication, snap.LastErrorKind)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestCollector_NoCheckWhileInFlight(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Health").Return(jira.HealthSnapshot{InFlight: 2})

	snap, err := newTestCollector(client, time.Minute).Collect(context.Background())

	require.NoError(t, err)
	assert.Nil(t, snap.Check)
}

func TestCollector_CanceledDuringCheck(t *testing.T) {
	client := mocks.NewMockClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	client.On("Health").Return(jira.HealthSnapshot{})
	client.On("TestConnection", mock.Anything).Return(func(context.Context) jira.ConnectionResult {
		cancel()
		return jira.ConnectionResult{Kind: string(resilience.KindCanceled)}
	})

	_, err := newTestCollector(client, time.Minute).Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollector_NeedsCheck(t *testing.T) {
	c := newTestCollector(nil, time.Minute)

	assert.True(t, c.needsCheck(jira.HealthSnapshot{}))
	assert.False(t, c.needsCheck(jira.HealthSnapshot{LastSuccess: testNow.Add(-10 * time.Second)}))
	assert.True(t, c.needsCheck(jira.HealthSnapshot{LastSuccess: testNow.Add(-2 * time.Minute)}))
	assert.False(t, c.needsCheck(jira.HealthSnapshot{
		LastSuccess: testNow.Add(-2 * time.Minute),
		LastFailure: testNow.Add(-5 * time.Second),
	}), "a recent failure is recent traffic too")
}
