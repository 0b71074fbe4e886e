package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	name   string
	result *Result
	delay  time.Duration
}

func (s *stubChecker) Name() string { return s.name }

func (s *stubChecker) Check(ctx context.Context) *Result {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Unhealthy("check cancelled").WithDetail("error", ctx.Err().Error())
		}
	}
	return s.result
}

func TestResultBuilders(t *testing.T) {
	r := Degraded("slow").WithDetail("status", 503).WithLatency(time.Second)
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "slow", r.Message)
	assert.Equal(t, 503, r.Details["status"])
	assert.Equal(t, time.Second, r.Latency)

	assert.Equal(t, "healthy", Healthy("").Status.String())
	assert.Equal(t, StatusUnhealthy, Unhealthy("x").Status)
}

func TestCheckKeepsRegistrationOrder(t *testing.T) {
	m := NewManager()
	m.AddChecker(&stubChecker{name: "slow", result: Healthy("ok"), delay: 20 * time.Millisecond})
	m.AddChecker(&stubChecker{name: "fast", result: Degraded("meh")})
	m.AddChecker(&stubChecker{name: "nil"})

	reports := m.Check(context.Background())
	require.Len(t, reports, 3)
	assert.Equal(t, []string{"slow", "fast", "nil"}, []string{reports[0].Name, reports[1].Name, reports[2].Name})
	assert.Equal(t, StatusHealthy, reports[0].Status)
	assert.Positive(t, reports[0].Latency)
	assert.Equal(t, StatusUnhealthy, reports[2].Status)
	assert.Equal(t, []string{"slow", "fast", "nil"}, m.CheckNames())
}

func TestCheckTimeout(t *testing.T) {
	m := NewManager().WithTimeout(10 * time.Millisecond)
	m.AddChecker(&stubChecker{name: "stuck", result: Healthy("ok"), delay: time.Second})

	start := time.Now()
	reports := m.Check(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StatusUnhealthy, reports[0].Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), reports[0].Details["error"])
}

func TestOverallStatus(t *testing.T) {
	report := func(s Status) Report { return Report{Name: string(s), Result: NewResult(s, "")} }

	assert.Equal(t, StatusHealthy, OverallStatus(nil))
	assert.Equal(t, StatusHealthy, OverallStatus([]Report{report(StatusHealthy)}))
	assert.Equal(t, StatusDegraded, OverallStatus([]Report{report(StatusHealthy), report(StatusDegraded)}))
	assert.Equal(t, StatusUnhealthy, OverallStatus([]Report{report(StatusDegraded), report(StatusUnhealthy)}))
}
