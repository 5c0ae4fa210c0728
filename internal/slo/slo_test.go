package slo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComplianceAndErrorBudget(t *testing.T) {
	m := NewMonitor()
	m.Register(Target{Name: "matching-latency", TargetPercentage: 99, WindowHours: 24})

	for i := 0; i < 100; i++ {
		good := i >= 5 // 95 good, 5 bad
		m.Record("matching-latency", good, 10*time.Millisecond)
	}

	compliance := m.Compliance("matching-latency")
	require.InDelta(t, 0.95, compliance, 0.001)

	budget := m.ErrorBudget("matching-latency")
	require.InDelta(t, (1-0.99)-(1-0.95), budget, 0.001)
	require.Less(t, budget, 0.0, "95%% compliance against a 99%% target should exhaust the budget")
}

func TestLatencyQuantile(t *testing.T) {
	m := NewMonitor()
	m.Register(Target{Name: "api", TargetPercentage: 99.9, WindowHours: 1})

	for i := 1; i <= 100; i++ {
		m.Record("api", true, time.Duration(i)*time.Millisecond)
	}

	p50 := m.LatencyQuantile("api", 0.5)
	p99 := m.LatencyQuantile("api", 0.99)
	require.Greater(t, p99, p50)
	require.Less(t, p50, 200*time.Millisecond)
}

func TestEvaluatedStatusUnknownWithNoData(t *testing.T) {
	m := NewMonitor()
	m.Register(Target{Name: "fresh", TargetPercentage: 99, WindowHours: 1})
	require.Equal(t, StatusUnknown, m.EvaluatedStatus("fresh"))
}

func TestEvaluatedStatusHealthy(t *testing.T) {
	m := NewMonitor()
	m.Register(Target{Name: "healthy", TargetPercentage: 99, WindowHours: 1})
	for i := 0; i < 1000; i++ {
		m.Record("healthy", true, time.Millisecond)
	}
	require.Equal(t, StatusHealthy, m.EvaluatedStatus("healthy"))
}
