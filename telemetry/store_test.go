package telemetry

import (
	"testing"
	"time"

	"aiops-engine/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(endpoint, traceID string, status int, latency float64, ts time.Time) model.TelemetryRecord {
	return model.TelemetryRecord{
		ServiceName: "api-service",
		Endpoint:    endpoint,
		Method:      "GET",
		StatusCode:  status,
		LatencyMs:   latency,
		TraceID:     traceID,
		Timestamp:   ts,
	}
}

func TestStoreMetricAndGetRecentMetrics(t *testing.T) {
	s := New()
	now := time.Now()

	for i := 0; i < 20; i++ {
		s.StoreMetric(record("/payment", "trace-"+string(rune('a'+i)), 200, 100, now))
	}

	recent := s.GetRecentMetrics("/payment", time.Hour)
	require.Len(t, recent, 20)
}

func TestGetRecentMetricsFiltersWindow(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/payment", "t1", 200, 100, now.Add(-10*time.Minute)))
	s.StoreMetric(record("/payment", "t2", 200, 100, now))

	recent := s.GetRecentMetrics("/payment", 5*time.Minute)
	require.Len(t, recent, 1)
	assert.Equal(t, "t2", recent[0].TraceID)
}

func TestGetRecentMetricsNewestFirst(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/payment", "older", 200, 100, now.Add(-1*time.Minute)))
	s.StoreMetric(record("/payment", "newer", 200, 100, now))

	recent := s.GetRecentMetrics("/payment", time.Hour)
	require.Len(t, recent, 2)
	assert.Equal(t, "newer", recent[0].TraceID)
	assert.Equal(t, "older", recent[1].TraceID)
}

func TestGetMetricsByTraceAscending(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/checkout", "trace-1", 200, 10, now))
	s.StoreMetric(record("/payment", "trace-1", 500, 20, now.Add(-time.Second)))

	chain := s.GetMetricsByTrace("trace-1")
	require.Len(t, chain, 2)
	assert.Equal(t, "/payment", chain[0].Endpoint)
	assert.Equal(t, "/checkout", chain[1].Endpoint)
}

func TestGetEndpointStatsZeroSafe(t *testing.T) {
	s := New()
	stats := s.GetEndpointStats("/unknown", time.Hour)
	assert.Equal(t, 0, stats.RequestCount)
	assert.Equal(t, 0.0, stats.AvgLatencyMs)
	assert.Equal(t, 0.0, stats.ErrorRate)
	assert.Empty(t, stats.StatusDistribution)
}

func TestGetEndpointStats(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/payment", "t1", 200, 100, now))
	s.StoreMetric(record("/payment", "t2", 500, 300, now))

	stats := s.GetEndpointStats("/payment", time.Hour)
	assert.Equal(t, 2, stats.RequestCount)
	assert.Equal(t, 200.0, stats.AvgLatencyMs)
	assert.Equal(t, 0.5, stats.ErrorRate)
	assert.Equal(t, 1, stats.StatusDistribution[200])
	assert.Equal(t, 1, stats.StatusDistribution[500])
}

func TestGetAllEndpoints(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/payment", "t1", 200, 10, now))
	s.StoreMetric(record("/inventory", "t2", 200, 10, now))

	endpoints := s.GetAllEndpoints()
	assert.Equal(t, []string{"/inventory", "/payment"}, endpoints)
}

func TestPruneDropsOldRecords(t *testing.T) {
	s := New()
	now := time.Now()
	s.StoreMetric(record("/payment", "old", 200, 10, now.Add(-2*time.Hour)))
	s.StoreMetric(record("/payment", "new", 200, 10, now))

	s.Prune(time.Hour)

	recent := s.GetRecentMetrics("/payment", 24*time.Hour)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].TraceID)
}

func TestConcurrentStoreMetric(t *testing.T) {
	s := New()
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func(i int) {
			s.StoreMetric(record("/payment", "t", 200, 10, time.Now()))
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	assert.Len(t, s.GetRecentMetrics("/payment", time.Hour), 50)
}
