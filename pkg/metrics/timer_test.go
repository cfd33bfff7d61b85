package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewTimerStartsImmediately(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	require.False(t, timer.start.IsZero())
	require.Less(t, time.Since(timer.start), time.Second)
}

func TestTimerDurationCoversSleep(t *testing.T) {
	timer := NewTimer()
	time.Sleep(50 * time.Millisecond)

	d := timer.Duration()
	require.GreaterOrEqual(t, d, 50*time.Millisecond)
}

func TestTimerObservesHistogram(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_query_seconds",
		Help:    "Per-statement test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	require.Greater(t, timer.Duration(), time.Duration(0))
}

func TestTimerObservesHistogramVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_statement_seconds",
			Help:    "Per-statement-kind test histogram",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"statement"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(vec, "SELECT")

	require.Greater(t, timer.Duration(), time.Duration(0))
}

func TestTimerDurationIsMonotonic(t *testing.T) {
	timer := NewTimer()

	var last time.Duration
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		d := timer.Duration()
		require.Greater(t, d, last)
		last = d
	}
}

func TestTimersAreIndependent(t *testing.T) {
	first := NewTimer()
	time.Sleep(20 * time.Millisecond)
	second := NewTimer()
	time.Sleep(20 * time.Millisecond)

	require.Greater(t, first.Duration(), second.Duration())
}
