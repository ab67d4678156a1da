package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorObserveBatch(t *testing.T) {
	c := NewCollector("test_observe_batch")
	c.ObserveBatch(10, 120, time.Millisecond)
	c.ObserveBatch(5, 60, time.Millisecond)

	assert.Equal(t, 15.0, testutil.ToFloat64(RowsRead.WithLabelValues("test_observe_batch")))
	assert.Equal(t, 180.0, testutil.ToFloat64(BytesRead.WithLabelValues("test_observe_batch")))
	assert.Equal(t, 2.0, testutil.ToFloat64(BatchesEmitted.WithLabelValues("test_observe_batch")))
	assert.Greater(t, testutil.ToFloat64(Throughput.WithLabelValues("test_observe_batch")), 0.0)
}

func TestCollectorSubstitutionsAndFailures(t *testing.T) {
	c := NewCollector("test_substitutions")
	c.RecordSubstitutions(3, 0)
	c.RecordSubstitutions(0, 2)
	c.RecordFailure("ragged_row")
	c.RecordFailure("ragged_row")
	c.RecordFailure("")

	assert.Equal(t, 3.0, testutil.ToFloat64(RaggedRows.WithLabelValues("test_substitutions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(NullSubstitutions.WithLabelValues("test_substitutions")))
	assert.Equal(t, 2.0, testutil.ToFloat64(ReadFailures.WithLabelValues("test_substitutions", "ragged_row")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ReadFailures.WithLabelValues("test_substitutions", "unknown")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("op")
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 2*time.Millisecond)
	assert.Equal(t, "op", timer.Name())
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("test_throughput")
	tracker.Increment(100)
	time.Sleep(time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("test_throughput")))
}
