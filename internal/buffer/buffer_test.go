package buffer

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Schera-ole/scaleagent/internal/clock"
	internalerrors "github.com/Schera-ole/scaleagent/internal/errors"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/stats"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestBuffer(maxIdentities int) (*MetricBuffer, *clock.FakeClock, *stats.Stats) {
	clk := clock.Fake(epoch)
	st := stats.New()
	return NewMetricBuffer(maxIdentities, 2*time.Minute, clk, st), clk, st
}

func queueTime(v float64) models.Measurement {
	return models.Measurement{Name: models.RequestQueueTime, Value: v, RecordedAt: epoch}
}

func TestMetricBuffer_AggregatesExample(t *testing.T) {
	buffer, _, _ := newTestBuffer(10)

	for _, v := range []float64{100, 150, 110} {
		require.NoError(t, buffer.Record(queueTime(v)))
	}
	require.NoError(t, buffer.Record(models.Measurement{
		Name:       models.JobQueueDepth,
		Value:      5,
		RecordedAt: epoch,
		Dimensions: map[string]string{models.DimensionQueue: "default"},
	}))

	drained := buffer.DrainAll()
	require.Len(t, drained, 2)

	// Sorted by identity key: job_queue_depth|queue=default < request_queue_time_ms
	jobs, qt := drained[0], drained[1]

	assert.Equal(t, models.RequestQueueTime, qt.Name)
	assert.Equal(t, int64(3), qt.Count)
	assert.Equal(t, 360.0, qt.Sum)
	assert.Equal(t, 100.0, qt.Min)
	assert.Equal(t, 150.0, qt.Max)

	assert.Equal(t, models.JobQueueDepth, jobs.Name)
	assert.Equal(t, map[string]string{"queue": "default"}, jobs.Dimensions)
	assert.Equal(t, int64(1), jobs.Count)
	assert.Equal(t, 5.0, jobs.Sum)
	assert.Equal(t, 5.0, jobs.Min)
	assert.Equal(t, 5.0, jobs.Max)
	assert.Equal(t, 5.0, jobs.Last)
}

func TestMetricBuffer_DrainTwiceIsEmpty(t *testing.T) {
	buffer, _, _ := newTestBuffer(10)
	require.NoError(t, buffer.Record(queueTime(12)))

	assert.Len(t, buffer.DrainAll(), 1)
	assert.Empty(t, buffer.DrainAll())
	assert.Zero(t, buffer.Len())
}

func TestMetricBuffer_ConcurrentRecordsAreNotLost(t *testing.T) {
	buffer, _, st := newTestBuffer(100)

	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = buffer.Record(queueTime(2))
				_ = buffer.Record(models.Measurement{Name: models.InFlightRequests, Value: 1})
			}
		}()
	}
	wg.Wait()

	drained := buffer.DrainAll()
	require.Len(t, drained, 2)
	for _, agg := range drained {
		assert.Equal(t, int64(workers*perWorker), agg.Count, agg.Name)
	}
	assert.Equal(t, float64(2*workers*perWorker), drained[1].Sum)
	assert.Equal(t, float64(2*workers*perWorker), testutil.ToFloat64(st.Recorded))
}

func TestMetricBuffer_DrainDuringRecordsKeepsEveryMeasurementOnce(t *testing.T) {
	buffer, _, _ := newTestBuffer(100)

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = buffer.Record(queueTime(1))
			}
		}()
	}

	var total int64
	var sum float64
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		for _, agg := range buffer.DrainAll() {
			total += agg.Count
			sum += agg.Sum
		}
	}
	for _, agg := range buffer.DrainAll() {
		total += agg.Count
		sum += agg.Sum
	}

	assert.Equal(t, int64(workers*perWorker), total)
	assert.Equal(t, float64(workers*perWorker), sum)
}

func TestMetricBuffer_IdentityCap(t *testing.T) {
	buffer, _, st := newTestBuffer(2)

	depth := func(queue string, v float64) models.Measurement {
		return models.Measurement{
			Name:       models.JobQueueDepth,
			Value:      v,
			Dimensions: map[string]string{models.DimensionQueue: queue},
		}
	}
	require.NoError(t, buffer.Record(depth("a", 1)))
	require.NoError(t, buffer.Record(depth("b", 2)))

	err := buffer.Record(depth("c", 3))
	assert.ErrorIs(t, err, internalerrors.ErrBufferFull)

	// Existing identities still accept updates once the cap is reached.
	require.NoError(t, buffer.Record(depth("a", 4)))

	drained := buffer.DrainAll()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Dimensions["queue"])
	assert.Equal(t, int64(2), drained[0].Count)
	assert.Equal(t, 4.0, drained[0].Last)
	assert.Equal(t, "b", drained[1].Dimensions["queue"])
	assert.Equal(t, int64(1), drained[1].Count)
	assert.Equal(t, 1.0, testutil.ToFloat64(st.CollectionErrors.WithLabelValues(stats.ReasonBufferFull)))
}

func TestMetricBuffer_RejectsInvalidMeasurements(t *testing.T) {
	buffer, _, _ := newTestBuffer(10)

	assert.ErrorIs(t, buffer.Record(models.Measurement{Name: "cpu_load", Value: 1}), internalerrors.ErrUnknownMetric)
	assert.ErrorIs(t, buffer.Record(queueTime(-1)), internalerrors.ErrInvalidMetricValue)
	assert.ErrorIs(t, buffer.Record(queueTime(math.NaN())), internalerrors.ErrInvalidMetricValue)
	assert.ErrorIs(t, buffer.Record(queueTime(math.Inf(1))), internalerrors.ErrInvalidMetricValue)
	assert.Zero(t, buffer.Len())
}

func TestMetricBuffer_StaleBufferStopsCollecting(t *testing.T) {
	buffer, clk, _ := newTestBuffer(10)

	clk.Advance(3 * time.Minute)
	assert.ErrorIs(t, buffer.Record(queueTime(1)), internalerrors.ErrBufferStale)

	buffer.DrainAll()
	assert.Equal(t, clk.Now(), buffer.FlushedAt())
	assert.NoError(t, buffer.Record(queueTime(1)))
}

func TestMetricBuffer_DimensionsAreCopied(t *testing.T) {
	buffer, _, _ := newTestBuffer(10)
	dims := map[string]string{models.DimensionQueue: "mailers"}
	require.NoError(t, buffer.Record(models.Measurement{Name: models.JobQueueDepth, Value: 3, Dimensions: dims}))

	dims[models.DimensionQueue] = "mutated"

	drained := buffer.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, "mailers", drained[0].Dimensions[models.DimensionQueue])
}

func TestMetricBuffer_ZeroTimestampUsesClock(t *testing.T) {
	buffer, clk, _ := newTestBuffer(10)
	clk.Advance(time.Second)
	require.NoError(t, buffer.Record(models.Measurement{Name: models.InFlightRequests, Value: 4}))

	drained := buffer.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, clk.Now(), drained[0].LastAt)
}
