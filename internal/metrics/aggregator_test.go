package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/watchtower/internal/model"
)

func TestPercentile(t *testing.T) {
	// Nearest-rank, no interpolation
	sorted := []float64{100, 200, 300}
	assert.Equal(t, 200.0, Percentile(sorted, 50))
	assert.Equal(t, 300.0, Percentile(sorted, 95))
	assert.Equal(t, 300.0, Percentile(sorted, 99))
	assert.Equal(t, 100.0, Percentile(sorted, 0))

	assert.Equal(t, 0.0, Percentile(nil, 95))
	assert.Equal(t, 42.0, Percentile([]float64{42}, 99))
}

func TestCalculateStatistics(t *testing.T) {
	stats := CalculateStatistics([]float64{10, 20, 30, 40})

	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 100.0, stats.Sum)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 40.0, stats.Max)
	assert.Equal(t, 25.0, stats.Mean)
	assert.Equal(t, 20.0, stats.Median)
	assert.InDelta(t, 11.1803, stats.StdDev, 0.001)
}

func TestCalculateStatistics_Empty(t *testing.T) {
	stats := CalculateStatistics(nil)
	assert.Equal(t, model.Statistics{}, stats)
}

func TestAggregator_RecordAndQuery(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	agg.Declare(model.MetricDefinition{
		Name: "http.response_time",
		Type: model.MetricTypeHistogram,
		Unit: "ms",
	})

	for i, v := range []float64{100, 200, 300} {
		current = base.Add(time.Duration(i) * time.Second)
		agg.RecordHistogram("http.response_time", v, map[string]string{"route": "/api"})
	}

	result := agg.Query("http.response_time", base, base.Add(time.Minute), model.AggregationAvg, nil, 0)
	assert.Equal(t, 200.0, result.Value)

	result = agg.Query("http.response_time", base, base.Add(time.Minute), model.AggregationP95, nil, 0)
	assert.Equal(t, 300.0, result.Value)

	result = agg.Query("http.response_time", base, base.Add(time.Minute), model.AggregationCount, nil, 0)
	assert.Equal(t, 3.0, result.Value)
}

func TestAggregator_QueryUnknownMetric(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	result := agg.Query("does.not.exist", time.Now().Add(-time.Hour), time.Now(), model.AggregationAvg, nil, 0)
	assert.Equal(t, 0.0, result.Value)
	assert.Empty(t, result.DataPoints)
}

func TestAggregator_TagFiltering(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	agg.SetNowFunc(func() time.Time { return base })

	agg.Record("http.response_time", 100, map[string]string{"route": "/api"})
	agg.Record("http.response_time", 500, map[string]string{"route": "/admin"})
	agg.Record("http.response_time", 300, nil)

	result := agg.Query("http.response_time", base.Add(-time.Minute), base.Add(time.Minute),
		model.AggregationSum, map[string]string{"route": "/api"}, 0)
	assert.Equal(t, 100.0, result.Value)

	// A point without the tag at all must not match
	result = agg.Query("http.response_time", base.Add(-time.Minute), base.Add(time.Minute),
		model.AggregationCount, map[string]string{"route": "/admin"}, 0)
	assert.Equal(t, 1.0, result.Value)
}

func TestAggregator_UndeclaredMetricDefaultsToGauge(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	agg.Record("surprise.metric", 7, nil)

	def, ok := agg.Definition("surprise.metric")
	require.True(t, ok)
	assert.Equal(t, model.MetricTypeGauge, def.Type)
}

func TestAggregator_SeriesCapEviction(t *testing.T) {
	agg := NewAggregator(5, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	for i := 0; i < 10; i++ {
		current = base.Add(time.Duration(i) * time.Second)
		agg.SetGauge("system.cpu.usage", float64(i), nil)
	}

	result := agg.Query("system.cpu.usage", base, base.Add(time.Minute), model.AggregationCount, nil, 0)
	assert.Equal(t, 5.0, result.Value)

	// Oldest points were dropped, newest retained
	result = agg.Query("system.cpu.usage", base, base.Add(time.Minute), model.AggregationMin, nil, 0)
	assert.Equal(t, 5.0, result.Value)

	snapshot := agg.LatestSnapshot()
	assert.Equal(t, 9.0, snapshot["system.cpu.usage"])
}

func TestAggregator_TimeSeries(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	// Two points in the first minute bucket, one in the second
	for _, offset := range []time.Duration{0, 30 * time.Second, 90 * time.Second} {
		current = base.Add(offset)
		agg.Record("queue.depth", 10, nil)
	}

	buckets := agg.TimeSeries("queue.depth", base, base.Add(5*time.Minute), time.Minute, model.AggregationSum)
	require.Len(t, buckets, 2)
	assert.True(t, buckets[0].Start.Equal(base))
	assert.Equal(t, 20.0, buckets[0].Value)
	assert.Equal(t, 2, buckets[0].Count)
	assert.True(t, buckets[1].Start.Equal(base.Add(time.Minute)))
	assert.Equal(t, 10.0, buckets[1].Value)
}

func TestAggregator_DetectTrend(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := base.Add(20 * time.Minute)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	// First half mean 100, second half mean 150: +50% change
	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		agg.Record("http.response_time", 100, nil)
	}
	for i := 0; i < 5; i++ {
		current = base.Add(11*time.Minute + time.Duration(i)*time.Minute)
		agg.Record("http.response_time", 150, nil)
	}

	trend := agg.DetectTrend("http.response_time", base, end)
	assert.Equal(t, model.TrendUp, trend.Direction)
	assert.InDelta(t, 50.0, trend.ChangePercent, 0.001)
	assert.Equal(t, 10.0, trend.Confidence)
}

func TestAggregator_DetectTrend_Stable(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := base.Add(20 * time.Minute)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	// +3% change stays within the stable band
	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		agg.Record("m", 100, nil)
	}
	for i := 0; i < 5; i++ {
		current = base.Add(11*time.Minute + time.Duration(i)*time.Minute)
		agg.Record("m", 103, nil)
	}

	trend := agg.DetectTrend("m", base, end)
	assert.Equal(t, model.TrendStable, trend.Direction)
}

func TestAggregator_DetectTrend_EmptyHalf(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base.Add(time.Minute)
	agg.SetNowFunc(func() time.Time { return current })

	// All points land in the first half
	agg.Record("m", 1, nil)

	trend := agg.DetectTrend("m", base, base.Add(time.Hour))
	assert.Equal(t, model.TrendStable, trend.Direction)
	assert.Equal(t, 0.0, trend.Confidence)
}

func TestAggregator_DetectTrend_ZeroBaseline(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	end := base.Add(20 * time.Minute)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	// A zero first-half mean has no defined relative change, but both
	// halves carry samples so the confidence still reflects them
	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Minute)
		agg.Record("m", 0, nil)
	}
	for i := 0; i < 5; i++ {
		current = base.Add(11*time.Minute + time.Duration(i)*time.Minute)
		agg.Record("m", 50, nil)
	}

	trend := agg.DetectTrend("m", base, end)
	assert.Equal(t, model.TrendStable, trend.Direction)
	assert.Equal(t, 0.0, trend.ChangePercent)
	assert.Equal(t, 10.0, trend.Confidence)
}

func TestAggregator_Statistics(t *testing.T) {
	agg := NewAggregator(100, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	agg.SetNowFunc(func() time.Time { return current })

	for i, v := range []float64{5, 15, 25} {
		current = base.Add(time.Duration(i) * time.Second)
		agg.Record("db.query_time", v, nil)
	}

	stats := agg.Statistics("db.query_time", base, base.Add(time.Minute))
	assert.Equal(t, 3, stats.Count)
	assert.Equal(t, 15.0, stats.Mean)
	assert.Equal(t, 25.0, stats.Max)
}
