package metrics

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

const defaultMaxPointsPerSeries = 10000

// Aggregator is a named, typed in-memory time-series store. Points for a
// name are kept in an append-ordered bounded list; the oldest point is
// evicted once the per-name cap is reached.
type Aggregator struct {
	logger *zap.Logger

	mu      sync.RWMutex
	defs    map[string]*model.MetricDefinition
	points  map[string][]*model.MetricPoint
	rollups map[string][]model.RollupConfig

	maxPoints int
	now       func() time.Time
}

// NewAggregator creates a new metrics aggregator
func NewAggregator(maxPointsPerSeries int, logger *zap.Logger) *Aggregator {
	if maxPointsPerSeries <= 0 {
		maxPointsPerSeries = defaultMaxPointsPerSeries
	}
	return &Aggregator{
		logger:    logger.Named("metrics-aggregator"),
		defs:      make(map[string]*model.MetricDefinition),
		points:    make(map[string][]*model.MetricPoint),
		rollups:   make(map[string][]model.RollupConfig),
		maxPoints: maxPointsPerSeries,
		now:       time.Now,
	}
}

// SetNowFunc overrides the clock. Intended for tests.
func (a *Aggregator) SetNowFunc(now func() time.Time) {
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Declare registers a metric definition before first use
func (a *Aggregator) Declare(def model.MetricDefinition) {
	a.mu.Lock()
	defer a.mu.Unlock()

	def.CreatedAt = a.now()
	a.defs[def.Name] = &def

	a.logger.Debug("Metric declared",
		zap.String("name", def.Name),
		zap.String("type", string(def.Type)))
}

// Definition returns the declared definition for a name, if any
func (a *Aggregator) Definition(name string) (model.MetricDefinition, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	def, ok := a.defs[name]
	if !ok {
		return model.MetricDefinition{}, false
	}
	return *def, true
}

// Record appends a point. Undeclared names are still recorded with a
// warning and an implicit gauge definition; ingestion is at-least-once,
// never rejected.
func (a *Aggregator) Record(name string, value float64, tags map[string]string, at ...time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now()
	if len(at) > 0 && !at[0].IsZero() {
		ts = at[0]
	}

	if _, ok := a.defs[name]; !ok {
		a.logger.Warn("Recording undeclared metric, defaulting to gauge",
			zap.String("name", name))
		a.defs[name] = &model.MetricDefinition{
			Name:      name,
			Type:      model.MetricTypeGauge,
			CreatedAt: ts,
		}
	}

	point := &model.MetricPoint{
		Name:      name,
		Value:     value,
		Timestamp: ts,
		Tags:      tags,
	}

	series := append(a.points[name], point)
	if len(series) > a.maxPoints {
		series = series[len(series)-a.maxPoints:]
	}
	a.points[name] = series
}

// Increment adds a delta to a counter metric
func (a *Aggregator) Increment(name string, delta float64, tags map[string]string) {
	a.Record(name, delta, tags)
}

// SetGauge records the current value of a gauge metric
func (a *Aggregator) SetGauge(name string, value float64, tags map[string]string) {
	a.Record(name, value, tags)
}

// RecordHistogram records an observation for a histogram metric
func (a *Aggregator) RecordHistogram(name string, value float64, tags map[string]string) {
	a.Record(name, value, tags)
}

// Query reduces the points of a metric over an inclusive time range.
// Tag filtering is exact-match: a point must carry every requested tag key
// with the requested value. An unknown metric or empty range yields a
// zero-valued result, not an error.
func (a *Aggregator) Query(name string, start, end time.Time, agg model.Aggregation, tags map[string]string, interval time.Duration) model.QueryResult {
	values, points := a.rangeValues(name, start, end, tags)

	result := model.QueryResult{
		Metric: name,
		Value:  aggregate(values, agg),
	}
	if interval > 0 {
		result.DataPoints = bucketize(points, interval, agg)
	}
	return result
}

// TimeSeries returns interval-aligned buckets for a metric range. Bucket
// boundaries are floor(ts/interval)*interval, so the operation is
// replayable for a fixed input.
func (a *Aggregator) TimeSeries(name string, start, end time.Time, interval time.Duration, agg model.Aggregation) []model.TimeBucket {
	_, points := a.rangeValues(name, start, end, nil)
	return bucketize(points, interval, agg)
}

// Statistics summarizes all points of a metric in a range
func (a *Aggregator) Statistics(name string, start, end time.Time) model.Statistics {
	values, _ := a.rangeValues(name, start, end, nil)
	return CalculateStatistics(values)
}

// DetectTrend splits [start, end] at its midpoint and compares the mean of
// the two halves. A change above +5% is up, below -5% is down, otherwise
// stable. An empty half yields a stable trend with zero confidence; a
// zero first-half mean yields a stable trend at the sample confidence,
// since the relative change is undefined.
func (a *Aggregator) DetectTrend(name string, start, end time.Time) model.Trend {
	mid := start.Add(end.Sub(start) / 2)

	firstValues, _ := a.rangeValues(name, start, mid, nil)
	secondValues, _ := a.rangeValues(name, mid, end, nil)

	trend := model.Trend{Metric: name, Direction: model.TrendStable}
	if len(firstValues) == 0 || len(secondValues) == 0 {
		return trend
	}

	confidence := float64(len(firstValues) + len(secondValues))
	if confidence > 100 {
		confidence = 100
	}
	trend.Confidence = confidence

	firstMean := mean(firstValues)
	secondMean := mean(secondValues)
	if firstMean == 0 {
		return trend
	}

	change := (secondMean - firstMean) / firstMean * 100
	trend.ChangePercent = change

	switch {
	case change > 5:
		trend.Direction = model.TrendUp
	case change < -5:
		trend.Direction = model.TrendDown
	}

	return trend
}

// ConfigureRollup declares a downsampling intent for a metric name
func (a *Aggregator) ConfigureRollup(cfg model.RollupConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rollups[cfg.Metric] = append(a.rollups[cfg.Metric], cfg)

	a.logger.Info("Rollup configured",
		zap.String("metric", cfg.Metric),
		zap.Duration("source_interval", cfg.SourceInterval),
		zap.Duration("target_interval", cfg.TargetInterval),
		zap.String("aggregation", string(cfg.Aggregation)))
}

// RunRollups logs the configured rollup intents. Compaction itself is
// delegated to an external job; this does not rewrite stored points.
func (a *Aggregator) RunRollups() {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for metric, configs := range a.rollups {
		for _, cfg := range configs {
			a.logger.Info("Rollup due",
				zap.String("metric", metric),
				zap.Duration("target_interval", cfg.TargetInterval),
				zap.String("aggregation", string(cfg.Aggregation)))
		}
	}
}

// LatestSnapshot returns the most recent value of every metric name
func (a *Aggregator) LatestSnapshot() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snapshot := make(map[string]float64, len(a.points))
	for name, series := range a.points {
		if len(series) > 0 {
			snapshot[name] = series[len(series)-1].Value
		}
	}
	return snapshot
}

// Names returns all metric names with recorded points
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.points))
	for name := range a.points {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *Aggregator) rangeValues(name string, start, end time.Time, tags map[string]string) ([]float64, []*model.MetricPoint) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var values []float64
	var matched []*model.MetricPoint
	for _, p := range a.points[name] {
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		if !matchTags(p.Tags, tags) {
			continue
		}
		values = append(values, p.Value)
		matched = append(matched, p)
	}
	return values, matched
}

// matchTags requires the point to carry every requested key with the
// requested value; a missing key fails the filter.
func matchTags(pointTags, want map[string]string) bool {
	for k, v := range want {
		if pointTags[k] != v {
			return false
		}
	}
	return true
}

func bucketize(points []*model.MetricPoint, interval time.Duration, agg model.Aggregation) []model.TimeBucket {
	if interval <= 0 || len(points) == 0 {
		return nil
	}

	grouped := make(map[int64][]float64)
	for _, p := range points {
		start := p.Timestamp.UnixMilli() / interval.Milliseconds() * interval.Milliseconds()
		grouped[start] = append(grouped[start], p.Value)
	}

	starts := make([]int64, 0, len(grouped))
	for start := range grouped {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	buckets := make([]model.TimeBucket, 0, len(starts))
	for _, start := range starts {
		values := grouped[start]
		buckets = append(buckets, model.TimeBucket{
			Start: time.UnixMilli(start),
			Value: aggregate(values, agg),
			Count: len(values),
		})
	}
	return buckets
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
