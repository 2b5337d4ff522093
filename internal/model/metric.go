package model

import "time"

// MetricType represents the kind of a metric series
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
	MetricTypeSummary   MetricType = "summary"
	MetricTypeRate      MetricType = "rate"
)

// MetricDefinition declares a metric name before first use
type MetricDefinition struct {
	Name          string     `json:"name"`
	Type          MetricType `json:"type"`
	Unit          string     `json:"unit,omitempty"`
	Description   string     `json:"description,omitempty"`
	TagKeys       []string   `json:"tag_keys,omitempty"`
	RetentionDays int        `json:"retention_days,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MetricPoint represents a single recorded value
type MetricPoint struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Aggregation selects how a set of points is reduced
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
	AggregationCount Aggregation = "count"
	AggregationP50   Aggregation = "p50"
	AggregationP90   Aggregation = "p90"
	AggregationP95   Aggregation = "p95"
	AggregationP99   Aggregation = "p99"
)

// TimeBucket is one interval-aligned slice of a series
type TimeBucket struct {
	Start time.Time `json:"start"`
	Value float64   `json:"value"`
	Count int       `json:"count"`
}

// QueryResult carries the reduced value and optional bucketed series
type QueryResult struct {
	Metric     string       `json:"metric"`
	Value      float64      `json:"value"`
	DataPoints []TimeBucket `json:"data_points,omitempty"`
}

// Statistics summarizes a numeric sample
type Statistics struct {
	Count  int     `json:"count"`
	Sum    float64 `json:"sum"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
}

// TrendDirection classifies the movement of a series between two sub-periods
type TrendDirection string

const (
	TrendUp     TrendDirection = "up"
	TrendDown   TrendDirection = "down"
	TrendStable TrendDirection = "stable"
)

// Trend describes the detected movement of a metric over a range
type Trend struct {
	Metric        string         `json:"metric"`
	Direction     TrendDirection `json:"direction"`
	ChangePercent float64        `json:"change_percent"`
	Confidence    float64        `json:"confidence"`
}

// RollupConfig declares a downsampling intent for a metric name.
// Execution is delegated to an external compaction job.
type RollupConfig struct {
	Metric         string        `json:"metric"`
	SourceInterval time.Duration `json:"source_interval"`
	TargetInterval time.Duration `json:"target_interval"`
	Aggregation    Aggregation   `json:"aggregation"`
}
