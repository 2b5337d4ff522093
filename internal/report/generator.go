package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

// HealthSource supplies the current aggregate health
type HealthSource interface {
	Status() model.HealthStatus
}

// MetricSource supplies metric summaries for report sections
type MetricSource interface {
	Names() []string
	Statistics(name string, start, end time.Time) model.Statistics
	DetectTrend(name string, start, end time.Time) model.Trend
}

// AlertSource supplies alert summaries for report sections
type AlertSource interface {
	Statistics() model.AlertStatistics
}

// ErrorSource supplies error summaries for report sections
type ErrorSource interface {
	Stats(hours int) model.ErrorStats
	Groups(statuses ...model.GroupStatus) []*model.ErrorGroup
}

// MetricSummary is one metric's section within a report
type MetricSummary struct {
	Name       string           `json:"name"`
	Statistics model.Statistics `json:"statistics"`
	Trend      model.Trend      `json:"trend"`
}

// Report is a structured summary composed from the engine's subsystems
type Report struct {
	ID          string                `json:"id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Period      time.Duration         `json:"period"`
	Health      model.HealthStatus    `json:"health"`
	Metrics     []MetricSummary       `json:"metrics"`
	Alerts      model.AlertStatistics `json:"alerts"`
	Errors      model.ErrorStats      `json:"errors"`
	TopGroups   []*model.ErrorGroup   `json:"top_groups,omitempty"`
}

// EventSink receives a system event when a report is generated
type EventSink interface {
	Track(eventType model.EventType, source string, payload map[string]interface{}, severity model.EventSeverity, tags []string) *model.Event
}

const maxRetainedReports = 100

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// Generator batch-composes health, metric, alert and error summaries
// into reports on demand or on a cron schedule.
type Generator struct {
	logger  *zap.Logger
	health  HealthSource
	metrics MetricSource
	alerts  AlertSource
	errors  ErrorSource
	sink    EventSink
	cron    *cron.Cron

	mu      sync.RWMutex
	reports []*Report

	now func() time.Time
}

// NewGenerator creates a report generator. sink may be nil.
func NewGenerator(health HealthSource, metrics MetricSource, alerts AlertSource, errors ErrorSource, sink EventSink, logger *zap.Logger) *Generator {
	named := logger.Named("report-generator")
	return &Generator{
		logger:  named,
		health:  health,
		metrics: metrics,
		alerts:  alerts,
		errors:  errors,
		sink:    sink,
		cron: cron.New(
			cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
		),
		now: time.Now,
	}
}

// Start starts the cron scheduler
func (g *Generator) Start(ctx context.Context) error {
	g.cron.Start()
	return nil
}

// Stop stops the cron scheduler, waiting for running jobs
func (g *Generator) Stop() {
	ctx := g.cron.Stop()
	<-ctx.Done()
}

// Schedule registers periodic generation using a standard cron expression
func (g *Generator) Schedule(expression string, period time.Duration) error {
	_, err := g.cron.AddFunc(expression, func() {
		if _, err := g.Generate(context.Background(), period); err != nil {
			g.logger.Error("Scheduled report generation failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	g.logger.Info("Report schedule registered",
		zap.String("expression", expression),
		zap.Duration("period", period))
	return nil
}

// Generate composes a report covering the trailing period
func (g *Generator) Generate(ctx context.Context, period time.Duration) (*Report, error) {
	if period <= 0 {
		period = 24 * time.Hour
	}

	now := g.now()
	start := now.Add(-period)

	report := &Report{
		ID:          uuid.New().String(),
		GeneratedAt: now,
		Period:      period,
		Health:      g.health.Status(),
		Alerts:      g.alerts.Statistics(),
		Errors:      g.errors.Stats(int(period.Hours())),
	}

	for _, name := range g.metrics.Names() {
		report.Metrics = append(report.Metrics, MetricSummary{
			Name:       name,
			Statistics: g.metrics.Statistics(name, start, now),
			Trend:      g.metrics.DetectTrend(name, start, now),
		})
	}

	groups := g.errors.Groups(model.GroupStatusUnresolved, model.GroupStatusInvestigating)
	if len(groups) > 10 {
		groups = groups[:10]
	}
	report.TopGroups = groups

	g.mu.Lock()
	g.reports = append(g.reports, report)
	if len(g.reports) > maxRetainedReports {
		g.reports = g.reports[len(g.reports)-maxRetainedReports:]
	}
	g.mu.Unlock()

	g.logger.Info("Report generated",
		zap.String("id", report.ID),
		zap.Duration("period", period),
		zap.Int("metrics", len(report.Metrics)))

	if g.sink != nil {
		g.sink.Track(model.EventTypeSystem, "report-generator", map[string]interface{}{
			"report_id": report.ID,
			"period":    period.String(),
		}, model.EventSeverityInfo, []string{"report"})
	}

	return report, nil
}

// Reports returns retained reports, newest last
func (g *Generator) Reports() []*Report {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Report, len(g.reports))
	copy(out, g.reports)
	return out
}
