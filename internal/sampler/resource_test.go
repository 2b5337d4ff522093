package sampler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/metrics"
	"github.com/t77yq/watchtower/internal/model"
)

func TestResourceSampler_Sample(t *testing.T) {
	reader := &FakeReader{Gauges: model.ResourceGauges{
		CPUPercent:    35.5,
		MemoryPercent: 62.0,
		DiskPercent:   48.0,
		Load1:         1.2,
	}}
	aggregator := metrics.NewAggregator(100, zaptest.NewLogger(t))
	bus := event.NewBus(nil, reader, event.Config{}, zaptest.NewLogger(t))

	s := NewResourceSampler(reader, aggregator, bus, time.Minute, ResourceBudget{}, zaptest.NewLogger(t))
	s.Sample(context.Background())

	assert.Equal(t, reader.Gauges, s.Latest())

	snapshot := aggregator.LatestSnapshot()
	assert.Equal(t, 35.5, snapshot["system.cpu.usage"])
	assert.Equal(t, 62.0, snapshot["system.memory.usage"])
	assert.Equal(t, 48.0, snapshot["system.disk.usage"])
	assert.Equal(t, 1.2, snapshot["system.load1"])

	events := bus.Events(model.EventFilter{Types: []model.EventType{model.EventTypeSystem}})
	require.Len(t, events, 1)
	assert.Equal(t, "resource-sampler", events[0].Source)
}

func TestResourceSampler_BudgetBreach(t *testing.T) {
	reader := &FakeReader{Gauges: model.ResourceGauges{
		CPUPercent:    92.0,
		MemoryPercent: 50.0,
		DiskPercent:   95.0,
	}}
	aggregator := metrics.NewAggregator(100, zaptest.NewLogger(t))
	bus := event.NewBus(nil, reader, event.Config{}, zaptest.NewLogger(t))

	s := NewResourceSampler(reader, aggregator, bus, time.Minute, ResourceBudget{
		CPUPercent:    85,
		MemoryPercent: 85,
		DiskPercent:   90,
	}, zaptest.NewLogger(t))
	s.Sample(context.Background())

	breaches := bus.Events(model.EventFilter{Tags: []string{"budget-breach"}})
	require.Len(t, breaches, 2)
	for _, evt := range breaches {
		assert.Equal(t, model.EventSeverityWarning, evt.Severity)
	}
}

func TestResourceSampler_ReaderError(t *testing.T) {
	reader := &FakeReader{Err: errors.New("proc unavailable")}
	aggregator := metrics.NewAggregator(100, zaptest.NewLogger(t))

	s := NewResourceSampler(reader, aggregator, nil, time.Minute, ResourceBudget{}, zaptest.NewLogger(t))

	require.NotPanics(t, func() {
		s.Sample(context.Background())
	})
	assert.Empty(t, aggregator.Names())
}

func TestResourceSampler_SetBudget(t *testing.T) {
	reader := &FakeReader{Gauges: model.ResourceGauges{CPUPercent: 92}}
	aggregator := metrics.NewAggregator(100, zaptest.NewLogger(t))
	bus := event.NewBus(nil, reader, event.Config{}, zaptest.NewLogger(t))

	s := NewResourceSampler(reader, aggregator, bus, time.Minute, ResourceBudget{}, zaptest.NewLogger(t))

	s.Sample(context.Background())
	assert.Empty(t, bus.Events(model.EventFilter{Tags: []string{"budget-breach"}}))

	s.SetBudget(ResourceBudget{CPUPercent: 85})
	s.Sample(context.Background())
	assert.Len(t, bus.Events(model.EventFilter{Tags: []string{"budget-breach"}}), 1)
}
