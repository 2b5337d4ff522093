package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/watchtower/internal/model"
	"github.com/t77yq/watchtower/internal/testutil"
)

func TestBus_Track(t *testing.T) {
	bus := NewBus(nil, nil, Config{}, zaptest.NewLogger(t))

	evt := bus.Track(model.EventTypeUserAction, "web", map[string]interface{}{
		"user_id": "u-1",
		"action":  "login",
	}, model.EventSeverityInfo, []string{"auth"})

	require.NotNil(t, evt)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, model.EventTypeUserAction, evt.Type)

	second := bus.Track(model.EventTypeUserAction, "web", nil, model.EventSeverityInfo, nil)
	assert.NotEqual(t, evt.ID, second.ID)
}

func TestBus_EventsFilter(t *testing.T) {
	bus := NewBus(nil, nil, Config{}, zaptest.NewLogger(t))

	bus.Track(model.EventTypeError, "api", nil, model.EventSeverityError, []string{"db"})
	bus.Track(model.EventTypePerformance, "api", nil, model.EventSeverityInfo, nil)
	bus.Track(model.EventTypeError, "worker", nil, model.EventSeverityCritical, nil)

	byType := bus.Events(model.EventFilter{Types: []model.EventType{model.EventTypeError}})
	require.Len(t, byType, 2)
	// Newest first
	assert.Equal(t, "worker", byType[0].Source)

	bySource := bus.Events(model.EventFilter{Sources: []string{"api"}})
	assert.Len(t, bySource, 2)

	bySeverity := bus.Events(model.EventFilter{Severities: []model.EventSeverity{model.EventSeverityCritical}})
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "worker", bySeverity[0].Source)

	byTag := bus.Events(model.EventFilter{Tags: []string{"db"}})
	require.Len(t, byTag, 1)
	assert.Equal(t, "api", byTag[0].Source)

	limited := bus.Events(model.EventFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestBus_SubscriberDelivery(t *testing.T) {
	bus := NewBus(nil, nil, Config{}, zaptest.NewLogger(t))

	var received []*model.Event
	bus.Subscribe("recorder", func(evt *model.Event) {
		received = append(received, evt)
	})

	bus.Track(model.EventTypeSystem, "test", nil, model.EventSeverityInfo, nil)
	bus.Track(model.EventTypeSystem, "test", nil, model.EventSeverityInfo, nil)

	require.Len(t, received, 2)

	bus.Unsubscribe("recorder")
	bus.Track(model.EventTypeSystem, "test", nil, model.EventSeverityInfo, nil)
	assert.Len(t, received, 2)
}

func TestBus_SubscriberPanicIsolation(t *testing.T) {
	bus := NewBus(nil, nil, Config{}, zaptest.NewLogger(t))

	var delivered int
	bus.Subscribe("bad", func(evt *model.Event) {
		panic("subscriber blew up")
	})
	bus.Subscribe("good", func(evt *model.Event) {
		delivered++
	})

	require.NotPanics(t, func() {
		bus.Track(model.EventTypeSystem, "test", nil, model.EventSeverityInfo, nil)
	})
	assert.Equal(t, 1, delivered)
}

func TestBus_MaxEventsCap(t *testing.T) {
	bus := NewBus(nil, nil, Config{MaxEvents: 3}, zaptest.NewLogger(t))

	for i := 0; i < 5; i++ {
		bus.Track(model.EventTypeCustom, "test", map[string]interface{}{"seq": i}, model.EventSeverityInfo, nil)
	}

	events := bus.Events(model.EventFilter{})
	require.Len(t, events, 3)
	// Oldest dropped; newest first
	assert.Equal(t, 4, events[0].Payload["seq"])
	assert.Equal(t, 2, events[2].Payload["seq"])
}

func TestBus_RetentionTrim(t *testing.T) {
	bus := NewBus(nil, nil, Config{Retention: time.Hour}, zaptest.NewLogger(t))

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	bus.SetNowFunc(func() time.Time { return current })

	bus.Track(model.EventTypeCustom, "old", nil, model.EventSeverityInfo, nil)

	current = base.Add(2 * time.Hour)
	bus.Track(model.EventTypeCustom, "new", nil, model.EventSeverityInfo, nil)

	events := bus.Events(model.EventFilter{})
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].Source)
}

func TestBus_CollectSnapshot(t *testing.T) {
	reader := &fakeReader{gauges: model.ResourceGauges{CPUPercent: 42.5, MemoryPercent: 60}}
	bus := NewBus(nil, reader, Config{}, zaptest.NewLogger(t))

	for _, d := range []float64{100, 200, 300} {
		bus.Track(model.EventTypePerformance, "api", map[string]interface{}{
			"duration_ms": d,
		}, model.EventSeverityInfo, nil)
	}
	bus.Track(model.EventTypeError, "api", nil, model.EventSeverityError, nil)

	bus.collectSnapshot(context.Background())

	snapshot := bus.LatestMetrics()
	require.NotNil(t, snapshot)
	assert.Equal(t, 4, snapshot.TotalEvents)
	assert.Equal(t, 3, snapshot.EventsByType[model.EventTypePerformance])
	assert.Equal(t, 1, snapshot.EventsBySeverity[model.EventSeverityError])
	assert.Equal(t, 200.0, snapshot.ResponseTimes.Avg)
	assert.Equal(t, 300.0, snapshot.ResponseTimes.P95)
	assert.Equal(t, 42.5, snapshot.Resources.CPUPercent)

	history := bus.MetricsHistory(10)
	assert.Len(t, history, 1)
}

func TestBus_PublishesToJetStream(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()
	testutil.SetupStreams(t, js)

	bus := NewBus(js, nil, Config{}, zaptest.NewLogger(t))

	received := make(chan *model.Event, 1)
	sub, err := js.Subscribe("event.error", func(msg *nats.Msg) {
		var evt model.Event
		require.NoError(t, json.Unmarshal(msg.Data, &evt))
		received <- &evt
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	tracked := bus.Track(model.EventTypeError, "api", map[string]interface{}{
		"message": "boom",
	}, model.EventSeverityError, nil)

	select {
	case evt := <-received:
		assert.Equal(t, tracked.ID, evt.ID)
		assert.Equal(t, model.EventTypeError, evt.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for published event")
	}
}

type fakeReader struct {
	gauges model.ResourceGauges
	err    error
}

func (f *fakeReader) Read(ctx context.Context) (model.ResourceGauges, error) {
	return f.gauges, f.err
}
