package alert

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/model"
	"github.com/t77yq/watchtower/internal/testutil"
)

func sampleAlert() *model.Alert {
	return &model.Alert{
		ID:          "a-1",
		RuleID:      "r-1",
		Name:        "High CPU Usage",
		Severity:    model.AlertSeverityCritical,
		Status:      model.AlertStatusTriggered,
		Message:     "Alert triggered for rule: High CPU Usage",
		TriggeredAt: time.Now(),
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, 5*time.Second, zaptest.NewLogger(t))
	require.NoError(t, ch.Send(sampleAlert(), ""))

	var posted model.Alert
	require.NoError(t, json.Unmarshal(<-received, &posted))
	assert.Equal(t, "a-1", posted.ID)
	assert.Equal(t, model.AlertSeverityCritical, posted.Severity)
}

func TestWebhookChannel_RecipientOverridesDefault(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewWebhookChannel("http://127.0.0.1:1/unreachable", 5*time.Second, zaptest.NewLogger(t))
	require.NoError(t, ch.Send(sampleAlert(), server.URL))
	assert.True(t, hit)
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := NewWebhookChannel(server.URL, 5*time.Second, zaptest.NewLogger(t))
	require.Error(t, ch.Send(sampleAlert(), ""))
}

func TestWebhookChannel_NoURL(t *testing.T) {
	ch := NewWebhookChannel("", 5*time.Second, zaptest.NewLogger(t))
	require.Error(t, ch.Send(sampleAlert(), ""))
}

func TestSlackChannel_Send(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL, zaptest.NewLogger(t))
	require.NoError(t, ch.Send(sampleAlert(), "#ops"))

	payload := <-received
	assert.Contains(t, payload["text"], "High CPU Usage")
	assert.Equal(t, "#ops", payload["channel"])
}

func TestNATSChannel_Send(t *testing.T) {
	_, js, cleanup := testutil.StartJetStream(t)
	defer cleanup()
	testutil.SetupStreams(t, js)

	received := make(chan *model.Alert, 1)
	sub, err := js.Subscribe("alert.critical", func(msg *natsio.Msg) {
		var alert model.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &alert))
		received <- &alert
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ch := NewNATSChannel(js, zaptest.NewLogger(t))
	require.NoError(t, ch.Send(sampleAlert(), ""))

	select {
	case alert := <-received:
		assert.Equal(t, "a-1", alert.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for published alert")
	}
}

func TestInAppChannel_Send(t *testing.T) {
	bus := event.NewBus(nil, nil, event.Config{}, zaptest.NewLogger(t))
	ch := NewInAppChannel(bus)

	require.NoError(t, ch.Send(sampleAlert(), "ops-team"))

	events := bus.Events(model.EventFilter{Tags: []string{"alert"}})
	require.Len(t, events, 1)
	assert.Equal(t, model.EventSeverityCritical, events[0].Severity)
	assert.Equal(t, "a-1", events[0].Payload["alert_id"])
	assert.Equal(t, "ops-team", events[0].Payload["recipient"])
}

func TestEmailChannel_RequiresRecipient(t *testing.T) {
	ch := NewEmailChannel(EmailConfig{Host: "localhost", Port: 25}, zaptest.NewLogger(t))
	require.Error(t, ch.Send(sampleAlert(), ""))
}
