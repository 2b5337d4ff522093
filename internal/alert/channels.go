package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/model"
)

// EmailConfig holds SMTP settings for the email channel
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailChannel delivers alerts over SMTP
type EmailChannel struct {
	logger *zap.Logger
	config EmailConfig
}

// NewEmailChannel creates an email notification channel
func NewEmailChannel(config EmailConfig, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		logger: logger.Named("email-channel"),
		config: config,
	}
}

func (c *EmailChannel) Type() model.ChannelType { return model.ChannelEmail }

func (c *EmailChannel) Send(alert *model.Alert, recipient string) error {
	if recipient == "" {
		return fmt.Errorf("email channel requires a recipient")
	}

	auth := smtp.PlainAuth("",
		c.config.Username,
		c.config.Password,
		c.config.Host)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: [%s] %s\r\n"+
		"\r\n"+
		"%s\r\n\r\nTriggered at: %s\r\n",
		c.config.From,
		recipient,
		alert.Severity,
		alert.Name,
		alert.Message,
		alert.TriggeredAt.Format(time.RFC3339))

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	return smtp.SendMail(addr, auth, c.config.From, []string{recipient}, []byte(msg))
}

// WebhookChannel POSTs alerts as JSON to a configured URL. An empty
// recipient falls back to the default URL.
type WebhookChannel struct {
	logger     *zap.Logger
	client     *http.Client
	defaultURL string
}

// NewWebhookChannel creates a webhook notification channel
func NewWebhookChannel(defaultURL string, timeout time.Duration, logger *zap.Logger) *WebhookChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookChannel{
		logger:     logger.Named("webhook-channel"),
		client:     &http.Client{Timeout: timeout},
		defaultURL: defaultURL,
	}
}

func (c *WebhookChannel) Type() model.ChannelType { return model.ChannelWebhook }

func (c *WebhookChannel) Send(alert *model.Alert, recipient string) error {
	url := recipient
	if url == "" {
		url = c.defaultURL
	}
	if url == "" {
		return fmt.Errorf("webhook channel has no URL configured")
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	resp, err := c.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel delivers alerts to a Slack incoming webhook
type SlackChannel struct {
	logger     *zap.Logger
	client     *http.Client
	webhookURL string
}

// NewSlackChannel creates a Slack notification channel
func NewSlackChannel(webhookURL string, logger *zap.Logger) *SlackChannel {
	return &SlackChannel{
		logger:     logger.Named("slack-channel"),
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (c *SlackChannel) Type() model.ChannelType { return model.ChannelSlack }

func (c *SlackChannel) Send(alert *model.Alert, recipient string) error {
	if c.webhookURL == "" {
		return fmt.Errorf("slack channel has no webhook URL configured")
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*[%s]* %s\n%s", alert.Severity, alert.Name, alert.Message),
	}
	if recipient != "" {
		payload["channel"] = recipient
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	resp, err := c.client.Post(c.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

// NATSChannel publishes alerts to JetStream on alert.<severity>
type NATSChannel struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewNATSChannel creates a JetStream notification channel
func NewNATSChannel(js nats.JetStreamContext, logger *zap.Logger) *NATSChannel {
	return &NATSChannel{
		logger: logger.Named("nats-channel"),
		js:     js,
	}
}

func (c *NATSChannel) Type() model.ChannelType { return model.ChannelPush }

func (c *NATSChannel) Send(alert *model.Alert, recipient string) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if _, err := c.js.Publish("alert."+string(alert.Severity), data); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// InAppChannel surfaces alerts as events on the in-process event bus
type InAppChannel struct {
	bus *event.Bus
}

// NewInAppChannel creates an in-app notification channel over the bus
func NewInAppChannel(bus *event.Bus) *InAppChannel {
	return &InAppChannel{bus: bus}
}

func (c *InAppChannel) Type() model.ChannelType { return model.ChannelInApp }

func (c *InAppChannel) Send(alert *model.Alert, recipient string) error {
	c.bus.Track(model.EventTypeSystem, "alert-engine", map[string]interface{}{
		"alert_id":  alert.ID,
		"name":      alert.Name,
		"severity":  string(alert.Severity),
		"message":   alert.Message,
		"recipient": recipient,
	}, alertEventSeverity(alert.Severity), []string{"alert"})
	return nil
}

func alertEventSeverity(s model.AlertSeverity) model.EventSeverity {
	switch s {
	case model.AlertSeverityCritical:
		return model.EventSeverityCritical
	case model.AlertSeverityError:
		return model.EventSeverityError
	case model.AlertSeverityWarning:
		return model.EventSeverityWarning
	default:
		return model.EventSeverityInfo
	}
}
