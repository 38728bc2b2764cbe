package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

var severityColors = map[model.AlertSeverity]string{
	model.AlertSeverityLow:      "#36a64f",
	model.AlertSeverityMedium:   "#ffeb3b",
	model.AlertSeverityHigh:     "#ff9800",
	model.AlertSeverityCritical: "#f44336",
}

type webhookField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type webhookAttachment struct {
	Color  string         `json:"color"`
	Title  string         `json:"title"`
	Text   string         `json:"text"`
	Fields []webhookField `json:"fields"`
	Footer string         `json:"footer"`
	Ts     int64          `json:"ts"`
}

type webhookPayload struct {
	Text        string              `json:"text"`
	Attachments []webhookAttachment `json:"attachments"`
}

// WebhookChannel posts Slack-compatible attachments to an incoming webhook
type WebhookChannel struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// NewWebhookChannel creates a new webhook channel
func NewWebhookChannel(logger *zap.Logger, url string) *WebhookChannel {
	return &WebhookChannel{
		logger: logger.Named("webhook"),
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name implements Channel.Name
func (c *WebhookChannel) Name() string {
	return "webhook"
}

// Send implements Channel.Send
func (c *WebhookChannel) Send(ctx context.Context, alert *model.Alert) error {
	fields := []webhookField{
		{Title: "Metric", Value: alert.MetricKey, Short: true},
		{Title: "Rule", Value: alert.RuleID, Short: true},
		{Title: "Observed", Value: fmt.Sprintf("%.2f", alert.ObservedValue), Short: true},
		{Title: "Baseline", Value: fmt.Sprintf("%.2f", alert.BaselineValue), Short: true},
	}
	if len(alert.Actions) > 0 {
		fields = append(fields, webhookField{Title: "Recommended actions", Value: "• " + strings.Join(alert.Actions, "\n• ")})
	}

	payload := webhookPayload{
		Text: fmt.Sprintf("GEO alert: %s", alert.Message),
		Attachments: []webhookAttachment{{
			Color:  severityColors[alert.Severity],
			Title:  fmt.Sprintf("%s: %s", strings.ToUpper(string(alert.Severity)), alert.RuleID),
			Text:   alert.Message,
			Fields: fields,
			Footer: alert.Source,
			Ts:     alert.RaisedAt.Unix(),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("Sent webhook notification", zap.String("alert_id", alert.ID))
	return nil
}
