package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// LogChannel writes alerts to the structured log
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a new log channel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger.Named("alerts")}
}

// Name implements Channel.Name
func (c *LogChannel) Name() string {
	return "log"
}

// Send implements Channel.Send
func (c *LogChannel) Send(ctx context.Context, alert *model.Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("metric_key", alert.MetricKey),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("observed", alert.ObservedValue),
		zap.Float64("baseline", alert.BaselineValue),
		zap.Float64("delta", alert.Delta),
	}

	switch alert.Severity {
	case model.AlertSeverityCritical, model.AlertSeverityHigh:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}
