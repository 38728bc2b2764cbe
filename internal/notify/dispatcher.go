package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// Channel represents a channel for sending alert notifications
type Channel interface {
	// Name identifies the channel in logs and delivery diagnostics
	Name() string

	// Send delivers one alert
	Send(ctx context.Context, alert *model.Alert) error
}

type route struct {
	channel     Channel
	minSeverity model.AlertSeverity
}

// Dispatcher fans delivered alerts out to every channel whose minimum
// severity they meet. Channels are tried in registration order and one
// failing channel never blocks the others.
type Dispatcher struct {
	logger *zap.Logger
	routes []route
}

// NewDispatcher creates a new alert dispatcher
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.Named("dispatcher"),
	}
}

// AddChannel registers a channel for alerts at or above minSeverity
func (d *Dispatcher) AddChannel(channel Channel, minSeverity model.AlertSeverity) {
	d.routes = append(d.routes, route{channel: channel, minSeverity: minSeverity})
	d.logger.Info("Added notification channel",
		zap.String("channel", channel.Name()),
		zap.String("min_severity", string(minSeverity)))
}

// Channels returns the number of registered channels
func (d *Dispatcher) Channels() int {
	return len(d.routes)
}

// Notify implements monitor.Notifier
func (d *Dispatcher) Notify(ctx context.Context, alerts []model.Alert) []model.DeliveryFailure {
	var failures []model.DeliveryFailure

	for i := range alerts {
		alert := &alerts[i]
		if alert.Suppressed {
			continue
		}

		for _, r := range d.routes {
			if !alert.Severity.AtLeast(r.minSeverity) {
				continue
			}
			if err := r.channel.Send(ctx, alert); err != nil {
				d.logger.Error("Failed to send alert notification",
					zap.String("channel", r.channel.Name()),
					zap.String("alert_id", alert.ID),
					zap.Error(err))
				failures = append(failures, model.DeliveryFailure{
					Target: r.channel.Name(),
					ID:     alert.ID,
					Error:  err.Error(),
				})
			}
		}
	}

	return failures
}
