package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alerts."

	feedbackStreamName    = "FEEDBACK"
	feedbackSubjectPrefix = "feedback."

	streamMaxAge = 30 * 24 * time.Hour
)

// ensureStream creates the stream unless it already exists
func ensureStream(js nats.JetStreamContext, name, subjects string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{subjects},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// JetStreamChannel publishes alerts to alerts.<severity>
type JetStreamChannel struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamChannel creates the ALERTS stream if needed and returns the channel
func NewJetStreamChannel(logger *zap.Logger, js nats.JetStreamContext) (*JetStreamChannel, error) {
	if err := ensureStream(js, alertStreamName, alertSubjectPrefix+"*"); err != nil {
		return nil, err
	}
	return &JetStreamChannel{
		logger: logger.Named("jetstream-alerts"),
		js:     js,
	}, nil
}

// Name implements Channel.Name
func (c *JetStreamChannel) Name() string {
	return "jetstream"
}

// Send implements Channel.Send. The alert id doubles as the message id so
// JetStream drops republished alerts.
func (c *JetStreamChannel) Send(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = c.js.Publish(alertSubjectPrefix+string(alert.Severity), data, nats.Context(ctx), nats.MsgId(alert.ID))
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// JetStreamFeedbackSink publishes feedback documents to feedback.<producer_id>
type JetStreamFeedbackSink struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamFeedbackSink creates the FEEDBACK stream if needed and returns the sink
func NewJetStreamFeedbackSink(logger *zap.Logger, js nats.JetStreamContext) (*JetStreamFeedbackSink, error) {
	if err := ensureStream(js, feedbackStreamName, feedbackSubjectPrefix+"*"); err != nil {
		return nil, err
	}
	return &JetStreamFeedbackSink{
		logger: logger.Named("jetstream-feedback"),
		js:     js,
	}, nil
}

// Deliver implements monitor.FeedbackSink
func (s *JetStreamFeedbackSink) Deliver(ctx context.Context, docs []model.FeedbackDocument) []model.DeliveryFailure {
	var failures []model.DeliveryFailure
	for _, doc := range docs {
		if err := s.publish(ctx, doc); err != nil {
			s.logger.Error("Failed to publish feedback",
				zap.String("producer_id", doc.ProducerID),
				zap.Error(err))
			failures = append(failures, model.DeliveryFailure{Target: "jetstream-feedback", ID: doc.ProducerID, Error: err.Error()})
		}
	}
	return failures
}

func (s *JetStreamFeedbackSink) publish(ctx context.Context, doc model.FeedbackDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback: %w", err)
	}

	_, err = s.js.Publish(feedbackSubjectPrefix+doc.ProducerID, data,
		nats.Context(ctx), nats.MsgId(doc.CycleID+"/"+doc.ProducerID))
	if err != nil {
		return fmt.Errorf("failed to publish feedback: %w", err)
	}
	return nil
}
