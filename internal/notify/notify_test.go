package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/testutil"
)

var raisedAt = time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

func testAlert(id string, severity model.AlertSeverity) model.Alert {
	return model.Alert{
		ID:            id,
		RuleID:        "discovery_decline",
		MetricKey:     model.MetricDiscoveryScore,
		Source:        "discovery",
		Kind:          model.AlertKindDecline,
		Severity:      severity,
		ObservedValue: 25,
		BaselineValue: 50,
		Delta:         -25,
		Message:       "CRITICAL: Discovery Score declined by 25.0 to 25.0",
		Actions:       []string{"Run diagnostic analysis on affected metrics"},
		RaisedAt:      raisedAt,
	}
}

type fakeChannel struct {
	name string
	err  error
	sent []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Send(ctx context.Context, alert *model.Alert) error {
	c.sent = append(c.sent, alert.ID)
	return c.err
}

func TestDispatcher_Notify(t *testing.T) {
	dispatcher := NewDispatcher(zaptest.NewLogger(t))
	everything := &fakeChannel{name: "everything"}
	pager := &fakeChannel{name: "pager", err: errors.New("pager offline")}
	dispatcher.AddChannel(everything, model.AlertSeverityLow)
	dispatcher.AddChannel(pager, model.AlertSeverityHigh)

	stale := testAlert("stale", model.AlertSeverityCritical)
	stale.Suppressed = true

	failures := dispatcher.Notify(context.Background(), []model.Alert{
		testAlert("low", model.AlertSeverityLow),
		testAlert("critical", model.AlertSeverityCritical),
		stale,
	})

	assert.Equal(t, []string{"low", "critical"}, everything.sent)
	assert.Equal(t, []string{"critical"}, pager.sent)
	require.Len(t, failures, 1)
	assert.Equal(t, model.DeliveryFailure{Target: "pager", ID: "critical", Error: "pager offline"}, failures[0])
	assert.Equal(t, 2, dispatcher.Channels())
}

func TestWebhookChannel_Send(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel := NewWebhookChannel(zaptest.NewLogger(t), server.URL)
	alert := testAlert("a1", model.AlertSeverityCritical)
	require.NoError(t, channel.Send(context.Background(), &alert))

	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "#f44336", got.Attachments[0].Color)
	assert.Equal(t, "CRITICAL: discovery_decline", got.Attachments[0].Title)
	assert.Equal(t, raisedAt.Unix(), got.Attachments[0].Ts)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	err := NewWebhookChannel(zaptest.NewLogger(t), failing.URL).Send(context.Background(), &alert)
	assert.ErrorContains(t, err, "502")
}

func TestEmailChannel_Send(t *testing.T) {
	channel := NewEmailChannel(zaptest.NewLogger(t), EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "monitor@example.com",
		To:   []string{"team@example.com"},
	})

	var gotAddr string
	var gotMsg []byte
	channel.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotMsg = msg
		assert.Nil(t, a)
		assert.Equal(t, []string{"team@example.com"}, to)
		return nil
	}

	alert := testAlert("a1", model.AlertSeverityHigh)
	require.NoError(t, channel.Send(context.Background(), &alert))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Contains(t, string(gotMsg), "Subject: GEO Alert: HIGH discovery_decline")
	assert.Contains(t, string(gotMsg), "- Run diagnostic analysis on affected metrics")

	empty := NewEmailChannel(zaptest.NewLogger(t), EmailConfig{Host: "smtp.example.com"})
	assert.Error(t, empty.Send(context.Background(), &alert))
}

func TestJetStreamChannel_Send(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)

	channel, err := NewJetStreamChannel(zaptest.NewLogger(t), js)
	require.NoError(t, err)

	sub, err := js.SubscribeSync("alerts.critical", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	alert := testAlert("a1", model.AlertSeverityCritical)
	require.NoError(t, channel.Send(context.Background(), &alert))
	// same id is deduplicated by the stream
	require.NoError(t, channel.Send(context.Background(), &alert))

	msg := testutil.NextMessage(t, sub, 5*time.Second)
	var got model.Alert
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "a1", got.ID)

	info, err := js.StreamInfo(alertStreamName)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)

	// a second channel reuses the existing stream
	_, err = NewJetStreamChannel(zaptest.NewLogger(t), js)
	require.NoError(t, err)
}

func testFeedback() model.FeedbackDocument {
	alert := testAlert("a1", model.AlertSeverityMedium)
	return model.FeedbackDocument{
		ProducerID:      "discovery",
		CycleID:         "cycle-1",
		Priority:        model.AlertSeverityMedium,
		RelatedAlerts:   []model.Alert{alert},
		TrendHighlights: []model.TrendHighlight{{MetricKey: model.MetricDiscoveryScore, DeltaOverWindow: -25}},
		Recommendations: alert.Actions,
		GeneratedAt:     raisedAt,
	}
}

func TestJetStreamFeedbackSink_Deliver(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)

	sink, err := NewJetStreamFeedbackSink(zaptest.NewLogger(t), js)
	require.NoError(t, err)

	sub, err := js.SubscribeSync("feedback.discovery", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	failures := sink.Deliver(context.Background(), []model.FeedbackDocument{testFeedback()})
	assert.Empty(t, failures)

	msg := testutil.NextMessage(t, sub, 5*time.Second)
	var got model.FeedbackDocument
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "discovery", got.ProducerID)
	assert.Equal(t, "cycle-1", got.CycleID)
}

func TestFileFeedbackSink_Deliver(t *testing.T) {
	dir := t.TempDir()
	sink := NewFileFeedbackSink(zaptest.NewLogger(t), dir)

	failures := sink.Deliver(context.Background(), []model.FeedbackDocument{testFeedback()})
	assert.Empty(t, failures)

	for _, name := range []string{"feedback_20250301T060000Z.json", "latest.json"} {
		data, err := os.ReadFile(filepath.Join(dir, "discovery", name))
		require.NoError(t, err)

		var got model.FeedbackDocument
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, model.AlertSeverityMedium, got.Priority)
		assert.Len(t, got.RelatedAlerts, 1)
	}

	// the target directory cannot be created below a regular file
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	failures = NewFileFeedbackSink(zaptest.NewLogger(t), blocker).Deliver(context.Background(), []model.FeedbackDocument{testFeedback()})
	require.Len(t, failures, 1)
	assert.Equal(t, "discovery", failures[0].ID)

	// ids never leave the feedback directory
	escape := testFeedback()
	escape.ProducerID = ".."
	failures = sink.Deliver(context.Background(), []model.FeedbackDocument{escape})
	require.Len(t, failures, 1)
	assert.Equal(t, "..", failures[0].ID)
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "latest.json"))
	assert.True(t, os.IsNotExist(err))
}
