package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// EmailConfig holds SMTP settings for the email channel
type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel mails alerts through an SMTP relay
type EmailChannel struct {
	logger   *zap.Logger
	config   EmailConfig
	sendMail sendMailFunc
}

// NewEmailChannel creates a new email channel
func NewEmailChannel(logger *zap.Logger, config EmailConfig) *EmailChannel {
	return &EmailChannel{
		logger:   logger.Named("email"),
		config:   config,
		sendMail: smtp.SendMail,
	}
}

// Name implements Channel.Name
func (c *EmailChannel) Name() string {
	return "email"
}

// Send implements Channel.Send
func (c *EmailChannel) Send(ctx context.Context, alert *model.Alert) error {
	if len(c.config.To) == 0 {
		return fmt.Errorf("no email recipients configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.config.Username != "" {
		auth = smtp.PlainAuth("", c.config.Username, c.config.Password, c.config.Host)
	}

	addr := fmt.Sprintf("%s:%d", c.config.Host, c.config.Port)
	if err := c.sendMail(addr, auth, c.config.From, c.config.To, c.message(alert)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Debug("Sent email notification",
		zap.String("alert_id", alert.ID),
		zap.Int("recipients", len(c.config.To)))
	return nil
}

func (c *EmailChannel) message(alert *model.Alert) []byte {
	var body strings.Builder
	fmt.Fprintf(&body, "Severity: %s\r\n", strings.ToUpper(string(alert.Severity)))
	fmt.Fprintf(&body, "Time: %s\r\n", alert.RaisedAt.Format(time.RFC3339))
	fmt.Fprintf(&body, "Metric: %s (rule %s)\r\n", alert.MetricKey, alert.RuleID)
	fmt.Fprintf(&body, "Observed: %.2f  Baseline: %.2f  Delta: %+.2f\r\n\r\n", alert.ObservedValue, alert.BaselineValue, alert.Delta)
	fmt.Fprintf(&body, "Message: %s\r\n", alert.Message)
	if len(alert.Actions) > 0 {
		body.WriteString("\r\nRecommended Actions:\r\n")
		for _, action := range alert.Actions {
			fmt.Fprintf(&body, "- %s\r\n", action)
		}
	}

	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: GEO Alert: %s %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s",
		c.config.From,
		strings.Join(c.config.To, ", "),
		strings.ToUpper(string(alert.Severity)),
		alert.RuleID,
		body.String()))
}
