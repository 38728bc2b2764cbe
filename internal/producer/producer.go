package producer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// Producer is an upstream system supplying one or more metric keys
type Producer interface {
	// ID returns the producer identifier used as snapshot source
	ID() string

	// MetricKeys lists every key the producer is expected to report
	MetricKeys() []string

	// Fetch returns the producer's current reading
	Fetch(ctx context.Context) (*model.Reading, error)
}

// Config describes one configured producer
type Config struct {
	ID     string       `mapstructure:"id"`
	Kind   Kind         `mapstructure:"kind"`
	Source SourceConfig `mapstructure:"source"`
}

// Options carries the shared fetch policy and transports
type Options struct {
	RetryAttempts int
	Backoff       RetryStrategy
	MaxDataAge    time.Duration
	HTTPClient    *http.Client
	NATS          *nats.Conn
	Clock         func() time.Time
}

// DocumentProducer reads and decodes a versioned JSON document from a source
type DocumentProducer struct {
	logger     *zap.Logger
	id         string
	kind       Kind
	source     Source
	attempts   int
	backoff    RetryStrategy
	maxDataAge time.Duration
	now        func() time.Time
}

// NewDocumentProducer creates a producer over an existing source
func NewDocumentProducer(logger *zap.Logger, id string, kind Kind, source Source, opts Options) *DocumentProducer {
	p := &DocumentProducer{
		logger:     logger.Named("producer").With(zap.String("producer_id", id)),
		id:         id,
		kind:       kind,
		source:     source,
		attempts:   opts.RetryAttempts,
		backoff:    opts.Backoff,
		maxDataAge: opts.MaxDataAge,
		now:        opts.Clock,
	}
	if p.attempts < 1 {
		p.attempts = 1
	}
	if p.backoff == nil {
		p.backoff = DefaultBackoff
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Build creates a producer from configuration
func Build(logger *zap.Logger, cfg Config, opts Options) (Producer, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("producer has no id")
	}

	if cfg.Kind == KindSystem {
		return NewSystemProducer(logger, cfg.ID), nil
	}
	if cfg.Kind.MetricKeys() == nil {
		return nil, fmt.Errorf("%w: %q for producer %s", ErrUnknownKind, cfg.Kind, cfg.ID)
	}

	var source Source
	switch cfg.Source.Type {
	case SourceFile:
		source = NewFileSource(logger, cfg.Source.Path)
	case SourceHTTP:
		source = NewHTTPSource(logger, cfg.Source.URL, opts.HTTPClient)
	case SourceNATS:
		source = NewNATSSource(logger, opts.NATS, cfg.Source.Subject)
	default:
		return nil, fmt.Errorf("%w: %q for producer %s", ErrUnknownSource, cfg.Source.Type, cfg.ID)
	}

	return NewDocumentProducer(logger, cfg.ID, cfg.Kind, source, opts), nil
}

// ID implements Producer.ID
func (p *DocumentProducer) ID() string {
	return p.id
}

// MetricKeys implements Producer.MetricKeys
func (p *DocumentProducer) MetricKeys() []string {
	return p.kind.MetricKeys()
}

// Fetch implements Producer.Fetch. Unavailable sources are retried with
// backoff; decode failures are not.
func (p *DocumentProducer) Fetch(ctx context.Context) (*model.Reading, error) {
	var data []byte
	var err error

	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			delay := p.backoff.NextRetry(attempt - 1)
			p.logger.Debug("Retrying producer fetch",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		data, err = p.source.Fetch(ctx)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrUnavailable) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	reading, err := Decode(p.kind, data)
	if err != nil {
		return nil, err
	}
	reading.ProducerID = p.id

	if p.maxDataAge > 0 && !reading.CapturedAt.IsZero() {
		if age := p.now().Sub(reading.CapturedAt); age > p.maxDataAge {
			return nil, fmt.Errorf("%w: %s document is %s old", ErrStaleDocument, p.id, age.Round(time.Second))
		}
	}

	return reading, nil
}
