package monitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/storage"
)

var cycleStart = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()

	store, err := storage.NewSQLStore(zaptest.NewLogger(t), storage.DriverSQLite, filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeProducer serves fixed values until told to fail
type fakeProducer struct {
	id   string
	keys []string

	mu     sync.Mutex
	values map[string]float64
	err    error
	calls  int
}

func newFakeProducer(id string, kind producer.Kind, values map[string]float64) *fakeProducer {
	return &fakeProducer{id: id, keys: kind.MetricKeys(), values: values}
}

func (p *fakeProducer) ID() string { return p.id }

func (p *fakeProducer) MetricKeys() []string { return p.keys }

func (p *fakeProducer) Fetch(ctx context.Context) (*model.Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	values := make(map[string]float64, len(p.values))
	for k, v := range p.values {
		values[k] = v
	}
	return &model.Reading{ProducerID: p.id, Values: values}, nil
}

func (p *fakeProducer) set(key string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

func (p *fakeProducer) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func discoveryValues(discovery float64) map[string]float64 {
	return map[string]float64{
		model.MetricOverallScore:     30,
		model.MetricDiscoveryScore:   discovery,
		model.MetricContextScore:     57.5,
		model.MetricCompetitiveScore: 19.4,
		model.MetricCitationCount:    18,
		model.MetricTotalCitations:   120,
	}
}

func competitiveValues(rank float64) map[string]float64 {
	return map[string]float64{
		model.MetricMarketSharePct:   12,
		model.MetricRank:             rank,
		model.MetricOpportunityCount: 3,
	}
}

// manualClock only moves when advanced
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func seed(t *testing.T, store storage.Store, key, source string, values ...float64) {
	t.Helper()

	at := cycleStart.Add(-time.Duration(len(values)) * time.Hour)
	for _, v := range values {
		require.NoError(t, store.Append(context.Background(), model.MetricSnapshot{
			MetricKey:  key,
			Value:      v,
			CapturedAt: at,
			Source:     source,
		}))
		at = at.Add(time.Hour)
	}
}
