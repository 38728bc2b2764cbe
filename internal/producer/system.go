package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

// SystemProducer reports the monitoring host's own CPU and memory usage
type SystemProducer struct {
	logger *zap.Logger
	id     string
	sample time.Duration
}

// NewSystemProducer creates a new system health producer
func NewSystemProducer(logger *zap.Logger, id string) *SystemProducer {
	return &SystemProducer{
		logger: logger.Named("system-producer"),
		id:     id,
		sample: time.Second,
	}
}

// ID implements Producer.ID
func (p *SystemProducer) ID() string {
	return p.id
}

// MetricKeys implements Producer.MetricKeys
func (p *SystemProducer) MetricKeys() []string {
	return KindSystem.MetricKeys()
}

// Fetch implements Producer.Fetch
func (p *SystemProducer) Fetch(ctx context.Context) (*model.Reading, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, p.sample, false)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get CPU usage: %v", ErrUnavailable, err)
	}
	if len(cpuPercent) == 0 {
		return nil, fmt.Errorf("%w: no CPU usage reported", ErrUnavailable)
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get memory info: %v", ErrUnavailable, err)
	}

	return &model.Reading{
		ProducerID: p.id,
		Values: map[string]float64{
			model.MetricSystemCPUPercent: cpuPercent[0],
			model.MetricSystemMemPercent: memInfo.UsedPercent,
		},
	}, nil
}
