package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/model"
)

const namespace = "geo_monitor"

// Recorder turns finished cycles into Prometheus series. It owns its own
// registry so tests and multiple engines never collide on registration.
type Recorder struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	cycles               *prometheus.CounterVec
	cycleDuration        prometheus.Histogram
	alerts               *prometheus.CounterVec
	cooldownSuppressions prometheus.Counter
	producerFailures     *prometheus.CounterVec
	staleSnapshots       prometheus.Counter
	deliveryFailures     *prometheus.CounterVec
	lastCycle            prometheus.Gauge
}

// NewRecorder creates a recorder with Go runtime and process collectors attached
func NewRecorder(logger *zap.Logger) *Recorder {
	r := &Recorder{
		logger:   logger.Named("metrics"),
		registry: prometheus.NewRegistry(),

		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of monitoring cycles by status",
		}, []string{"status"}),

		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Monitoring cycle duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),

		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of alerts raised",
		}, []string{"severity", "suppressed"}),

		cooldownSuppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cooldown_suppressions_total",
			Help:      "Total number of rule firings suppressed by cooldown",
		}),

		producerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_failures_total",
			Help:      "Total number of failed producer fetches",
		}, []string{"producer"}),

		staleSnapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_stale_total",
			Help:      "Total number of carried-forward snapshots",
		}),

		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Total number of failed notification or feedback deliveries",
		}, []string{"target"}),

		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Start time of the last monitoring cycle",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.cycles,
		r.cycleDuration,
		r.alerts,
		r.cooldownSuppressions,
		r.producerFailures,
		r.staleSnapshots,
		r.deliveryFailures,
		r.lastCycle,
	)

	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveCycle implements monitor.CycleObserver
func (r *Recorder) ObserveCycle(result *model.CycleResult, duration time.Duration) {
	r.cycles.WithLabelValues(string(result.Status)).Inc()
	r.cycleDuration.Observe(duration.Seconds())
	r.lastCycle.Set(float64(result.CompletedAt.Unix()))

	for _, alert := range result.Alerts {
		r.alerts.WithLabelValues(string(alert.Severity), strconv.FormatBool(alert.Suppressed)).Inc()
	}
	for _, snap := range result.Snapshots {
		if snap.IsStale {
			r.staleSnapshots.Inc()
		}
	}

	diag := result.Diagnostics
	r.cooldownSuppressions.Add(float64(len(diag.CooldownSuppressions)))
	for _, f := range diag.ProducerFailures {
		r.producerFailures.WithLabelValues(f.ProducerID).Inc()
	}
	for _, f := range diag.DeliveryFailures {
		r.deliveryFailures.WithLabelValues(f.Target).Inc()
	}

	r.logger.Debug("Recorded cycle metrics",
		zap.String("cycle_id", result.CycleID),
		zap.String("status", string(result.Status)),
		zap.Duration("duration", duration))
}

// ObserveSkipped counts a cycle that never produced a result
func (r *Recorder) ObserveSkipped() {
	r.cycles.WithLabelValues(string(model.CycleStatusSkipped)).Inc()
}
