package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/geo-monitor/internal/api"
	"github.com/t77yq/geo-monitor/internal/config"
	"github.com/t77yq/geo-monitor/internal/metrics"
	"github.com/t77yq/geo-monitor/internal/model"
	"github.com/t77yq/geo-monitor/internal/monitor"
	"github.com/t77yq/geo-monitor/internal/notify"
	"github.com/t77yq/geo-monitor/internal/producer"
	"github.com/t77yq/geo-monitor/internal/scheduler"
	"github.com/t77yq/geo-monitor/internal/storage"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := cfg.Log.Build()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLStore(logger, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.Fatal("Failed to open metric store", zap.Error(err))
	}
	defer store.Close()

	var nc *nats.Conn
	var js nats.JetStreamContext
	if cfg.NATS.Enabled {
		nc = connectNATS(logger, cfg)
		defer nc.Close()

		js, err = nc.JetStream()
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}
	}

	producers, err := buildProducers(logger, cfg, nc)
	if err != nil {
		logger.Fatal("Failed to build producers", zap.Error(err))
	}

	dispatcher, err := buildDispatcher(logger, cfg, js)
	if err != nil {
		logger.Fatal("Failed to build notification channels", zap.Error(err))
	}

	recorder := metrics.NewRecorder(logger)

	engineOpts := []monitor.EngineOption{
		monitor.WithNotifier(dispatcher),
		monitor.WithObserver(recorder),
	}
	if cfg.Feedback.Dir != "" {
		engineOpts = append(engineOpts, monitor.WithFeedbackSink(notify.NewFileFeedbackSink(logger, cfg.Feedback.Dir)))
	}
	if cfg.Feedback.JetStream {
		sink, err := notify.NewJetStreamFeedbackSink(logger, js)
		if err != nil {
			logger.Fatal("Failed to create feedback stream", zap.Error(err))
		}
		engineOpts = append(engineOpts, monitor.WithFeedbackSink(sink))
	}

	engine, err := monitor.NewEngine(ctx, logger, store, producers, cfg.Rules, monitor.EngineConfig{
		Collector: monitor.CollectorConfig{
			FetchTimeout:         cfg.Monitoring.FetchTimeout,
			MaxConcurrentFetches: cfg.Monitoring.MaxConcurrentFetches,
		},
		TrendWindow:    cfg.Monitoring.TrendWindow,
		TrendThreshold: cfg.Feedback.TrendThreshold,
		Business:       cfg.Business,
	}, engineOpts...)
	if err != nil {
		logger.Fatal("Failed to create monitoring engine", zap.Error(err))
	}

	sched := scheduler.New(logger, engine,
		scheduler.WithCleaner(store, scheduler.Config{
			CleanupSchedule: cfg.Monitoring.CleanupSchedule,
			RetentionDays:   cfg.Storage.RetentionDays,
		}),
		scheduler.WithSkipObserver(recorder))

	if cfg.Monitoring.Autostart {
		if err := sched.Start(cfg.Monitoring.Interval); err != nil {
			logger.Fatal("Failed to start monitoring", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(logger, sched, cfg.Monitoring.Interval, recorder.Handler()).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving control API", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Control API failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("Monitoring service ready",
		zap.String("app", cfg.App.Name),
		zap.Int("producers", len(producers)),
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("autostart", cfg.Monitoring.Autostart))

	// Wait for shutdown signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Control API shutdown incomplete", zap.Error(err))
	}

	// Let an in-flight cycle finish before the store closes
	if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrNotRunning) {
		logger.Error("Failed to stop monitoring", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
}

func connectNATS(logger *zap.Logger, cfg *config.Config) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))
	return nc
}

func buildProducers(logger *zap.Logger, cfg *config.Config, nc *nats.Conn) ([]producer.Producer, error) {
	opts := producer.Options{
		RetryAttempts: cfg.Monitoring.RetryAttempts,
		Backoff:       producer.DefaultBackoff,
		MaxDataAge:    cfg.Monitoring.MaxDataAge,
		HTTPClient:    &http.Client{Timeout: cfg.Monitoring.FetchTimeout},
		NATS:          nc,
	}

	var producers []producer.Producer
	for _, pc := range cfg.Producers {
		p, err := producer.Build(logger, pc, opts)
		if err != nil {
			return nil, err
		}
		producers = append(producers, p)
	}

	if cfg.SystemProducer.Enabled {
		producers = append(producers, producer.NewSystemProducer(logger, cfg.SystemProducer.ID))
	}
	return producers, nil
}

func buildDispatcher(logger *zap.Logger, cfg *config.Config, js nats.JetStreamContext) (*notify.Dispatcher, error) {
	dispatcher := notify.NewDispatcher(logger)
	n := cfg.Notifications

	// Severities were checked when the config was loaded
	if n.Log.Enabled {
		dispatcher.AddChannel(notify.NewLogChannel(logger), mustSeverity(n.Log.MinSeverity))
	}
	if n.Webhook.URL != "" {
		dispatcher.AddChannel(notify.NewWebhookChannel(logger, n.Webhook.URL), mustSeverity(n.Webhook.MinSeverity))
	}
	if n.Email.Host != "" && len(n.Email.To) > 0 {
		dispatcher.AddChannel(notify.NewEmailChannel(logger, n.Email.EmailConfig), mustSeverity(n.Email.MinSeverity))
	}
	if n.JetStream.Enabled {
		channel, err := notify.NewJetStreamChannel(logger, js)
		if err != nil {
			return nil, err
		}
		dispatcher.AddChannel(channel, mustSeverity(n.JetStream.MinSeverity))
	}

	if dispatcher.Channels() == 0 {
		logger.Warn("No notification channels configured; alerts are only persisted")
	}
	return dispatcher, nil
}

func mustSeverity(s string) model.AlertSeverity {
	sev, err := model.ParseSeverity(s)
	if err != nil {
		panic(err)
	}
	return sev
}
