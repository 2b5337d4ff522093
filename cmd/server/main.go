package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/alert"
	"github.com/t77yq/watchtower/internal/dashboard"
	"github.com/t77yq/watchtower/internal/errtrack"
	"github.com/t77yq/watchtower/internal/event"
	"github.com/t77yq/watchtower/internal/health"
	"github.com/t77yq/watchtower/internal/metrics"
	"github.com/t77yq/watchtower/internal/model"
	"github.com/t77yq/watchtower/internal/report"
	"github.com/t77yq/watchtower/internal/sampler"
	"github.com/t77yq/watchtower/internal/storage"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
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
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	if err := setupStreams(js, logger); err != nil {
		logger.Fatal("Failed to setup streams", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Resource reader feeds the event bus rollups, the resource sampler
	// and the health threshold check
	reader := sampler.NewSystemReader(viper.GetString("resources.disk_path"))

	// Event bus
	bus := event.NewBus(js, reader, event.Config{
		MaxEvents:       viper.GetInt("events.max_events"),
		Retention:       viper.GetDuration("events.retention"),
		MetricsInterval: viper.GetDuration("events.metrics_interval"),
	}, logger)
	if err := bus.Start(ctx); err != nil {
		logger.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Metrics aggregator
	aggregator := metrics.NewAggregator(viper.GetInt("metrics.max_points_per_series"), logger)
	aggregator.Declare(model.MetricDefinition{
		Name: "system.cpu.usage",
		Type: model.MetricTypeGauge,
		Unit: "percent",
	})
	aggregator.Declare(model.MetricDefinition{
		Name: "system.memory.usage",
		Type: model.MetricTypeGauge,
		Unit: "percent",
	})
	aggregator.ConfigureRollup(model.RollupConfig{
		Metric:         "http.response_time",
		SourceInterval: time.Second,
		TargetInterval: time.Minute,
		Aggregation:    model.AggregationAvg,
	})

	// Alert history journal
	journal, err := storage.NewSQLiteAlertHistory(logger, viper.GetString("alerting.history_db"))
	if err != nil {
		logger.Fatal("Failed to create alert history storage", zap.Error(err))
	}
	defer journal.Close()

	// Alert engine and notification channels
	engine := alert.NewEngine(aggregator, journal, alert.Config{
		EvaluationInterval: viper.GetDuration("alerting.evaluation_interval"),
	}, logger)

	engine.RegisterChannel(alert.NewEmailChannel(alert.EmailConfig{
		Host:     viper.GetString("channels.email.host"),
		Port:     viper.GetInt("channels.email.port"),
		Username: viper.GetString("channels.email.username"),
		Password: viper.GetString("channels.email.password"),
		From:     viper.GetString("channels.email.from"),
	}, logger))
	engine.RegisterChannel(alert.NewWebhookChannel(
		viper.GetString("channels.webhook.url"),
		viper.GetDuration("channels.webhook.timeout"),
		logger))
	engine.RegisterChannel(alert.NewSlackChannel(
		viper.GetString("channels.slack.webhook_url"),
		logger))
	engine.RegisterChannel(alert.NewNATSChannel(js, logger))
	engine.RegisterChannel(alert.NewInAppChannel(bus))

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start alert engine", zap.Error(err))
	}

	registerDefaultRules(engine, logger)

	// Error tracker
	tracker := errtrack.NewTracker(bus, errtrack.Config{
		MaxErrors: viper.GetInt("errors.max_errors"),
	}, logger)

	// Samplers
	resourceSampler := sampler.NewResourceSampler(reader, aggregator, bus,
		viper.GetDuration("resources.sample_interval"),
		sampler.ResourceBudget{
			CPUPercent:    viper.GetFloat64("resources.budget.cpu_percent"),
			MemoryPercent: viper.GetFloat64("resources.budget.memory_percent"),
			DiskPercent:   viper.GetFloat64("resources.budget.disk_percent"),
		}, logger)
	if err := resourceSampler.Start(ctx); err != nil {
		logger.Fatal("Failed to start resource sampler", zap.Error(err))
	}

	perfSampler := sampler.NewPerformanceSampler(aggregator, bus, logger)
	perfSampler.SetBudget("http.response_time", sampler.LatencyBudget{
		Warn: viper.GetDuration("performance.request_budget_warn"),
		Fail: viper.GetDuration("performance.request_budget_fail"),
	})

	// Health orchestrator
	probes := []health.Probe{
		health.NewNATSProbe(nc),
		&health.SelfProbe{},
		health.NewResourceProbe(reader,
			viper.GetFloat64("health.resource_warn_percent"),
			viper.GetFloat64("health.resource_fail_percent")),
	}
	if dockerProbe, err := health.NewDockerProbe(); err != nil {
		logger.Warn("Docker probe unavailable", zap.Error(err))
	} else {
		probes = append(probes, dockerProbe)
	}

	orchestrator := health.NewOrchestrator(probes, health.Config{
		Interval: viper.GetDuration("health.check_interval"),
	}, logger)
	if err := orchestrator.Start(ctx); err != nil {
		logger.Fatal("Failed to start health orchestrator", zap.Error(err))
	}

	// Dashboard data provider
	provider := dashboard.NewProvider(dashboard.Sources{
		Metrics:    aggregator,
		Errors:     tracker,
		Alerts:     engine,
		Monitoring: bus,
	}, dashboard.Config{
		CacheTTL: viper.GetDuration("dashboards.cache_ttl"),
	}, logger)

	overview := provider.CreateDashboard("Operations Overview",
		model.Widget{
			Title: "Request Latency",
			Type:  model.WidgetTypeLineChart,
			DataSource: model.DataSource{
				Type:   model.SourcePerformance,
				Metric: "http.response_time",
				Params: map[string]interface{}{"aggregation": "p95"},
			},
		},
		model.Widget{
			Title:      "Active Alerts",
			Type:       model.WidgetTypeTable,
			DataSource: model.DataSource{Type: model.SourceAlerts},
		},
		model.Widget{
			Title:      "Error Groups",
			Type:       model.WidgetTypeTable,
			DataSource: model.DataSource{Type: model.SourceErrors},
		},
		model.Widget{
			Title: "CPU Usage",
			Type:  model.WidgetTypeGauge,
			DataSource: model.DataSource{
				Type:   model.SourceResources,
				Metric: "system.cpu.usage",
			},
		},
	)
	logger.Info("Default dashboard created", zap.String("id", overview.ID))

	// Report generator
	generator := report.NewGenerator(orchestrator, aggregator, engine, tracker, bus, logger)
	if expr := viper.GetString("reports.schedule"); expr != "" {
		if err := generator.Schedule(expr, viper.GetDuration("reports.period")); err != nil {
			logger.Error("Failed to register report schedule", zap.Error(err))
		}
	}
	if err := generator.Start(ctx); err != nil {
		logger.Fatal("Failed to start report generator", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Periodic status logging and journal retention sweep
	go func() {
		statusTicker := time.NewTicker(30 * time.Second)
		rollupTicker := time.NewTicker(time.Hour)
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer statusTicker.Stop()
		defer rollupTicker.Stop()
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-statusTicker.C:
				status := orchestrator.Status()
				active := engine.Alerts(model.AlertStatusTriggered, model.AlertStatusAcknowledged)
				logger.Info("Engine status",
					zap.String("health", string(status.State)),
					zap.Int("active_alerts", len(active)),
					zap.Int("error_groups", len(tracker.Groups())))
			case <-rollupTicker.C:
				aggregator.RunRollups()
			case <-cleanupTicker.C:
				cutoff := time.Now().AddDate(0, 0, -30)
				if err := journal.DeleteBefore(context.Background(), cutoff); err != nil {
					logger.Error("Failed to cleanup old alert history", zap.Error(err))
				}
			}
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	generator.Stop()
	orchestrator.Stop()
	resourceSampler.Stop()
	engine.Stop()
	bus.Stop()

	// Give in-flight publishes a moment to drain
	select {
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout reached")
	case <-time.After(2 * time.Second):
	}

	logger.Info("Server shutting down gracefully")
}

// setupStreams creates the engine's JetStream streams if missing
func setupStreams(js nats.JetStreamContext, logger *zap.Logger) error {
	for name, subjects := range map[string][]string{
		"EVENTS":  {"event.*"},
		"METRICS": {"metrics.*"},
		"ALERTS":  {"alert.*"},
	} {
		_, err := js.AddStream(&nats.StreamConfig{
			Name:     name,
			Subjects: subjects,
			Storage:  nats.FileStorage,
			MaxAge:   viper.GetDuration("nats.stream_max_age"),
		})
		if err != nil {
			if err == nats.ErrStreamNameAlreadyInUse {
				logger.Info("Stream already exists", zap.String("stream", name))
				continue
			}
			return err
		}
		logger.Info("Stream created successfully", zap.String("stream", name))
	}
	return nil
}

// registerDefaultRules installs the baseline alert rules from config
func registerDefaultRules(engine *alert.Engine, logger *zap.Logger) {
	rules := []*model.AlertRule{
		{
			Name: "High CPU Usage",
			Conditions: []model.AlertCondition{
				{Metric: "system.cpu.usage", Operator: model.OperatorGreaterEqual, Threshold: viper.GetFloat64("alerting.cpu_threshold")},
			},
			Severity:        model.AlertSeverityWarning,
			Channels:        []model.ChannelType{model.ChannelInApp, model.ChannelPush},
			ThrottleSeconds: 300,
		},
		{
			Name: "High Memory Usage",
			Conditions: []model.AlertCondition{
				{Metric: "system.memory.usage", Operator: model.OperatorGreaterEqual, Threshold: viper.GetFloat64("alerting.memory_threshold")},
			},
			Severity:        model.AlertSeverityWarning,
			Channels:        []model.ChannelType{model.ChannelInApp, model.ChannelPush},
			ThrottleSeconds: 300,
		},
		{
			Name: "Slow Responses",
			Conditions: []model.AlertCondition{
				{Metric: "http.response_time", Operator: model.OperatorGreaterThan, Threshold: viper.GetFloat64("alerting.response_time_threshold_ms")},
			},
			Severity:        model.AlertSeverityError,
			Channels:        []model.ChannelType{model.ChannelInApp, model.ChannelWebhook},
			ThrottleSeconds: 120,
			Escalation: &model.EscalationPolicy{
				Levels: []model.EscalationLevel{
					{DelayMinutes: 10, Channels: []model.ChannelType{model.ChannelEmail}, Recipients: viper.GetStringSlice("alerting.escalation_recipients")},
				},
			},
		},
	}

	for _, rule := range rules {
		rule.Enabled = true
		if err := engine.CreateRule(rule); err != nil {
			logger.Error("Failed to create default rule",
				zap.String("name", rule.Name),
				zap.Error(err))
		}
	}
}
