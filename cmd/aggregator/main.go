package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/disaster-feed-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/disaster-feed-service/internal/adapter/kafka"
	"github.com/couchcryptid/disaster-feed-service/internal/aggregator"
	"github.com/couchcryptid/disaster-feed-service/internal/breaker"
	"github.com/couchcryptid/disaster-feed-service/internal/config"
	"github.com/couchcryptid/disaster-feed-service/internal/fanout"
	"github.com/couchcryptid/disaster-feed-service/internal/observability"
	"github.com/couchcryptid/disaster-feed-service/internal/policy"
	"github.com/couchcryptid/disaster-feed-service/internal/scheduler"
	"github.com/couchcryptid/disaster-feed-service/internal/source"
	"github.com/couchcryptid/disaster-feed-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	policies, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		logger.Error("failed to load policies", "error", err, "file", cfg.PolicyFile)
		os.Exit(1)
	}

	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeoutBase: cfg.BreakerResetTimeout,
		MaxResetTimeout:  cfg.BreakerMaxResetTimeout,
		OnStateChange: func(src string, from, to breaker.State) {
			logger.Warn("circuit state changed", "source", src, "from", from, "to", to)
		},
	}, nil)

	hub := fanout.NewHub()

	// Kafka publishing is feature-flagged via KAFKA_ENABLED.
	var publisher aggregator.FeedPublisher
	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaFeedTopic, logger)
		publisher = kafkaWriter
		logger.Info("kafka feed publishing enabled", "topic", cfg.KafkaFeedTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka feed publishing disabled")
	}

	specs := make([]aggregator.SourceSpec, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		specs = append(specs, aggregator.SourceSpec{
			Name:     sc.Name,
			Type:     sc.Type,
			Priority: sc.Priority,
			Interval: sc.Interval,
			Fetcher:  source.NewHTTPSource(sc.Name, sc.URL, http.DefaultClient, logger),
		})
	}

	svc := aggregator.New(aggregator.Options{
		Sources:      specs,
		Breaker:      brk,
		Store:        store.NewMemory(nil),
		Hub:          hub,
		Policies:     policies,
		Publisher:    publisher,
		Logger:       logger,
		Metrics:      metrics,
		FetchTimeout: cfg.FetchTimeout,
	})

	sched := scheduler.New(svc, logger)
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, hub, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
