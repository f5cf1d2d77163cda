// Package main runs the order history service: it consumes order lifecycle
// events from RabbitMQ and keeps the order history read model up to date.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	platformamqp "github.com/rai/orderhistory-go/internal/platform/amqp"
	"github.com/rai/orderhistory-go/internal/platform/httpserver"
	"github.com/rai/orderhistory-go/internal/platform/metrics"
	platformotel "github.com/rai/orderhistory-go/internal/platform/otel"
	platformredis "github.com/rai/orderhistory-go/internal/platform/redis"
	"github.com/rai/orderhistory-go/modules/orderhistory"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/cache"
	"github.com/rai/orderhistory-go/modules/orderhistory/infrastructure/messaging"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("order history stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("order history stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := platformotel.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", slog.Any("error", err))
		}
	}()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Warn("failed to close store", slog.Any("error", err))
		}
	}()

	checks := map[string]httpserver.Check{"store": st.check}

	moduleCfg := orderhistory.Config{
		Repository:       st.repo,
		Tracker:          st.tracker,
		TransactionScope: st.scope,
		BatchWorkers:     cfg.BatchWorkers,
		Logger:           logger,
	}
	if cfg.Redis.Addr != "" {
		redisClient, err := platformredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		moduleCfg.Cache = cache.NewRedisOrderCache(redisClient, cfg.CacheTTL)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		logger.Info("order cache enabled", slog.String("addr", cfg.Redis.Addr))
	}
	history := orderhistory.New(moduleCfg)

	if cfg.AMQP.ConsumerTag == "" {
		cfg.AMQP.ConsumerTag = "order-history-" + uuid.NewString()
	}
	conn, err := platformamqp.Dial(cfg.AMQP)
	if err != nil {
		return err
	}
	defer conn.Close()
	deliveries, err := conn.Consume(cfg.AMQP)
	if err != nil {
		return err
	}
	checks["amqp"] = func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
	logger.Info("consuming order events",
		slog.String("queue", cfg.AMQP.Queue),
		slog.String("consumer_tag", cfg.AMQP.ConsumerTag),
	)

	registry := metrics.NewRegistry()
	ingest := messaging.NewIngestMetrics(registry).Instrument(messaging.HandlerFunc(history.Ingest))
	consumer := messaging.NewConsumer(ingest, conn.Publisher(cfg.AMQP.Queue), cfg.AMQPRetry, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(registry))
	mux.Handle("/", httpserver.HealthHandler(checks, 2*time.Second))
	server := httpserver.New(cfg.HTTP, mux, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(ctx, deliveries)
	})
	g.Go(func() error {
		return server.Run(ctx, cfg.ShutdownTimeout)
	})
	return g.Wait()
}
