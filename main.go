package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	apporder "github.com/Zhima-Mochi/orderstream/internal/application/order"
	"github.com/Zhima-Mochi/orderstream/internal/application/projection"
	"github.com/Zhima-Mochi/orderstream/internal/application/replay"
	"github.com/Zhima-Mochi/orderstream/internal/config"
	"github.com/Zhima-Mochi/orderstream/internal/domain/event"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/eventbus"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/id"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/memory"
	obsprovider "github.com/Zhima-Mochi/orderstream/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/orderstream/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/orderstream/internal/observability"
	httppresentation "github.com/Zhima-Mochi/orderstream/internal/presentation/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	baseLogger := zaplogger.New(
		observability.F("service", cfg.ServiceName),
		observability.F("env", cfg.Env),
	)
	if flusher, ok := baseLogger.(interface{ Sync() error }); ok {
		defer func() { _ = flusher.Sync() }()
	}

	registry := prometrics.New(cfg.ServiceName, "")
	tel := obsprovider.New(
		oteltrace.New(cfg.ServiceName),
		baseLogger,
		metricCounters(registry),
		metricHistograms(registry),
	)
	log := tel.Logger().With(observability.F("component", "main"))

	var (
		store event.Store
		feed  event.Feed
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		store = redisstore.NewEventStore(client)
		feed = redisstore.NewFeed(client)
		log.Info("storage_backend", observability.F("backend", "redis"), observability.F("addr", cfg.RedisAddr))
	} else {
		store = memory.NewEventStore()
		feed = memory.NewFeed()
		log.Info("storage_backend", observability.F("backend", "memory"))
	}

	readModels := memory.NewReadModelRepository()

	bus := eventbus.New(feed, cfg.BusPollInterval, cfg.BusBatchSize, tel)

	projectionHandler := projection.NewHandler(readModels, readModels, tel)
	projectionHandler.Register(bus)

	commandService := apporder.NewCommandService(store, bus, id.NewUUIDGenerator(), tel)
	queryService := apporder.NewQueryService(readModels, readModels, tel)
	replayService := replay.NewService(store, projectionHandler, tel)

	bus.Start(context.Background())

	handler := httppresentation.NewHandler(commandService, queryService, replayService, tel)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", observability.F("error", err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		log.Info("http_server_stopped")
	}

	// Drain the bus after the server so in-flight commands still publish.
	bus.Stop(shutdownCtx)
}

func metricCounters(r prometrics.Registry) map[observability.MetricKey]observability.Counter {
	return map[observability.MetricKey]observability.Counter{
		observability.MUsecaseRequests: r.Counter(
			string(observability.MUsecaseRequests),
			"Total number of use case invocations.",
			"use_case", "outcome",
		),
		observability.MHTTPRequests: r.Counter(
			string(observability.MHTTPRequests),
			"Total number of HTTP requests.",
			"method", "route", "status",
		),
		observability.MBusDispatches: r.Counter(
			string(observability.MBusDispatches),
			"Total number of event bus dispatches.",
			"event", "outcome",
		),
		observability.MBusPublishFailures: r.Counter(
			string(observability.MBusPublishFailures),
			"Count of event publish failures.",
			"event",
		),
		observability.MReplayEvents: r.Counter(
			string(observability.MReplayEvents),
			"Count of events processed during replay.",
			"outcome",
		),
	}
}

func metricHistograms(r prometrics.Registry) map[observability.MetricKey]observability.Histogram {
	return map[observability.MetricKey]observability.Histogram{
		observability.MUsecaseDuration: r.Histogram(
			string(observability.MUsecaseDuration),
			"Duration of use case execution in seconds.",
			prometheus.DefBuckets,
			"use_case",
		),
		observability.MHTTPRequestDuration: r.Histogram(
			string(observability.MHTTPRequestDuration),
			"Duration of HTTP request handling in seconds.",
			prometheus.DefBuckets,
			"method", "route", "status",
		),
		observability.MBusPollDuration: r.Histogram(
			string(observability.MBusPollDuration),
			"Duration of one event bus poll cycle in seconds.",
			prometheus.DefBuckets,
		),
	}
}
