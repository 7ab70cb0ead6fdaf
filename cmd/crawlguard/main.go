// Package main wires together the crawlguard supervisor and worker binaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlguard/internal/api"
	"github.com/JakeFAU/crawlguard/internal/backlog"
	"github.com/JakeFAU/crawlguard/internal/clock/system"
	"github.com/JakeFAU/crawlguard/internal/config"
	"github.com/JakeFAU/crawlguard/internal/events"
	"github.com/JakeFAU/crawlguard/internal/events/sinks"
	"github.com/JakeFAU/crawlguard/internal/health"
	"github.com/JakeFAU/crawlguard/internal/kv"
	"github.com/JakeFAU/crawlguard/internal/logging"
	"github.com/JakeFAU/crawlguard/internal/metrics"
	"github.com/JakeFAU/crawlguard/internal/notify"
	"github.com/JakeFAU/crawlguard/internal/queue"
	"github.com/JakeFAU/crawlguard/internal/store/postgres"
	"github.com/JakeFAU/crawlguard/internal/supervisor"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	// The supervisor re-executes this binary with the worker-id marker set;
	// its presence selects the worker role.
	if idStr, ok := os.LookupEnv(supervisor.WorkerIDEnv); ok {
		workerID, err := strconv.Atoi(idStr)
		if err != nil {
			logger.Fatal("invalid worker id", zap.String("value", idStr), zap.Error(err))
		}
		runWorker(ctx, cfg, logging.WithWorker(logger, workerID))
		return
	}
	runSupervisor(ctx, cfg, logger)
}

func runSupervisor(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	workers := cfg.Supervisor.Workers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	sup := supervisor.New(&supervisor.ExecSpawner{Args: os.Args[1:]}, system.New(), supervisor.Config{
		Workers:         workers,
		SpawnRetryDelay: cfg.SpawnRetryDelay(),
	}, logger.Named("supervisor"))
	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func runWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) {
	// A worker that panics must die visibly so the supervisor respawns it.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("worker panic", zap.Any("error", rec))
			if syncErr := logger.Sync(); syncErr != nil {
				fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
			}
			os.Exit(1)
		}
	}()

	clk := system.New()

	primary := kv.NewRedisStore(cfg.Redis.Primary.Addr, cfg.Redis.Primary.Password, cfg.Redis.Primary.DB)
	rateEP := cfg.RateLimitEndpoint()
	rateLimit := kv.NewRedisStore(rateEP.Addr, rateEP.Password, rateEP.DB)
	defer closeStore(primary, "primary", logger)
	defer closeStore(rateLimit, "ratelimit", logger)

	prober := health.NewProber(map[health.Target]kv.Store{
		health.TargetPrimaryStore:   primary,
		health.TargetRateLimitStore: rateLimit,
	}, health.Config{
		Attempts: cfg.Probe.Attempts,
		Delay:    cfg.ProbeDelay(),
		Key:      cfg.Probe.Key,
		Value:    cfg.Probe.Value,
	}, clk, logger.Named("health"))

	q := queue.NewRedisQueue(primary.Client(), cfg.Queue.Prefix, cfg.Queue.Name, clk, logger.Named("queue"))

	hub := events.NewHub(events.Config{
		BufferSize:     cfg.Events.BufferSize,
		MaxBatchEvents: cfg.Events.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		BaseContext:    context.Background(),
		Logger:         logger.Named("events"),
	}, buildSinks(ctx, cfg, logger)...)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("event hub close failed", zap.Error(err))
		}
	}()

	go func() {
		if err := q.StreamEvents(ctx, hub); err != nil && ctx.Err() == nil {
			logger.Error("event stream terminated", zap.Error(err))
		}
	}()

	monitor := backlog.NewMonitor(q, buildNotifier(ctx, cfg, logger), clk, backlog.Config{
		QueueName:      cfg.Queue.Name,
		Threshold:      cfg.Backlog.Threshold,
		ConfirmDelay:   cfg.ConfirmDelay(),
		DebounceWindow: cfg.DebounceWindow(),
		BaseContext:    ctx,
	}, logger.Named("backlog"))

	apiServer := api.NewServer(api.ServerConfig{
		Watcher:     monitor,
		Prober:      prober,
		Logger:      logger.Named("api"),
		BaseContext: ctx,
	})

	ln, err := api.Listen(ctx, fmt.Sprintf(":%d", cfg.Server.Port), cfg.ListenRetryDelay(), clk, logger)
	if err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}

	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildSinks assembles the event fan-out: structured log and Prometheus sinks
// always, the Postgres sink only when a DSN is configured.
func buildSinks(ctx context.Context, cfg config.Config, logger *zap.Logger) []events.Sink {
	out := []events.Sink{sinks.NewLogSink(logger.Named("lifecycle"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Warn("prometheus sink init failed", zap.Error(err))
	} else {
		out = append(out, promSink)
	}
	if cfg.DB.DSN == "" {
		logger.Info("db.dsn not set, event persistence disabled")
		return out
	}
	eventStore, err := postgres.NewEventStore(ctx, postgres.EventStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		logger.Error("event store init failed, persistence disabled", zap.Error(err))
		return out
	}
	return append(out, sinks.NewStoreSink(eventStore, logger.Named("store")))
}

// buildNotifier assembles the alert transports; with none configured the
// monitor logs confirmed breaches but sends nothing.
func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) notify.Notifier {
	var targets notify.Multi
	if cfg.Alert.WebhookURL != "" {
		targets = append(targets, notify.NewWebhookNotifier(cfg.Alert.WebhookURL, cfg.AlertTimeout()))
	}
	if cfg.Alert.PubSub.ProjectID != "" && cfg.Alert.PubSub.TopicID != "" {
		ps, err := notify.NewPubSubNotifier(ctx, cfg.Alert.PubSub.ProjectID, cfg.Alert.PubSub.TopicID)
		if err != nil {
			logger.Error("pubsub notifier init failed", zap.Error(err))
		} else {
			targets = append(targets, ps)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	return targets
}

func closeStore(s kv.Store, name string, logger *zap.Logger) {
	if err := s.Close(); err != nil {
		logger.Warn("store close failed", zap.String("store", name), zap.Error(err))
	}
}
