package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsforge/remedy/internal/api"
	"github.com/opsforge/remedy/internal/catalog"
	"github.com/opsforge/remedy/internal/config"
	"github.com/opsforge/remedy/internal/diagnoser"
	"github.com/opsforge/remedy/internal/executor"
	"github.com/opsforge/remedy/internal/metrics"
	"github.com/opsforge/remedy/internal/models"
	"github.com/opsforge/remedy/internal/monitor"
	"github.com/opsforge/remedy/internal/notify"
	"github.com/opsforge/remedy/internal/orchestrator"
	"github.com/opsforge/remedy/internal/patterns"
	"github.com/opsforge/remedy/internal/storage"
	"github.com/opsforge/remedy/internal/strategy"
	"github.com/opsforge/remedy/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	// Local development keeps overrides in a .env file; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting remedy-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("backend", cfg.Storage.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	notifier, err := buildNotifier(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build notifier", slog.String("sink", cfg.Notify.Sink), slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := notify.NewDispatcher(notifier, logger, cfg.Notify.Timeout, metrics.ObserveNotificationFailure)

	rules, err := diagnoser.LoadRules(cfg.Diagnose.RulesPath)
	if err != nil {
		logger.Error("failed to load diagnosis rules", slog.String("path", cfg.Diagnose.RulesPath), slog.Any("error", err))
		os.Exit(1)
	}
	graph := diagnoser.NewDependencyGraph(pipelineComponents())
	diag := diagnoser.New(rules, graph, logger)

	learner := patterns.NewLearner(store, logger)
	gen := strategy.New(learner, strategy.NewStorePrereqChecker(store, logger), strategy.Defaults{
		Timeout:     cfg.Executor.DefaultTimeout,
		Retries:     2,
		BackoffBase: cfg.Executor.BackoffBase,
	}, logger)

	var breakerStore storage.Store
	if cfg.Breaker.Persist {
		breakerStore = store
	}
	breakers := executor.NewBreakerRegistry(executor.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}, breakerStore, logger)

	actions := executor.NewActions(store, notifier, breakers, storeRunner(store), cfg.Executor.ResolutionPoll, logger)
	exec := executor.New(actions, executor.NewStoreValidator(store), executor.Config{
		BackoffBase:       cfg.Executor.BackoffBase,
		ValidationTimeout: cfg.Executor.ValidationTimeout,
	}, logger)

	cat, err := catalog.New(catalog.Default()...)
	if err != nil {
		logger.Error("failed to build trigger catalog", slog.Any("error", err))
		os.Exit(1)
	}

	orch := orchestrator.New(cat, diag, gen, exec, learner, dispatcher, store, logger)

	handlers := api.NewHandlers(orch)
	server, err := api.NewServer(cfg.Server, handlers, logger)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	var runner *monitor.Runner
	if cfg.Monitor.Enabled {
		mon := monitor.New(cat, monitor.NewStoreSource(store, logger), orch, logger)
		runner = monitor.NewRunner(mon, cfg.Monitor.Interval, logger)
		if err := runner.Start(ctx); err != nil {
			logger.Error("failed to start monitor", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if runner != nil {
		runner.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Escalation sends may still be in flight.
	dispatcher.Wait()
	logger.Info("remedy-engine stopped")
}

func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:         cfg.Storage.Addr,
			Username:     cfg.Storage.Username,
			Password:     cfg.Storage.Password,
			DB:           cfg.Storage.DB,
			DialTimeout:  cfg.Storage.DialTimeout,
			ReadTimeout:  cfg.Storage.ReadTimeout,
			WriteTimeout: cfg.Storage.WriteTimeout,
		})
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return storage.NewBadgerStore(storage.BadgerConfig{
			Path:       cfg.Storage.Path,
			SyncWrites: cfg.Storage.SyncWrites,
			Logger:     logger,
		})
	}
}

func buildNotifier(cfg *config.Config, store storage.Store, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Notify.Sink {
	case "webhook":
		return notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout), nil
	case "redis":
		redisStore, ok := store.(*storage.RedisStore)
		if !ok {
			return nil, errors.New("redis notify sink requires the redis storage backend")
		}
		return notify.NewRedisNotifier(redisStore.Client()), nil
	default:
		return notify.LogNotifier{Logger: logger}, nil
	}
}

// storeRunner asks the surrounding pipeline to re-run a failed operation by
// writing a rerun request, then checks the health flag the pipeline publishes
// for that component. The engine runs beside the pipeline, not inside it, so
// the store is the only shared surface.
func storeRunner(store storage.Store) executor.OperationRunner {
	return executor.RunnerFunc(func(ctx context.Context, componentID, phase string) (models.ActionResult, error) {
		requestKey := "rerun:" + componentID + ":" + phase
		if err := store.Put(ctx, requestKey, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			return models.ActionResult{}, err
		}
		raw, err := store.Retrieve(ctx, "flag:healthy_"+componentID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.ActionResult{}, errors.New("component " + componentID + " has not reported healthy")
			}
			return models.ActionResult{}, err
		}
		if string(raw) != "true" && string(raw) != "1" {
			return models.ActionResult{}, errors.New("component " + componentID + " still unhealthy")
		}
		return models.ActionResult{Output: "rerun_confirmed", Details: map[string]string{"request": requestKey}}, nil
	})
}

// pipelineComponents is the static dependency graph of the surrounding
// pipeline the engine protects.
func pipelineComponents() []diagnoser.Component {
	return []diagnoser.Component{
		{ID: "planner", Kind: "agent", StateKeys: []string{"plan"}},
		{ID: "executor", Kind: "agent", DependsOn: []string{"planner"}, StateKeys: []string{"plan", "workspace"}},
		{ID: "validator", Kind: "agent", DependsOn: []string{"executor"}, StateKeys: []string{"workspace"}},
		{ID: "reporter", Kind: "agent", DependsOn: []string{"validator"}, StateKeys: []string{"report"}},
		{ID: "primary", Kind: "dependency"},
		{ID: "standby", Kind: "dependency"},
	}
}
