package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/api"
	"kpiwatch-backend/internal/bus"
	"kpiwatch-backend/internal/config"
	"kpiwatch-backend/internal/evaluator"
	"kpiwatch-backend/internal/kpi"
	"kpiwatch-backend/internal/ledger"
	"kpiwatch-backend/internal/mcp"
	"kpiwatch-backend/internal/metrics"
	"kpiwatch-backend/internal/scheduler"
	"kpiwatch-backend/internal/stats"
	"kpiwatch-backend/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	ctx := context.Background()
	store, err := storage.NewStore(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)

	backend, closeBackend, err := openBackend(cfg.DataSource)
	if err != nil {
		logger.Error("failed to open kpi data source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer closeBackend()

	m := metrics.New()
	catalog := kpi.NewCatalog(backend, kpi.Options{
		Allowlist:       cfg.DataSource.Allowlist(),
		Limits:          cfg.DataSource.Limits(),
		TimestampColumn: cfg.DataSource.TimestampColumn,
		SchemaTTL:       cfg.DataSource.SchemaTTL,
	})
	eval := evaluator.New(catalog)
	engine := stats.NewEngine(catalog, repo, stats.EngineConfig{
		MaxAge:  cfg.Statistics.MaxAge,
		Metrics: m,
		Logger:  logger,
	})

	var publisher ledger.Publisher
	var natsClient *bus.Client
	if cfg.NATS.URL != "" {
		natsClient, err = bus.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			logger.Error("failed to connect to nats", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = natsClient
	}
	triggers := ledger.New(repo, ledger.Config{
		Publisher: publisher,
		Metrics:   m,
		Limits:    cfg.DataSource.Limits(),
		Logger:    logger,
	})

	sched := scheduler.New(repo, eval, triggers, scheduler.Config{
		StartupDelay:      cfg.Scheduler.StartupDelay,
		EvaluationTimeout: cfg.Scheduler.EvaluationTimeout,
		TriggerCooldown:   cfg.Scheduler.TriggerCooldown,
		Logger:            logger,
		Metrics:           m,
	})
	if cfg.Scheduler.Enabled {
		if err := sched.Start(cfg.Scheduler.Cron); err != nil {
			logger.Error("failed to start scheduler", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("scheduler disabled")
	}

	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()
	if natsClient != nil {
		sub, err := natsClient.SubscribeRuns(func(req bus.RunRequest) {
			logger.Info("cycle requested over bus", slog.String("requested_by", req.RequestedBy))
			go func() {
				_, ran, err := sched.TryRunCycle(runCtx, "bus")
				if err != nil {
					logger.Error("requested cycle failed", slog.String("error", err.Error()))
				} else if !ran {
					logger.Info("cycle already running, request dropped", slog.String("requested_by", req.RequestedBy))
				}
			}()
		})
		if err != nil {
			logger.Error("failed to subscribe", slog.String("subject", bus.SubjectSchedulerRun), slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	handler := &api.Handler{
		Alerts:    repo,
		Evaluator: eval,
		Stats:     engine,
		Source:    catalog,
		Datasets:  catalog,
		Ledger:    triggers,
		Scheduler: sched,
		DB:        store,
		Metrics:   m.Handler(),
		Timeout:   cfg.DataSource.Limits().MaxQueryDuration,
		Logger:    logger,
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           api.NewRouter(handler, cfg.HTTP.BasePath, cfg.HTTP.RequestTimeout),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logger.Info("shutting down")
		sched.Stop()
		cancelRuns()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("alertd listening",
		slog.String("port", cfg.HTTP.Port),
		slog.String("data_source", cfg.DataSource.Mode),
		slog.Bool("scheduler", cfg.Scheduler.Enabled))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
	}
}

// openBackend returns the KPI backend selected by the data source mode and its close func.
func openBackend(cfg config.DataSourceConfig) (kpi.Backend, func(), error) {
	switch strings.ToLower(cfg.Mode) {
	case "rpc":
		transport, err := mcp.NewTransport(cfg.RPC.Transport, cfg.RPC.Endpoint, cfg.RPC.Command, cfg.RPC.Args, cfg.RPC.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return mcp.NewClient(transport), func() {}, nil
	case "sql":
		connector, err := dbconnector.NewConnector(cfg.SQL.Connection())
		if err != nil {
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := connector.TestConnection(ctx); err != nil {
			_ = connector.Close()
			return nil, nil, err
		}
		return connector, func() { _ = connector.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported data source mode %q", cfg.Mode)
	}
}
