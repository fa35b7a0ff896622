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

	dbconnector "kpiwatch-backend"
	"kpiwatch-backend/internal/config"
	"kpiwatch-backend/internal/mcp"
)

func main() {
	stdio := flag.Bool("stdio", false, "answer requests on stdin/stdout instead of HTTP")
	flag.Parse()

	cfg, err := config.LoadDataSource(os.Getenv("CONFIG_PATH"))
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	// stdout carries responses in stdio mode.
	logger := config.NewLogger(cfg.Logging, os.Stderr)

	connector, err := dbconnector.NewConnector(cfg.DataSource.SQL.Connection())
	if err != nil {
		logger.Error("failed to open connector", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer connector.Close()

	server := &mcp.Server{
		Backend:   connector,
		Allowlist: cfg.DataSource.Allowlist(),
		Limits:    cfg.DataSource.Limits(),
		Logger:    logger,
	}

	if *stdio {
		if err := server.ServeStdio(context.Background(), os.Stdin, os.Stdout); err != nil {
			logger.Error("stdio server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	port := os.Getenv("KPI_RPC_PORT")
	if port == "" {
		port = "9000"
	}
	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := connector.TestConnection(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("kpi-rpc listening", slog.String("port", port), slog.String("db_type", cfg.DataSource.SQL.Type))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
