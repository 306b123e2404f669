package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/internal/mcp"
	"github.com/Aman-CERP/amanrecall/pkg/recall"
)

func newServeCmd() *cobra.Command {
	var (
		transport   string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server exposing recall_search, recall_trigger and
recall_stats as tools.

stdout carries the MCP protocol, so all logging goes to the log file.
With --metrics-addr, Prometheus metrics are served at /metrics.`,
		Example: `  amanrecall serve
  amanrecall serve --metrics-addr 127.0.0.1:9464`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, transport, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport: stdio (default from config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, transport, metricsAddr string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport == "" {
		transport = cfg.Server.Transport
	}
	if metricsAddr == "" {
		metricsAddr = cfg.Server.MetricsAddr
	}

	// Reopen the log file at the configured server level.
	_ = stopLogging(cmd, nil)
	logCfg := logging.ServeConfig(cfg.Server.LogLevel)
	logCfg.FilePath = logFile
	if debugMode {
		logCfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := recall.New(ctx, cfg, recall.WithLogger(logger), recall.WithRegisterer(reg))
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	if metricsAddr != "" {
		stop := startMetricsServer(ctx, metricsAddr, reg, logger)
		defer stop()
	}

	srv, err := mcp.NewServer(eng, logger)
	if err != nil {
		return err
	}
	return srv.Serve(ctx, transport)
}

// startMetricsServer serves reg at /metrics until the returned func is
// called.
func startMetricsServer(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics_server_starting", slog.String("addr", addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", slog.String("error", err.Error()))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}
}
