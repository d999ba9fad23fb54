package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenant-usage-agent/internal/api"
	"tenant-usage-agent/internal/backend"
	"tenant-usage-agent/internal/collector"
	"tenant-usage-agent/internal/config"
	"tenant-usage-agent/internal/exporter"
	"tenant-usage-agent/internal/logging"
	"tenant-usage-agent/internal/report"
	"tenant-usage-agent/internal/usage"
	"tenant-usage-agent/internal/version"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	agentVersion := version.Value()

	logger := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger.Info("starting tenant usage agent",
		slog.String("version", agentVersion),
		slog.String("backend", cfg.Backend),
		slog.Duration("refreshInterval", cfg.RefreshInterval()),
		slog.Duration("reportWindow", cfg.ReportWindow()),
	)

	fetchers, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backend", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sources := backend.Sources(cfg, fetchers)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	usageCollector := collector.NewUsageCollector(sources, logger, collector.NewMetrics(registry))
	builder := report.NewBuilder(report.NewRateCard(cfg.Rates))
	store := report.NewStore()

	go runReportLoop(ctx, usageCollector, builder, store, cfg, logger)

	apiHandler := api.NewHandler(usageCollector, builder, store, agentVersion, logger)
	server := exporter.NewServer(cfg.ListenAddr, exporter.NewRouter(registry, apiHandler), logger)

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// runReportLoop refreshes the trailing-window report until ctx is done.
func runReportLoop(ctx context.Context, c *collector.UsageCollector, builder *report.Builder, store *report.Store, cfg config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.RefreshInterval())
	defer ticker.Stop()

	for {
		if err := buildOnce(ctx, c, builder, store, cfg); err != nil {
			logger.Warn("report refresh failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildOnce(ctx context.Context, c *collector.UsageCollector, builder *report.Builder, store *report.Store, cfg config.Config) error {
	now := time.Now().UTC()
	w := usage.Window{
		Start:    now.Add(-cfg.ReportWindow()),
		Stop:     now,
		Detailed: cfg.Detailed,
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.RefreshInterval())
	defer cancel()

	res, err := c.Collect(runCtx, w, collector.Filter{})
	if err != nil {
		return err
	}
	store.Update(builder.Build(res.RunID, res.Window, res.Sources, res.Usages, time.Now()))
	return nil
}
