package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tenant-usage-agent/internal/backend"
	"tenant-usage-agent/internal/collector"
	"tenant-usage-agent/internal/config"
	"tenant-usage-agent/internal/logging"
	"tenant-usage-agent/internal/report"
)

type options struct {
	start    string
	end      string
	detailed bool
	metadata string
	tenant   string
	sources  string
	output   string
	timeout  time.Duration
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options
	cfg, err := config.LoadArgs("usage-report", args, func(fs *flag.FlagSet) {
		fs.StringVar(&opts.start, "start", "", "Window start, e.g. 2024-01-01T00:00:00 (default now)")
		fs.StringVar(&opts.end, "end", "", "Window end (default now)")
		fs.BoolVar(&opts.detailed, "detailed", false, "Include per-resource usage")
		fs.StringVar(&opts.metadata, "metadata", "", `Metadata filter as JSON, e.g. {"team":"core"}`)
		fs.StringVar(&opts.tenant, "tenant", "", "Restrict to one tenant")
		fs.StringVar(&opts.sources, "sources", "", "Comma separated sources (compute,image,volume)")
		fs.StringVar(&opts.output, "o", "table", "Output format (table, json)")
		fs.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Overall timeout")
	})
	if err != nil {
		return err
	}
	if opts.output != "table" && opts.output != "json" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.timeout)
	defer cancelTimeout()

	req := collector.Request{
		Start: opts.start,
		End:   opts.end,
		Filter: collector.Filter{
			TenantID: opts.tenant,
		},
	}
	if opts.detailed {
		req.Detailed = "1"
	}
	if opts.metadata != "" {
		if err := json.Unmarshal([]byte(opts.metadata), &req.Metadata); err != nil {
			return fmt.Errorf("parse -metadata: %w", err)
		}
	}
	for _, name := range strings.Split(opts.sources, ",") {
		if name = strings.TrimSpace(name); name != "" {
			req.Sources = append(req.Sources, name)
		}
	}

	fetchers, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c := collector.NewUsageCollector(backend.Sources(cfg, fetchers), logger, nil)

	res, err := c.GetUsages(ctx, req)
	if err != nil {
		return err
	}
	rep := report.NewBuilder(report.NewRateCard(cfg.Rates)).Build(res.RunID, res.Window, res.Sources, res.Usages, time.Now())

	if opts.output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	report.RenderTable(os.Stdout, rep)
	if rep.Detailed {
		report.RenderResources(os.Stdout, rep)
	}
	return nil
}
