package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tenant-usage-agent/internal/usage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownSource is returned when a request names a source that is not configured.
	ErrUnknownSource = errors.New("unknown source")
	// ErrSourceDisabled is returned when a request names a source switched off in config.
	ErrSourceDisabled = errors.New("source disabled")
)

// Fetcher is the backend collaborator that lists raw resource records.
type Fetcher interface {
	Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error)

func (f FetcherFunc) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	return f(ctx, q)
}

// Source is one configured backend resource type.
type Source struct {
	Name    string
	Prefix  string
	Profile usage.Profile
	Fetcher Fetcher
	Enabled bool
}

// Filter narrows a collection run.
type Filter struct {
	TenantID string
	Metadata map[string]string
	// Sources restricts the run to the named sources. Empty means every
	// enabled source.
	Sources []string
}

// Request carries the raw, unvalidated values of a usage query.
type Request struct {
	Start    string
	End      string
	Detailed string
	Filter
}

// Result is the merged output of one run.
type Result struct {
	RunID   string
	Window  usage.Window
	Sources []string
	Usages  *usage.Usages
}

// UsageCollector fans out to every source, aggregates each one and merges
// the summaries into per-tenant usage.
type UsageCollector struct {
	sources []Source
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewUsageCollector returns a collector over sources in their configured order.
func NewUsageCollector(sources []Source, logger *slog.Logger, metrics *Metrics) *UsageCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageCollector{
		sources: append([]Source(nil), sources...),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock replaces the collector clock.
func (c *UsageCollector) WithClock(now func() time.Time) *UsageCollector {
	c.now = now
	return c
}

// Sources lists the configured sources.
func (c *UsageCollector) Sources() []Source {
	return append([]Source(nil), c.sources...)
}

// GetUsages validates the raw window and runs a collection.
func (c *UsageCollector) GetUsages(ctx context.Context, req Request) (*Result, error) {
	w, err := usage.ParseWindow(req.Start, req.End, req.Detailed, c.now())
	if err != nil {
		return nil, err
	}
	return c.Collect(ctx, w, req.Filter)
}

// Collect runs every selected source over w. A stop in the future is
// clamped to now for all sources alike. Any failure fails the whole run.
func (c *UsageCollector) Collect(ctx context.Context, w usage.Window, filter Filter) (*Result, error) {
	started := c.now()
	w, err := w.Clamp(started)
	if err != nil {
		return nil, err
	}

	sources, err := c.selected(filter.Sources)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := c.logger.With(slog.String("runId", runID))
	logger.Debug("collecting usage",
		slog.Time("start", w.Start),
		slog.Time("stop", w.Stop),
		slog.Bool("detailed", w.Detailed),
		slog.Int("sources", len(sources)),
	)

	query := usage.Query{
		TenantID: filter.TenantID,
		Metadata: filter.Metadata,
		Start:    w.Start,
		Stop:     w.Stop,
	}

	summaries := make([]*usage.SourceUsage, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			fetchStarted := time.Now()
			records, err := src.Fetcher.Fetch(gctx, query)
			c.metrics.observeFetch(src.Name, time.Since(fetchStarted), len(records), err)
			if err != nil {
				return &usage.SourceError{Source: src.Name, Err: err}
			}
			logger.Debug("fetched records", slog.String("source", src.Name), slog.Int("records", len(records)))

			summary, err := usage.NewAggregator(src.Profile).WithClock(c.now).Aggregate(records, w)
			if err != nil {
				return fmt.Errorf("aggregate %s: %w", src.Name, err)
			}
			summaries[i] = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.observeRun(time.Since(started), 0, err)
		logger.Error("usage collection failed", slog.String("error", err.Error()))
		return nil, err
	}

	merged := usage.NewUsages()
	names := make([]string, 0, len(sources))
	for i, src := range sources {
		if err := merged.Import(summaries[i], src.Prefix); err != nil {
			c.metrics.observeRun(time.Since(started), 0, err)
			logger.Error("usage merge failed", slog.String("source", src.Name), slog.String("error", err.Error()))
			return nil, fmt.Errorf("import %s: %w", src.Name, err)
		}
		names = append(names, src.Name)
	}

	c.metrics.observeRun(time.Since(started), merged.Len(), nil)
	logger.Info("usage collected",
		slog.Int("tenants", merged.Len()),
		slog.Any("sources", names),
		slog.Duration("took", time.Since(started)),
	)

	return &Result{
		RunID:   runID,
		Window:  w,
		Sources: names,
		Usages:  merged,
	}, nil
}

func (c *UsageCollector) selected(names []string) ([]Source, error) {
	if len(names) == 0 {
		out := make([]Source, 0, len(c.sources))
		for _, src := range c.sources {
			if src.Enabled {
				out = append(out, src)
			}
		}
		return out, nil
	}

	want := make(map[string]struct{}, len(names))
	for _, name := range names {
		src, found := c.source(name)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		if !src.Enabled {
			return nil, fmt.Errorf("%w: %s", ErrSourceDisabled, name)
		}
		want[name] = struct{}{}
	}

	// Keep configured order regardless of request order.
	out := make([]Source, 0, len(want))
	for _, src := range c.sources {
		if _, ok := want[src.Name]; ok {
			out = append(out, src)
		}
	}
	return out, nil
}

func (c *UsageCollector) source(name string) (Source, bool) {
	for _, src := range c.sources {
		if src.Name == name {
			return src, true
		}
	}
	return Source{}, false
}
