package report

import (
	"sort"
	"time"

	"tenant-usage-agent/internal/usage"
)

// Builder converts merged tenant usage into the public report model.
type Builder struct {
	rates *RateCard
}

// NewBuilder returns a configured Builder.
func NewBuilder(rates *RateCard) *Builder {
	return &Builder{rates: rates}
}

// Build assembles a report from one collection run.
func (b *Builder) Build(runID string, w usage.Window, sources []string, merged *usage.Usages, generatedAt time.Time) Report {
	tenants := merged.Tenants()
	out := Report{
		RunID:       runID,
		GeneratedAt: generatedAt.UTC(),
		Start:       w.Start,
		Stop:        w.Stop,
		Detailed:    w.Detailed,
		Sources:     append([]string(nil), sources...),
		Tenants:     make([]TenantReport, 0, len(tenants)),
		Totals: Totals{
			Tenants: len(tenants),
			Metrics: map[string]float64{},
		},
	}

	for _, tu := range tenants {
		tr := TenantReport{
			TenantID:      tu.TenantID,
			Metrics:       cloneMetrics(tu.Metrics),
			EstimatedCost: b.rates.Estimate(tu.Metrics),
		}
		if w.Detailed {
			tr.ResourceUsages = append([]usage.ResourceUsageInfo(nil), tu.ResourceUsages...)
		}
		for name, value := range tu.Metrics {
			out.Totals.Metrics[name] += value
		}
		out.Totals.Resources += len(tu.ResourceUsages)
		out.Totals.EstimatedCost += tr.EstimatedCost
		out.Tenants = append(out.Tenants, tr)
	}

	sort.Slice(out.Tenants, func(i, j int) bool {
		return out.Tenants[i].TenantID < out.Tenants[j].TenantID
	})
	return out
}

// MetricNames returns every metric name present in the report, sorted.
func (r Report) MetricNames() []string {
	names := make([]string, 0, len(r.Totals.Metrics))
	for name := range r.Totals.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tenant looks up one tenant's report.
func (r Report) Tenant(id string) (TenantReport, bool) {
	for _, t := range r.Tenants {
		if t.TenantID == id {
			return t, true
		}
	}
	return TenantReport{}, false
}

func cloneMetrics(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
