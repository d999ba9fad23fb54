package usage

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Size keys understood by the built-in profiles.
const (
	SizeLocalGB  = "local_gb"
	SizeMemoryMB = "memory_mb"
	SizeVCPUs    = "vcpus"
	SizeGB       = "gb"
	SizeBytes    = "bytes"
)

// MetricTotalHours is carried by every summary.
const MetricTotalHours = "total_hours"

const bytesPerGB = 1024 * 1024 * 1024

// Weight accumulates Sizes[Size] * Scale * hours into Metric.
type Weight struct {
	Metric string
	Size   string
	// Scale converts the size unit; zero means 1.
	Scale float64
}

// Profile describes how one resource type is summarised.
type Profile struct {
	Kind       string
	EndedState string
	Weights    []Weight
}

var (
	ComputeProfile = Profile{
		Kind:       "compute",
		EndedState: "terminated",
		Weights: []Weight{
			{Metric: "total_local_gb_usage", Size: SizeLocalGB},
			{Metric: "total_memory_mb_usage", Size: SizeMemoryMB},
			{Metric: "total_vcpus_usage", Size: SizeVCPUs},
		},
	}
	VolumeProfile = Profile{
		Kind:       "volume",
		EndedState: "deleted",
		Weights: []Weight{
			{Metric: "total_gb_usage", Size: SizeGB},
		},
	}
	ImageProfile = Profile{
		Kind:       "image",
		EndedState: "deleted",
		Weights: []Weight{
			{Metric: "total_gb_hours", Size: SizeBytes, Scale: 1.0 / bytesPerGB},
		},
	}
)

// ProfileFor returns the built-in profile for a resource kind.
func ProfileFor(kind string) (Profile, bool) {
	for _, p := range []Profile{ComputeProfile, VolumeProfile, ImageProfile} {
		if p.Kind == kind {
			return p, true
		}
	}
	return Profile{}, false
}

// TenantSummary holds one tenant's totals for one source.
type TenantSummary struct {
	TenantID   string              `json:"tenant_id"`
	Start      time.Time           `json:"start"`
	Stop       time.Time           `json:"stop"`
	TotalHours float64             `json:"total_hours"`
	Totals     map[string]float64  `json:"totals"`
	Details    []ResourceUsageInfo `json:"details,omitempty"`

	metricOrder []string
}

// Metrics lists total_hours followed by the weighted totals in profile order.
func (s *TenantSummary) Metrics() []Metric {
	out := make([]Metric, 0, len(s.Totals)+1)
	out = append(out, Metric{Name: MetricTotalHours, Value: s.TotalHours})
	seen := make(map[string]struct{}, len(s.metricOrder))
	for _, name := range s.metricOrder {
		seen[name] = struct{}{}
		out = append(out, Metric{Name: name, Value: s.Totals[name]})
	}
	var rest []string
	for name := range s.Totals {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		out = append(out, Metric{Name: name, Value: s.Totals[name]})
	}
	return out
}

// SourceUsage is the per-tenant output of one aggregation run.
type SourceUsage struct {
	Kind    string
	tenants map[string]*TenantSummary
	order   []string
}

// NewSourceUsage wraps already computed summaries, keeping their order.
func NewSourceUsage(kind string, summaries ...*TenantSummary) *SourceUsage {
	u := &SourceUsage{Kind: kind, tenants: make(map[string]*TenantSummary, len(summaries))}
	for _, s := range summaries {
		if _, ok := u.tenants[s.TenantID]; !ok {
			u.order = append(u.order, s.TenantID)
		}
		u.tenants[s.TenantID] = s
	}
	return u
}

// Tenants returns summaries in first-seen order.
func (u *SourceUsage) Tenants() []*TenantSummary {
	out := make([]*TenantSummary, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, u.tenants[id])
	}
	return out
}

// Tenant looks up one tenant's summary.
func (u *SourceUsage) Tenant(id string) (*TenantSummary, bool) {
	s, ok := u.tenants[id]
	return s, ok
}

func (u *SourceUsage) Len() int { return len(u.order) }

// Aggregator sums resource records into per-tenant summaries.
type Aggregator struct {
	profile Profile
	now     func() time.Time
}

// NewAggregator returns an Aggregator for the profile.
func NewAggregator(profile Profile) *Aggregator {
	return &Aggregator{profile: profile, now: time.Now}
}

// WithClock replaces the clock used for uptime.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Aggregate consumes every record before returning. The first malformed
// record aborts the run.
func (a *Aggregator) Aggregate(records []ResourceRecord, w Window) (*SourceUsage, error) {
	out := &SourceUsage{Kind: a.profile.Kind, tenants: map[string]*TenantSummary{}}
	now := a.now().UTC()

	for i := range records {
		rec := &records[i]
		if err := a.check(rec); err != nil {
			return nil, err
		}

		info := a.usageInfo(rec, w, now)

		summary, ok := out.tenants[rec.TenantID]
		if !ok {
			summary = a.newSummary(rec.TenantID, w)
			out.tenants[rec.TenantID] = summary
			out.order = append(out.order, rec.TenantID)
		}

		summary.TotalHours += info.Hours
		for _, wt := range a.profile.Weights {
			scale := wt.Scale
			if scale == 0 {
				scale = 1
			}
			summary.Totals[wt.Metric] += rec.Sizes[wt.Size] * scale * info.Hours
		}
		if w.Detailed {
			summary.Details = append(summary.Details, info)
		}
	}
	return out, nil
}

func (a *Aggregator) newSummary(tenantID string, w Window) *TenantSummary {
	s := &TenantSummary{
		TenantID: tenantID,
		Start:    w.Start.UTC(),
		Stop:     w.Stop.UTC(),
		Totals:   make(map[string]float64, len(a.profile.Weights)),
	}
	for _, wt := range a.profile.Weights {
		s.Totals[wt.Metric] = 0
		s.metricOrder = append(s.metricOrder, wt.Metric)
	}
	if w.Detailed {
		s.Details = []ResourceUsageInfo{}
	}
	return s
}

func (a *Aggregator) check(rec *ResourceRecord) error {
	if rec.TenantID == "" {
		return &DataFormatError{ResourceID: rec.ID, Field: "tenant_id"}
	}
	for key, v := range rec.Sizes {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return &DataFormatError{ResourceID: rec.ID, Field: key, Value: strconv.FormatFloat(v, 'g', -1, 64)}
		}
	}
	if rec.DeletedAt != nil && !rec.CreatedAt.IsZero() && rec.DeletedAt.Before(rec.CreatedAt) {
		return &DataFormatError{
			ResourceID: rec.ID,
			Field:      "deleted_at",
			Value:      rec.DeletedAt.UTC().Format(time.RFC3339Nano),
			Err:        fmt.Errorf("before created_at %s", rec.CreatedAt.UTC().Format(time.RFC3339Nano)),
		}
	}
	return nil
}

func (a *Aggregator) usageInfo(rec *ResourceRecord, w Window, now time.Time) ResourceUsageInfo {
	info := ResourceUsageInfo{
		Kind:       a.profile.Kind,
		ID:         rec.ID,
		Name:       rec.Name,
		TenantID:   rec.TenantID,
		Status:     rec.Status,
		State:      rec.Status,
		Hours:      HoursActive(rec.CreatedAt, rec.DeletedAt, w.Start, w.Stop),
		Sizes:      cloneSizes(rec.Sizes),
		Attributes: cloneStringMap(rec.Attributes),
		StartedAt:  rec.CreatedAt.UTC(),
	}
	if rec.DeletedAt != nil {
		ended := rec.DeletedAt.UTC()
		info.EndedAt = &ended
		if a.profile.EndedState != "" {
			info.State = a.profile.EndedState
		}
	}
	if !rec.CreatedAt.IsZero() {
		end := now
		if info.EndedAt != nil {
			end = *info.EndedAt
		}
		if up := end.Sub(info.StartedAt); up > 0 {
			info.UptimeSeconds = int64(up / time.Second)
		}
	}
	return info
}
