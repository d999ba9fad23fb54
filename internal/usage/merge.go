package usage

import (
	"fmt"
	"sort"
)

// TenantUsage is one tenant's usage across every imported source.
type TenantUsage struct {
	TenantID       string              `json:"tenant_id"`
	Metrics        map[string]float64  `json:"metrics"`
	ResourceUsages []ResourceUsageInfo `json:"resource_usages"`
}

// NewTenantUsage returns an empty TenantUsage.
func NewTenantUsage(tenantID string) *TenantUsage {
	return &TenantUsage{
		TenantID:       tenantID,
		Metrics:        map[string]float64{},
		ResourceUsages: []ResourceUsageInfo{},
	}
}

// AddMetric stores a uniquely named metric.
func (t *TenantUsage) AddMetric(name string, value float64) error {
	if _, ok := t.Metrics[name]; ok {
		return &DuplicateMetricError{TenantID: t.TenantID, Metric: name}
	}
	t.Metrics[name] = value
	return nil
}

// AddResourceUsages appends detail records without any collision check.
func (t *TenantUsage) AddResourceUsages(usages ...ResourceUsageInfo) {
	t.ResourceUsages = append(t.ResourceUsages, usages...)
}

// MetricNames returns the metric names sorted.
func (t *TenantUsage) MetricNames() []string {
	names := make([]string, 0, len(t.Metrics))
	for name := range t.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Usages accumulates tenant usage over one collection run. It is not safe
// for concurrent use; imports happen one source at a time.
type Usages struct {
	tenants map[string]*TenantUsage
}

// NewUsages returns an empty accumulator.
func NewUsages() *Usages {
	return &Usages{tenants: map[string]*TenantUsage{}}
}

// Tenant fetches the tenant's usage, creating it on first access.
func (u *Usages) Tenant(tenantID string) *TenantUsage {
	if t, ok := u.tenants[tenantID]; ok {
		return t
	}
	t := NewTenantUsage(tenantID)
	u.tenants[tenantID] = t
	return t
}

// Lookup returns the tenant's usage without creating it.
func (u *Usages) Lookup(tenantID string) (*TenantUsage, bool) {
	t, ok := u.tenants[tenantID]
	return t, ok
}

// Import adds every tenant metric of src as "{prefix}-{metric}" and appends
// its detail records. An empty prefix keeps the metric names unchanged.
func (u *Usages) Import(src *SourceUsage, prefix string) error {
	for _, summary := range src.Tenants() {
		tenant := u.Tenant(summary.TenantID)
		for _, m := range summary.Metrics() {
			name := m.Name
			if prefix != "" {
				name = fmt.Sprintf("%s-%s", prefix, m.Name)
			}
			if err := tenant.AddMetric(name, m.Value); err != nil {
				return err
			}
		}
		tenant.AddResourceUsages(summary.Details...)
	}
	return nil
}

// Tenants returns every tenant sorted by id.
func (u *Usages) Tenants() []*TenantUsage {
	out := make([]*TenantUsage, 0, len(u.tenants))
	for _, t := range u.tenants {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TenantID < out[j].TenantID
	})
	return out
}

func (u *Usages) Len() int { return len(u.tenants) }
