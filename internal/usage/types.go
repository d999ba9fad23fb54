package usage

import "time"

// ResourceRecord is the uniform view of one compute instance, volume or image
// handed over by a backend adapter. Timestamps are UTC.
type ResourceRecord struct {
	TenantID   string
	ID         string
	Name       string
	Status     string
	CreatedAt  time.Time
	DeletedAt  *time.Time
	Sizes      map[string]float64
	Attributes map[string]string
}

// Query is what a backend receives when asked for records.
type Query struct {
	TenantID string
	Metadata map[string]string
	Start    time.Time
	Stop     time.Time
}

// ActiveWithin reports whether the record overlaps [start, stop). Backends use
// it to drop records the window cannot see.
func (r ResourceRecord) ActiveWithin(start, stop time.Time) bool {
	if r.CreatedAt.IsZero() {
		return false
	}
	if r.DeletedAt != nil && !r.DeletedAt.After(start) {
		return false
	}
	return r.CreatedAt.Before(stop)
}

// ResourceUsageInfo is the per-resource detail line of a summary.
type ResourceUsageInfo struct {
	Kind          string             `json:"kind"`
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	TenantID      string             `json:"tenant_id"`
	Status        string             `json:"status,omitempty"`
	State         string             `json:"state"`
	Hours         float64            `json:"hours"`
	Sizes         map[string]float64 `json:"sizes,omitempty"`
	Attributes    map[string]string  `json:"attributes,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	EndedAt       *time.Time         `json:"ended_at"`
	UptimeSeconds int64              `json:"uptime"`
}

// Metric is one named value of a tenant summary.
type Metric struct {
	Name  string
	Value float64
}

func cloneSizes(src map[string]float64) map[string]float64 {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
