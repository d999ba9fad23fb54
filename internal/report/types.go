package report

import (
	"time"

	"tenant-usage-agent/internal/usage"
)

// TenantReport is the tenant-level payload served by the API.
type TenantReport struct {
	TenantID       string                    `json:"tenant_id"`
	Metrics        map[string]float64        `json:"metrics"`
	ResourceUsages []usage.ResourceUsageInfo `json:"resource_usages,omitempty"`
	EstimatedCost  float64                   `json:"estimated_cost"`
}

// Totals stores the sum of every metric across tenants.
type Totals struct {
	Tenants       int                `json:"tenants"`
	Resources     int                `json:"resources"`
	Metrics       map[string]float64 `json:"metrics"`
	EstimatedCost float64            `json:"estimated_cost"`
}

// Report is the unit exchanged between the collector and its consumers.
type Report struct {
	RunID       string         `json:"run_id"`
	GeneratedAt time.Time      `json:"generated_at"`
	Start       time.Time      `json:"start"`
	Stop        time.Time      `json:"stop"`
	Detailed    bool           `json:"detailed"`
	Sources     []string       `json:"sources"`
	Tenants     []TenantReport `json:"tenant_usages"`
	Totals      Totals         `json:"totals"`
}
