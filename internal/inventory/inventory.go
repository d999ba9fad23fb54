package inventory

import (
	"context"
	"fmt"
	"os"

	"tenant-usage-agent/internal/usage"

	"gopkg.in/yaml.v3"
)

// Entry is one resource as written in the inventory file. Timestamps use any
// layout usage.ParseTimestamp accepts and are read as UTC when unzoned.
type Entry struct {
	Tenant     string             `yaml:"tenant"`
	ID         string             `yaml:"id"`
	Name       string             `yaml:"name"`
	Status     string             `yaml:"status"`
	CreatedAt  string             `yaml:"createdAt"`
	DeletedAt  string             `yaml:"deletedAt"`
	Sizes      map[string]float64 `yaml:"sizes"`
	Metadata   map[string]string  `yaml:"metadata"`
	Attributes map[string]string  `yaml:"attributes"`
}

// File is the inventory document, one list per resource kind.
type File struct {
	Compute []Entry `yaml:"compute"`
	Image   []Entry `yaml:"image"`
	Volume  []Entry `yaml:"volume"`
}

// Entries returns the list for kind.
func (f *File) Entries(kind string) ([]Entry, error) {
	switch kind {
	case "compute":
		return f.Compute, nil
	case "image":
		return f.Image, nil
	case "volume":
		return f.Volume, nil
	default:
		return nil, fmt.Errorf("inventory has no %q section", kind)
	}
}

// Load reads and decodes the inventory at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path provided by the operator
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return &f, nil
}

// Fetcher serves one section of an inventory file. The file is re-read on
// every fetch so edits apply to the next run.
type Fetcher struct {
	path string
	kind string
}

// NewFetcher returns a fetcher for the kind section of the file at path.
func NewFetcher(path, kind string) *Fetcher {
	return &Fetcher{path: path, kind: kind}
}

// Fetch returns the entries of the section that match the query.
func (f *Fetcher) Fetch(ctx context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	entries, err := file.Entries(f.kind)
	if err != nil {
		return nil, err
	}

	out := make([]usage.ResourceRecord, 0, len(entries))
	for _, e := range entries {
		if q.TenantID != "" && e.Tenant != q.TenantID {
			continue
		}
		if !matches(e.Metadata, q.Metadata) {
			continue
		}
		rec, err := e.record()
		if err != nil {
			return nil, err
		}
		if rec.ActiveWithin(q.Start, q.Stop) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (e Entry) record() (usage.ResourceRecord, error) {
	created, err := usage.ParseRecordTime(e.ID, "createdAt", e.CreatedAt)
	if err != nil {
		return usage.ResourceRecord{}, err
	}
	deleted, err := usage.ParseOptionalRecordTime(e.ID, "deletedAt", e.DeletedAt)
	if err != nil {
		return usage.ResourceRecord{}, err
	}
	return usage.ResourceRecord{
		TenantID:   e.Tenant,
		ID:         e.ID,
		Name:       e.Name,
		Status:     e.Status,
		CreatedAt:  created,
		DeletedAt:  deleted,
		Sizes:      e.Sizes,
		Attributes: e.Attributes,
	}, nil
}

func matches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
