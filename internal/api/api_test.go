package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"tenant-usage-agent/internal/collector"
	"tenant-usage-agent/internal/report"
	"tenant-usage-agent/internal/usage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

type queryLog struct {
	mu      sync.Mutex
	queries []usage.Query
}

func (l *queryLog) add(q usage.Query) {
	l.mu.Lock()
	l.queries = append(l.queries, q)
	l.mu.Unlock()
}

func (l *queryLog) all() []usage.Query {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]usage.Query(nil), l.queries...)
}

func newTestServer(t *testing.T, fetchErr error) (*httptest.Server, *report.Store, *queryLog) {
	t.Helper()
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seen := &queryLog{}

	compute := collector.FetcherFunc(func(_ context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
		seen.add(q)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return []usage.ResourceRecord{{
			TenantID:  "alpha",
			ID:        "i-1",
			Name:      "web",
			CreatedAt: created,
			Sizes:     map[string]float64{usage.SizeVCPUs: 2, usage.SizeMemoryMB: 512, usage.SizeLocalGB: 10},
		}}, nil
	})
	volume := collector.FetcherFunc(func(_ context.Context, _ usage.Query) ([]usage.ResourceRecord, error) {
		return []usage.ResourceRecord{{
			TenantID:  "alpha",
			ID:        "vol-1",
			CreatedAt: created,
			Sizes:     map[string]float64{usage.SizeGB: 10},
		}}, nil
	})

	image := collector.FetcherFunc(func(_ context.Context, q usage.Query) ([]usage.ResourceRecord, error) {
		seen.add(q)
		return []usage.ResourceRecord{{
			TenantID:  "gamma",
			ID:        "ami-1",
			CreatedAt: created,
			Sizes:     map[string]float64{usage.SizeBytes: 1 << 30},
		}}, nil
	})

	c := collector.NewUsageCollector([]collector.Source{
		{Name: "compute", Prefix: "nova", Profile: usage.ComputeProfile, Fetcher: compute, Enabled: true},
		{Name: "image", Prefix: "glance", Profile: usage.ImageProfile, Fetcher: image, Enabled: false},
		{Name: "volume", Prefix: "cinder", Profile: usage.VolumeProfile, Fetcher: volume, Enabled: true},
	}, nil, nil).WithClock(func() time.Time { return testNow })

	store := report.NewStore()
	h := NewHandler(c, report.NewBuilder(report.NewRateCard(map[string]float64{"nova-total_vcpus_usage": 0.5})), store, "test", nil)
	h.now = func() time.Time { return testNow }

	r := chi.NewRouter()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, seen
}

func getJSON(t *testing.T, rawURL string, out any) int {
	t.Helper()
	resp, err := http.Get(rawURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestUsagesEndpoint(t *testing.T) {
	srv, _, seen := newTestServer(t, nil)

	params := url.Values{}
	params.Set("start", "2024-01-01T00:00:00")
	params.Set("end", "2024-01-01T02:00:00")
	params.Set("detailed", "1")
	params.Set("tenant_id", "alpha")
	params.Set("metadata", `{"team":"core"}`)

	var rep report.Report
	status := getJSON(t, srv.URL+"/v1/usages?"+params.Encode(), &rep)
	require.Equal(t, http.StatusOK, status)

	require.Len(t, rep.Tenants, 1)
	alpha := rep.Tenants[0]
	assert.Equal(t, "alpha", alpha.TenantID)
	assert.InDelta(t, 2, alpha.Metrics["nova-total_hours"], 1e-9)
	assert.InDelta(t, 4, alpha.Metrics["nova-total_vcpus_usage"], 1e-9)
	assert.InDelta(t, 20, alpha.Metrics["cinder-total_gb_usage"], 1e-9)
	assert.InDelta(t, 2, alpha.EstimatedCost, 1e-9)
	assert.Len(t, alpha.ResourceUsages, 2)
	assert.True(t, rep.Detailed)
	assert.Equal(t, []string{"compute", "volume"}, rep.Sources)

	queries := seen.all()
	require.Len(t, queries, 1)
	assert.Equal(t, "alpha", queries[0].TenantID)
	assert.Equal(t, map[string]string{"team": "core"}, queries[0].Metadata)
}

func TestUsagesEndpointSourceFilter(t *testing.T) {
	srv, _, seen := newTestServer(t, nil)

	var rep report.Report
	status := getJSON(t, srv.URL+"/v1/usages?start=2024-01-01T00:00:00&end=2024-01-01T01:00:00&sources=volume", &rep)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"volume"}, rep.Sources)
	assert.Empty(t, seen.all())
	require.Len(t, rep.Tenants, 1)
	assert.Nil(t, rep.Tenants[0].ResourceUsages)
}

func TestUsagesEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		fetchErr error
		want     int
	}{
		{name: "inverted window", query: "start=2024-01-01T02:00:00&end=2024-01-01T01:00:00", want: http.StatusBadRequest},
		{name: "bad timestamp", query: "start=yesterday", want: http.StatusBadRequest},
		{name: "bad metadata", query: "metadata=%7Bnot-json", want: http.StatusBadRequest},
		{name: "unknown source", query: "start=2024-01-01T00:00:00&sources=swift", want: http.StatusBadRequest},
		{name: "disabled source", query: "start=2024-01-01T00:00:00&sources=image", want: http.StatusBadRequest},
		{name: "backend down", query: "start=2024-01-01T00:00:00", fetchErr: errors.New("connection refused"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, tt.fetchErr)
			var body map[string]string
			status := getJSON(t, srv.URL+"/v1/usages?"+tt.query, &body)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestLatestAndHealth(t *testing.T) {
	srv, store, _ := newTestServer(t, nil)

	var errBody map[string]string
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/v1/usages/latest", &errBody))

	var health map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/health", &health))
	assert.Equal(t, "initializing", health["status"])

	store.Update(report.Report{RunID: "run-9", GeneratedAt: testNow})

	var rep report.Report
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/usages/latest", &rep))
	assert.Equal(t, "run-9", rep.RunID)

	health = nil
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/health", &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "run-9", health["lastRunId"])
}
