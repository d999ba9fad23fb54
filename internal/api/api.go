package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tenant-usage-agent/internal/collector"
	"tenant-usage-agent/internal/report"
	"tenant-usage-agent/internal/usage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

const usageRequestsPerMinute = 30

// Collector is the part of the usage collector the API depends on.
type Collector interface {
	GetUsages(ctx context.Context, req collector.Request) (*collector.Result, error)
}

// Handler serves the agent HTTP API.
type Handler struct {
	collector Collector
	builder   *report.Builder
	store     *report.Store
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler builds a Handler bound to the collector and the report store.
func NewHandler(c Collector, builder *report.Builder, store *report.Store, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		collector: c,
		builder:   builder,
		store:     store,
		version:   version,
		logger:    logger,
		now:       time.Now,
	}
}

// Register wires all API endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		// Live collections call the backend APIs.
		r.With(httprate.LimitByIP(usageRequestsPerMinute, time.Minute)).Get("/usages", h.usages)
		r.Get("/usages/latest", h.latest)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":    "initializing",
		"version":   h.version,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	}
	if rep, ok := h.store.Latest(); ok {
		payload["status"] = "ok"
		payload["lastRunId"] = rep.RunID
		payload["timestamp"] = rep.GeneratedAt.Format(time.RFC3339Nano)
	}
	respondJSON(w, http.StatusOK, payload)
}

func (h *Handler) usages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := collector.Request{
		Start:    q.Get("start"),
		End:      q.Get("end"),
		Detailed: q.Get("detailed"),
		Filter: collector.Filter{
			TenantID: q.Get("tenant_id"),
			Sources:  splitList(q.Get("sources")),
		},
	}
	if raw := q.Get("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			respondError(w, http.StatusBadRequest, "metadata must be a JSON object of strings")
			return
		}
	}

	res, err := h.collector.GetUsages(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("usage request failed", slog.String("error", err.Error()))
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, h.builder.Build(res.RunID, res.Window, res.Sources, res.Usages, h.now()))
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	if rep, ok := h.store.Latest(); ok {
		respondJSON(w, http.StatusOK, rep)
		return
	}
	respondError(w, http.StatusServiceUnavailable, "report not ready")
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, usage.ErrInvalidWindow), errors.Is(err, collector.ErrUnknownSource),
		errors.Is(err, collector.ErrSourceDisabled):
		return http.StatusBadRequest
	case errors.Is(err, usage.ErrDataFormat):
		return http.StatusInternalServerError
	case errors.Is(err, usage.ErrSourceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
