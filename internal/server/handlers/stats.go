package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/server/registry"
)

// EventCounter is the slice of the event storage the stats endpoint needs.
type EventCounter interface {
	Count(ctx context.Context) (int, error)
}

// ConnCounter reports the number of live connections.
type ConnCounter interface {
	ConnCount() int
}

// StatsHandler exposes aggregate registry, store and connection counters.
type StatsHandler struct {
	logger   *slog.Logger
	registry *registry.Registry
	events   EventCounter
	conns    ConnCounter
}

// NewStatsHandler creates the stats handler.
func NewStatsHandler(logger *slog.Logger, reg *registry.Registry, events EventCounter, conns ConnCounter) *StatsHandler {
	return &StatsHandler{
		logger:   logger,
		registry: reg,
		events:   events,
		conns:    conns,
	}
}

// StatsResponse is the stats body.
type StatsResponse struct {
	Subscriptions map[string]int `json:"subscriptions"`
	TotalSubs     int            `json:"total_subscriptions"`
	ActiveSubs    int            `json:"active_subscriptions"`
	Owners        int            `json:"owners"`
	Events        int            `json:"events"`
	Connections   int            `json:"connections"`
}

// HandleStats handles GET /api/v1/stats.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	subStats, err := h.registry.Stats(ctx)
	if err != nil {
		h.logger.Error("Failed to read subscription stats", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "stats_failed", "failed to read stats")
		return
	}

	eventCount, err := h.events.Count(ctx)
	if err != nil {
		h.logger.Error("Failed to count events", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "stats_failed", "failed to read stats")
		return
	}

	perClass := make(map[string]int, len(subStats.PerClass))
	for class, count := range subStats.PerClass {
		perClass[string(class)] = count
	}
	// Всегда отдаем все классы, даже нулевые
	for _, class := range []models.SubscriptionClass{models.ClassResource, models.ClassEntity, models.ClassEventType} {
		if _, ok := perClass[string(class)]; !ok {
			perClass[string(class)] = 0
		}
	}

	resp := StatsResponse{
		Subscriptions: perClass,
		TotalSubs:     subStats.Total,
		ActiveSubs:    subStats.Active,
		Owners:        subStats.Owners,
		Events:        eventCount,
		Connections:   h.conns.ConnCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode stats response", "error", err)
	}
}
