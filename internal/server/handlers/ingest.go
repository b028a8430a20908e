package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hookline/hookline/internal/models"
	"github.com/hookline/hookline/internal/normalize"
	"github.com/hookline/hookline/pkg/api"
)

// EventStore is the slice of the event storage the ingest path needs.
type EventStore interface {
	AppendBatch(ctx context.Context, events []*models.NormalizedEvent) (int, error)
	DeleteByBlockHeights(ctx context.Context, heights []uint64) (int, error)
}

// Broadcaster publishes normalized events and invalidations to live
// connections.
type Broadcaster interface {
	Publish(event *models.NormalizedEvent)
	Invalidate(heights []uint64)
}

// Normalizer converts a raw delivery into canonical events.
type Normalizer interface {
	Normalize(raw []byte) (*normalize.Result, error)
}

// IngestHandler accepts chainhook deliveries, persists the normalized
// events and fans them out. The store is a durability/query aid, not the
// live-delivery path: a store outage is logged per call and the delivery
// still succeeds for whatever was broadcast.
type IngestHandler struct {
	logger      *slog.Logger
	normalizer  Normalizer
	store       EventStore
	broadcaster Broadcaster
}

// NewIngestHandler creates the ingestion handler.
func NewIngestHandler(logger *slog.Logger, normalizer Normalizer, store EventStore, broadcaster Broadcaster) *IngestHandler {
	return &IngestHandler{
		logger:      logger,
		normalizer:  normalizer,
		store:       store,
		broadcaster: broadcaster,
	}
}

// HandleIngest handles POST /api/v1/ingest.
func (h *IngestHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Warn("Failed to read ingest body", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "read_failed", "failed to read request body")
		return
	}

	result, err := h.normalizer.Normalize(body)
	if err != nil {
		h.logger.Warn("Failed to normalize payload", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "processing_failed", err.Error())
		return
	}

	for _, blockErr := range result.BlockErrors {
		h.logger.Warn("Block skipped during normalization", "error", blockErr)
	}

	// Persist first, then broadcast; the two stay decoupled on purpose.
	// A store failure must not stop live delivery.
	if len(result.Events) > 0 {
		inserted, err := h.store.AppendBatch(ctx, result.Events)
		if err != nil {
			h.logger.Error("Failed to persist events", "error", err, "events", len(result.Events))
		} else {
			h.logger.Info("Persisted events",
				"received", len(result.Events), "inserted", inserted)
		}

		for _, event := range result.Events {
			h.broadcaster.Publish(event)
		}
	}

	if len(result.InvalidateHeights) > 0 {
		removed, err := h.store.DeleteByBlockHeights(ctx, result.InvalidateHeights)
		if err != nil {
			h.logger.Error("Failed to delete rolled-back events",
				"error", err, "heights", result.InvalidateHeights)
		} else {
			h.logger.Info("Removed rolled-back events",
				"heights", result.InvalidateHeights, "removed", removed)
		}

		h.broadcaster.Invalidate(result.InvalidateHeights)
	}

	resp := api.IngestResponse{
		Success: true,
		Processed: api.ProcessedCounts{
			Apply:    result.Applied,
			Rollback: result.RolledBack,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode ingest response", "error", err)
	}
}

// writeError writes the generic JSON error body.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(api.ErrorResponse{Error: code, Message: message}); err != nil {
		logger.Error("Failed to encode error response", "error", err)
	}
}
