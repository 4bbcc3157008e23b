package aggregator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

const (
	defaultSnapshotLimit = 20
	maxSnapshotLimit     = 500
)

// Handler serves persisted snapshots.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store, logger: logger.WithComponent("snapshot-handler")}
}

// Snapshots handles GET /api/v1/analytics/snapshots?limit=N, newest first.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.write(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snaps, err := h.store.ListSnapshots(r.Context(), limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing snapshots failed", "error", err)
		h.write(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if snaps == nil {
		snaps = []Snapshot{}
	}
	h.write(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}
