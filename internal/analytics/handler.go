package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/bhandzo/cw-search-prototype/pkg/logger"
)

const maxTopKeywords = 100

// Handler serves the aggregate over GET /api/v1/analytics. ?top=N sets how
// many keywords are listed (default 10).
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{aggregator: aggregator, logger: logger.WithComponent("analytics-handler")}
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxTopKeywords {
			h.write(w, http.StatusBadRequest, map[string]string{"error": "top must be between 0 and 100"})
			return
		}
		top = n
	}
	h.write(w, http.StatusOK, h.aggregator.StatsTop(top))
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("writing analytics response", "error", err)
	}
}
