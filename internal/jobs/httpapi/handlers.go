package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

// StatusSource reports job counts per status.
type StatusSource interface {
	Status(ctx context.Context) (map[models.Status]int64, error)
}

// DepthSource reports how many entries wait in the broker for a type.
type DepthSource interface {
	Len(ctx context.Context, t models.JobType) (int64, error)
}

type Handler struct {
	status StatusSource
	depth  DepthSource
	types  []models.JobType
	logger zerolog.Logger
}

func New(status StatusSource, depth DepthSource, types []models.JobType, logger zerolog.Logger) *Handler {
	return &Handler{
		status: status,
		depth:  depth,
		types:  types,
		logger: logger.With().Str("component", "ops_http").Logger(),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type QueueStatusResponse struct {
	Jobs   map[models.Status]int64  `json:"jobs"`
	Broker map[models.JobType]int64 `json:"broker"`
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	counts, err := h.status.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("queue status failed")
		writeErrorJSON(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}

	resp := QueueStatusResponse{Jobs: counts, Broker: make(map[models.JobType]int64, len(h.types))}
	for _, t := range h.types {
		n, err := h.depth.Len(r.Context(), t)
		if err != nil {
			h.logger.Error().Err(err).Str("job_type", string(t)).Msg("broker depth failed")
			writeErrorJSON(w, http.StatusServiceUnavailable, "broker unavailable")
			return
		}
		resp.Broker[t] = n
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorJSON(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
