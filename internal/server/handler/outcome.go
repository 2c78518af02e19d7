package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// StreamReader reads the newest entries of a durable stream.
type StreamReader interface {
	StreamRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error)
}

// OutcomeHandler serves recent evaluation outcomes journaled by the bus.
type OutcomeHandler struct {
	streams StreamReader
	stream  string
	logger  *slog.Logger
}

// NewOutcomeHandler creates an OutcomeHandler reading stream.
func NewOutcomeHandler(streams StreamReader, stream string, logger *slog.Logger) *OutcomeHandler {
	return &OutcomeHandler{streams: streams, stream: stream, logger: logHandler(logger, "outcome")}
}

type outcomeEntry struct {
	ID      string          `json:"id"`
	Outcome json.RawMessage `json:"outcome"`
}

// ListOutcomes returns the newest outcomes first.
// GET /api/outcomes?limit=100
func (h *OutcomeHandler) ListOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 1000)
		}
	}

	msgs, err := h.streams.StreamRecent(r.Context(), h.stream, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read outcome stream failed",
			slog.String("stream", h.stream),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "outcome stream unavailable")
		return
	}

	out := make([]outcomeEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, outcomeEntry{ID: m.ID, Outcome: m.Payload})
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": out})
}
