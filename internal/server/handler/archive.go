package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// ArchiveRuns reports the latest trade archive run.
type ArchiveRuns interface {
	LastRun(ctx context.Context) (domain.ArchiveRun, bool, error)
}

// ArchiveHandler lists archived trade files and backtest objects.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	runs   ArchiveRuns
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. runs may be nil when no
// archiver is configured.
func NewArchiveHandler(blobs domain.BlobReader, runs ArchiveRuns, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, runs: runs, logger: logHandler(logger, "archive")}
}

type objectView struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListObjects lists objects under prefix, which must sit under the archive
// or backtest areas, and includes the last archive run when known.
// GET /api/archives?prefix=archive/trades/
func (h *ArchiveHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = domain.ArchivePrefix
	}
	if !strings.HasPrefix(prefix, domain.ArchivePrefix) && !strings.HasPrefix(prefix, domain.BacktestPrefix) {
		writeError(w, http.StatusBadRequest, "prefix must start with "+domain.ArchivePrefix+" or "+domain.BacktestPrefix)
		return
	}

	infos, err := h.blobs.List(ctx, prefix)
	if err != nil {
		h.logger.ErrorContext(ctx, "list objects failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "object storage unavailable")
		return
	}
	out := make([]objectView, 0, len(infos))
	for _, in := range infos {
		out = append(out, objectView(in))
	}
	body := map[string]any{"prefix": prefix, "objects": out}

	if h.runs != nil {
		run, ok, err := h.runs.LastRun(ctx)
		switch {
		case err != nil:
			// The listing is still useful without the run.
			h.logger.WarnContext(ctx, "last archive run unavailable", slog.String("error", err.Error()))
		case ok:
			body["last_run"] = run
		}
	}
	writeJSON(w, http.StatusOK, body)
}
