package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/autobot/internal/scheduler"
)

// JobLister exposes the scheduler's registered pairs.
type JobLister interface {
	Jobs() []scheduler.Job
}

// StatusHandler serves the runtime status: mode, uptime and schedule.
type StatusHandler struct {
	mode      string
	paper     bool
	jobs      JobLister
	startedAt time.Time
}

// NewStatusHandler creates a StatusHandler. jobs may be nil in server-only
// mode, where nothing is scheduled.
func NewStatusHandler(mode string, paper bool, jobs JobLister, startedAt time.Time) *StatusHandler {
	return &StatusHandler{mode: mode, paper: paper, jobs: jobs, startedAt: startedAt}
}

// GetStatus responds with the mode and the next due time of every pair.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.Job{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"paper":          h.paper,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"jobs":           jobs,
	})
}
