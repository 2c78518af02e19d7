package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// Handler evaluates one pair. It must return before the next job runs.
type Handler func(ctx context.Context, pair domain.Pair)

// Job is a registered pair and its next due time.
type Job struct {
	Pair    domain.Pair `json:"pair"`
	Spec    string      `json:"schedule"`
	Next    time.Time   `json:"next"`
	LastRun time.Time   `json:"last_run,omitempty"`
	Runs    int64       `json:"runs"`
}

type job struct {
	pair    domain.Pair
	spec    Spec
	next    time.Time
	lastRun time.Time
	runs    int64
}

// Scheduler runs due jobs sequentially from a single polling loop.
type Scheduler struct {
	tick   time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu   sync.Mutex
	jobs []*job
}

// New creates a Scheduler that checks for due jobs every tick.
func New(tick time.Duration, logger *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		tick:   tick,
		now:    time.Now,
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// SetClock replaces the wall clock. Must be called before Register.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Register adds pair with the given cadence.
func (s *Scheduler) Register(pair domain.Pair, spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &job{pair: pair, spec: spec, next: spec.First(s.now())}
	s.jobs = append(s.jobs, j)
	s.logger.Info("job registered",
		slog.String("pair", pair.String()),
		slog.String("schedule", spec.String()),
		slog.Time("next", j.next),
	)
}

// Run polls for due jobs until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, h Handler) error {
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.Jobs())), slog.Duration("tick", s.tick))
	defer s.logger.Info("scheduler stopped")

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunDue(ctx, h)
		}
	}
}

// RunDue runs every job whose due time has passed, earliest first, and
// returns how many ran.
func (s *Scheduler) RunDue(ctx context.Context, h Handler) int {
	now := s.now()
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(a, b int) bool {
		if !due[a].next.Equal(due[b].next) {
			return due[a].next.Before(due[b].next)
		}
		return due[a].pair.String() < due[b].pair.String()
	})

	ran := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		h(ctx, j.pair)
		ran++

		s.mu.Lock()
		j.lastRun = now
		j.runs++
		j.next = j.spec.Next(j.next, s.now())
		s.mu.Unlock()
	}
	return ran
}

// Jobs returns a snapshot of all jobs ordered by next due time.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, Job{
			Pair:    j.pair,
			Spec:    j.spec.String(),
			Next:    j.next,
			LastRun: j.lastRun,
			Runs:    j.runs,
		})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Next.Before(out[b].Next) })
	return out
}
