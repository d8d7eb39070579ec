// Package scheduler decides, on a fixed cadence, which tracked items are due
// for a refetch and with what urgency, then hands a prioritized batch to the
// job queue. The pipeline updates the same rows this package reads, closing
// the adaptive loop.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/SnapPrice/PriceBox/internal/queue"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ErrNotFound reports a ScrapeNow request for an item that does not exist.
var ErrNotFound = errors.New("tracked item not found")

// Items with this many consecutive errors are presumed broken until
// externally remediated. This is a circuit breaker, not a retry.
const defaultErrorCircuitBreaker = 10

const highPriorityThreshold = 8

type Repository interface {
	ListDueCandidates(ctx context.Context, now time.Time, errorLimit int32, limit int) ([]*models.DueCandidate, error)
	GetItemByID(ctx context.Context, id uint64) (*models.TrackedItem, error)
	UpdateRefetchInterval(ctx context.Context, itemID uint64, hours int) error
	SchedulerAggregates(ctx context.Context, now time.Time, errorLimit int32, highPriority int) (models.SchedulerAggregates, error)
}

type Enqueuer interface {
	Enqueue(j *queue.Job)
	EnqueueBatch(jobs []*queue.Job)
}

type Scheduler struct {
	repo    Repository
	q       Enqueuer
	planner *Planner

	cron       *cron.Cron
	tick       time.Duration
	batchSize  int
	errorLimit int32

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastTickUnixNano  atomic.Int64
	totalTicks        atomic.Int64
	totalEnqueued     atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, q Enqueuer) *Scheduler {
	return &Scheduler{
		repo:              repo,
		q:                 q,
		planner:           NewPlanner(DefaultPlannerConfig()),
		tick:              5 * time.Minute,
		batchSize:         500,
		errorLimit:        defaultErrorCircuitBreaker,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scheduler) WithSettings(tick time.Duration, batchSize int) *Scheduler {
	if tick > 0 {
		s.tick = tick
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	return s
}

func (s *Scheduler) WithPlanner(cfg PlannerConfig) *Scheduler {
	s.planner = NewPlanner(cfg)
	return s
}

// Start registers the cron entry and serves out-of-band triggers. One tick
// runs immediately so a fresh process does not wait a full interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.tick)
	if _, err := s.cron.AddFunc(spec, func() { s.RunTick(ctx) }); err != nil {
		return errors.Wrap(err, "cron add")
	}
	s.cron.Start()
	slog.Info("scheduler started", "spec", spec, "batch_size", s.batchSize)

	go s.RunTick(ctx)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.triggerCh:
				s.RunTick(ctx)
			}
		}
	}()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	slog.Info("scheduler stopped", "ticks", s.totalTicks.Load())
}

// Trigger requests an immediate tick (best-effort, non-blocking).
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// RunTick selects due items, scores them, adapts refetch intervals, and
// enqueues the batch. It never propagates errors: an internal failure logs,
// ends the tick early, and leaves unprocessed items for the next cycle;
// missing one cycle only delays a refetch.
func (s *Scheduler) RunTick(ctx context.Context) {
	now := time.Now().UTC()
	s.lastTickUnixNano.Store(now.UnixNano())
	s.totalTicks.Add(1)

	cands, err := s.repo.ListDueCandidates(ctx, now, s.errorLimit, s.batchSize)
	if err != nil {
		slog.Error("list due candidates", "error", err.Error())
		s.setLastError(err.Error())
		return
	}
	if len(cands) == 0 {
		return
	}

	jobs := make([]*queue.Job, 0, len(cands))
	for _, c := range cands {
		it := c.Item
		if it.ConsecutiveErrorCount >= s.errorLimit {
			// Belt over the query-side exclusion.
			continue
		}

		target := s.planner.TargetIntervalHours(c.Volatility7d, c.ActiveAlertCount > 0, c.WatcherCount)
		if s.planner.ShouldPersistInterval(it.RefetchIntervalHours, target) {
			if err := s.repo.UpdateRefetchInterval(ctx, it.ID, target); err != nil {
				slog.Error("persist refetch interval", "item_id", it.ID, "error", err.Error())
				s.setLastError(err.Error())
				return
			}
			slog.Info("refetch interval adapted",
				"item_id", it.ID, "hours", target, "volatility", c.Volatility7d)
		}

		score := s.planner.PriorityScore(
			it.PriorityScore, c.ActiveAlertCount, c.WatcherCount, c.Volatility7d, it.ConsecutiveErrorCount)
		jobs = append(jobs, queue.NewJob(it.ID, it.URL, it.Marketplace, score))
	}

	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Priority > jobs[j].Priority })
	s.q.EnqueueBatch(jobs)
	s.totalEnqueued.Add(int64(len(jobs)))
	slog.Info("tick enqueued", "candidates", len(cands), "jobs", len(jobs))
}

// ScrapeNow bypasses the due-check entirely and enqueues the item at
// maximum priority.
func (s *Scheduler) ScrapeNow(ctx context.Context, itemID uint64) error {
	it, err := s.repo.GetItemByID(ctx, itemID)
	if err != nil {
		return err
	}
	if it == nil {
		return errors.Wrapf(ErrNotFound, "item %d", itemID)
	}
	s.q.Enqueue(queue.NewJob(it.ID, it.URL, it.Marketplace, s.planner.MaxScore()))
	s.totalEnqueued.Add(1)
	return nil
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastTickAt    *time.Time `json:"lastTickAt,omitempty"`
	TotalTicks    int64      `json:"totalTicks"`
	TotalEnqueued int64      `json:"totalEnqueued"`
	LastError     string     `json:"lastError,omitempty"`

	models.SchedulerAggregates
}

// Stats merges process counters with storage-level aggregates. Read-only.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	agg, err := s.repo.SchedulerAggregates(ctx, time.Now().UTC(), s.errorLimit, highPriorityThreshold)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		StartedAt:           time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalTicks:          s.totalTicks.Load(),
		TotalEnqueued:       s.totalEnqueued.Load(),
		SchedulerAggregates: agg,
	}
	if n := s.lastTickUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTickAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st, nil
}

func (s *Scheduler) setLastError(msg string) {
	s.lastErrorMu.Lock()
	s.lastError = msg
	s.lastErrorMu.Unlock()
}
