// Package queue buffers prioritized scrape work, enforces concurrency and
// per-marketplace rate ceilings, retries transient failures with exponential
// backoff, and drives the executor and pipeline for each dequeued job.
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SnapPrice/PriceBox/internal/metrics"
	"github.com/SnapPrice/PriceBox/internal/models"
	"github.com/SnapPrice/PriceBox/internal/scraper"
)

type Executor interface {
	Execute(ctx context.Context, url, marketplace string) scraper.Outcome
}

// Sink receives terminal job outcomes. The queue itself never writes to
// storage.
type Sink interface {
	RecordSuccess(ctx context.Context, itemID uint64, snap *models.ProductSnapshot, checkedAt time.Time) error
	RecordFailure(ctx context.Context, itemID uint64, cause string, checkedAt time.Time) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Resources is the shared browser pool lifecycle owned by the queue: started
// before workers pull jobs, closed only after in-flight work has drained.
type Resources interface {
	Start() error
	Close()
}

type Queue struct {
	executor Executor
	sink     Sink
	rl       RateLimiter
	res      Resources

	maxAttempts int
	backoffBase time.Duration
	defaultRate int
	rates       map[string]int

	mu       sync.Mutex
	delayed  delayedHeap
	ready    readyHeap
	lastSlot map[string]time.Time
	wake     chan struct{}

	jobs    chan *Job
	cancel  context.CancelFunc
	dispWG  sync.WaitGroup
	workWG  sync.WaitGroup
	started atomic.Bool

	totalEnqueued  atomic.Int64
	totalProcessed atomic.Int64
	totalSucceeded atomic.Int64
	totalFailed    atomic.Int64
	totalRetried   atomic.Int64
	inFlight       atomic.Int64
	lastErrorMu    sync.Mutex
	lastError      string
}

func New(executor Executor, sink Sink, rl RateLimiter, res Resources) *Queue {
	return &Queue{
		executor:    executor,
		sink:        sink,
		rl:          rl,
		res:         res,
		maxAttempts: 3,
		backoffBase: 2 * time.Second,
		defaultRate: 60,
		rates:       map[string]int{},
		lastSlot:    map[string]time.Time{},
		wake:        make(chan struct{}, 1),
	}
}

func (q *Queue) WithRetryPolicy(maxAttempts int, backoffBase time.Duration) *Queue {
	if maxAttempts > 0 {
		q.maxAttempts = maxAttempts
	}
	if backoffBase > 0 {
		q.backoffBase = backoffBase
	}
	return q
}

func (q *Queue) WithRateCeilings(defaultPerMinute int, perMarketplace map[string]int) *Queue {
	if defaultPerMinute > 0 {
		q.defaultRate = defaultPerMinute
	}
	for m, r := range perMarketplace {
		if r > 0 {
			q.rates[m] = r
		}
	}
	return q
}

func (q *Queue) ratePerMinute(marketplace string) int {
	if r, ok := q.rates[marketplace]; ok {
		return r
	}
	return q.defaultRate
}

// Enqueue schedules one job, pushed out by the marketplace's minimum
// inter-request spacing so burst submission is throttled before the
// concurrency limiter ever engages.
func (q *Queue) Enqueue(j *Job) {
	now := time.Now().UTC()
	spacing := SpacingDelay(q.ratePerMinute(j.Marketplace))

	q.mu.Lock()
	slot := now
	if last, ok := q.lastSlot[j.Marketplace]; ok && last.Add(spacing).After(now) {
		slot = last.Add(spacing)
	}
	q.lastSlot[j.Marketplace] = slot
	j.NotBefore = slot
	j.EnqueuedAt = now
	heap.Push(&q.delayed, j)
	q.syncDepthLocked()
	q.mu.Unlock()

	q.totalEnqueued.Add(1)
	q.nudge()
}

func (q *Queue) EnqueueBatch(jobs []*Job) {
	for _, j := range jobs {
		q.Enqueue(j)
	}
}

// requeue puts a failed job back with its backoff delay, bypassing the
// marketplace spacing slot (the backoff already spaces it out).
func (q *Queue) requeue(j *Job) {
	q.mu.Lock()
	heap.Push(&q.delayed, j)
	q.syncDepthLocked()
	q.mu.Unlock()
	q.nudge()
}

// syncDepthLocked recomputes the backlog gauge from the heaps. An absolute
// Set means jobs abandoned at Stop never leave the gauge stuck high.
func (q *Queue) syncDepthLocked() {
	metrics.QueueDepth.Set(float64(q.delayed.Len() + q.ready.Len()))
}

func (q *Queue) nudge() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start brings up the browser resources and begins pulling jobs with at most
// concurrency in flight. If resources cannot start, the queue does not start.
func (q *Queue) Start(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 5
	}
	if q.started.Swap(true) {
		return fmt.Errorf("queue already started")
	}

	if q.res != nil {
		if err := q.res.Start(); err != nil {
			q.started.Store(false)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.jobs = make(chan *Job)

	q.dispWG.Add(1)
	go q.dispatch(runCtx)

	// Workers keep a non-cancelable context so Stop() lets current attempts
	// finish (or hit their own timeouts) instead of aborting them mid-fetch.
	procCtx := context.WithoutCancel(runCtx)
	for i := 0; i < concurrency; i++ {
		q.workWG.Add(1)
		go q.worker(procCtx)
	}

	slog.Info("queue started", "concurrency", concurrency, "max_attempts", q.maxAttempts)
	return nil
}

// Stop drains in-flight work gracefully before releasing pooled resources.
func (q *Queue) Stop() {
	if !q.started.Load() || q.cancel == nil {
		return
	}
	q.cancel()
	q.dispWG.Wait()
	close(q.jobs)
	q.workWG.Wait()
	if q.res != nil {
		q.res.Close()
	}
	q.started.Store(false)
	slog.Info("queue stopped", "processed", q.totalProcessed.Load())
}

// dispatch moves due jobs from the delayed set to the ready set and feeds
// workers in priority order. Priority is best-effort: a lower-priority job
// past its delay dispatches before a higher-priority one still waiting.
func (q *Queue) dispatch(ctx context.Context) {
	defer q.dispWG.Done()

	for {
		j, wait := q.next()
		if j != nil {
			select {
			case q.jobs <- j:
				continue
			case <-ctx.Done():
				q.requeueFront(j)
				return
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next pops the highest-priority ready job, or reports how long to wait for
// the earliest delayed one.
func (q *Queue) next() (*Job, time.Duration) {
	now := time.Now().UTC()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.delayed.Len() > 0 && !q.delayed[0].NotBefore.After(now) {
		heap.Push(&q.ready, heap.Pop(&q.delayed))
	}

	if q.ready.Len() > 0 {
		j := heap.Pop(&q.ready).(*Job)
		q.syncDepthLocked()
		return j, 0
	}
	if q.delayed.Len() > 0 {
		return nil, q.delayed[0].NotBefore.Sub(now)
	}
	return nil, time.Second
}

func (q *Queue) requeueFront(j *Job) {
	q.mu.Lock()
	heap.Push(&q.ready, j)
	q.syncDepthLocked()
	q.mu.Unlock()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.workWG.Done()
	for j := range q.jobs {
		q.process(ctx, j)
	}
}

// process runs one job end to end. Panics and executor failures are both
// converted to failed outcomes here so one bad job never stalls the loop.
func (q *Queue) process(ctx context.Context, j *Job) {
	q.inFlight.Add(1)
	metrics.QueueInFlight.Inc()
	defer func() {
		q.inFlight.Add(-1)
		metrics.QueueInFlight.Dec()

		if r := recover(); r != nil {
			slog.Error("panic processing job",
				"job", j.Name(), "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			q.finishFailed(ctx, j, fmt.Sprintf("panic: %v", r))
		}
	}()

	q.throttle(ctx, j.Marketplace)

	out := q.executor.Execute(ctx, j.URL, j.Marketplace)
	q.totalProcessed.Add(1)
	metrics.ScrapeDuration.WithLabelValues(j.Marketplace).Observe(out.Elapsed.Seconds())

	if out.OK {
		metrics.ScrapesTotal.WithLabelValues(j.Marketplace, "success").Inc()
		q.totalSucceeded.Add(1)
		if err := q.sink.RecordSuccess(ctx, j.ItemID, out.Snapshot, time.Now().UTC()); err != nil {
			slog.Error("record success", "job", j.Name(), "error", err.Error())
			q.setLastError(err.Error())
		}
		return
	}

	kind := out.Err.Kind
	metrics.ScrapesTotal.WithLabelValues(j.Marketplace, string(kind)).Inc()
	slog.Warn("scrape attempt failed",
		"job", j.Name(), "attempt", j.Attempt+1, "kind", string(kind), "error", out.Err.Error())

	if kind.Retryable() && j.Attempt+1 < q.maxAttempts {
		j.Attempt++
		j.NotBefore = time.Now().UTC().Add(BackoffDelay(q.backoffBase, j.Attempt))
		q.totalRetried.Add(1)
		metrics.RetriesTotal.Inc()
		q.requeue(j)
		return
	}

	q.finishFailed(ctx, j, out.Err.Error())
}

func (q *Queue) finishFailed(ctx context.Context, j *Job, cause string) {
	q.totalFailed.Add(1)
	q.setLastError(cause)
	if err := q.sink.RecordFailure(ctx, j.ItemID, cause, time.Now().UTC()); err != nil {
		slog.Error("record failure", "job", j.Name(), "error", err.Error())
	}
}

// throttle consults the shared per-marketplace minute window. The enqueue
// spacing already approximates the ceiling; this is the strict shared check
// across processes.
func (q *Queue) throttle(ctx context.Context, marketplace string) {
	if q.rl == nil {
		return
	}
	limit := int64(q.ratePerMinute(marketplace))
	key := fmt.Sprintf("rl:marketplace:%s:%s", marketplace, time.Now().UTC().Format("200601021504"))
	allowed, n, err := q.rl.Allow(ctx, key, limit, 70*time.Second)
	if err != nil {
		slog.Warn("rate limiter unavailable", "marketplace", marketplace, "error", err.Error())
		return
	}
	if !allowed {
		slog.Warn("rate limit exceeded", "marketplace", marketplace, "count", n)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
		}
	}
}

func (q *Queue) setLastError(s string) {
	q.lastErrorMu.Lock()
	q.lastError = s
	q.lastErrorMu.Unlock()
}

type Stats struct {
	Depth          int    `json:"depth"`
	TotalEnqueued  int64  `json:"totalEnqueued"`
	TotalProcessed int64  `json:"totalProcessed"`
	TotalSucceeded int64  `json:"totalSucceeded"`
	TotalFailed    int64  `json:"totalFailed"`
	TotalRetried   int64  `json:"totalRetried"`
	InFlight       int64  `json:"inFlight"`
	LastError      string `json:"lastError,omitempty"`
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	depth := q.delayed.Len() + q.ready.Len()
	q.mu.Unlock()

	st := Stats{
		Depth:          depth,
		TotalEnqueued:  q.totalEnqueued.Load(),
		TotalProcessed: q.totalProcessed.Load(),
		TotalSucceeded: q.totalSucceeded.Load(),
		TotalFailed:    q.totalFailed.Load(),
		TotalRetried:   q.totalRetried.Load(),
		InFlight:       q.inFlight.Load(),
	}
	q.lastErrorMu.Lock()
	st.LastError = q.lastError
	q.lastErrorMu.Unlock()
	return st
}
