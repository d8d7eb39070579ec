package queue

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is an ephemeral work descriptor. It lives only inside the queue; its
// outcome is recorded back onto the tracked item by the sink.
type Job struct {
	ID          string
	ItemID      uint64
	URL         string
	Marketplace string
	Priority    int // higher = more urgent

	Attempt    int
	NotBefore  time.Time
	EnqueuedAt time.Time
}

func NewJob(itemID uint64, url, marketplace string, priority int) *Job {
	return &Job{
		ID:          uuid.NewString(),
		ItemID:      itemID,
		URL:         url,
		Marketplace: marketplace,
		Priority:    priority,
	}
}

// Name keys observability per marketplace+item. Duplicate enqueues of the
// same name are allowed: a duplicate scrape is wasted work, not unsafe.
func (j *Job) Name() string {
	return fmt.Sprintf("%s:%d", j.Marketplace, j.ItemID)
}

// delayedHeap orders by NotBefore so the dispatcher knows how long to sleep.
type delayedHeap []*Job

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].NotBefore.Before(h[j].NotBefore) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)         { *h = append(*h, x.(*Job)) }
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// readyHeap orders dispatchable jobs by priority, oldest first on ties.
type readyHeap []*Job

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(*Job)) }
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

var (
	_ heap.Interface = (*delayedHeap)(nil)
	_ heap.Interface = (*readyHeap)(nil)
)
