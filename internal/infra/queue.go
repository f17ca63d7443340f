package infra

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// CommandQueue provides multi-lane task serialization: the default "main"
// lane runs one task at a time, exactly like a single conversation's
// drain loop, while a named lane (one per conversation ID) gets its own
// FIFO order and its own concurrency cap, so slow conversations never
// block the fan-out across the rest of the tenant's traffic.
type CommandQueue struct {
	mu    sync.Mutex
	lanes map[string]*laneState
}

type laneState struct {
	name          string
	queue         []*queueEntry
	active        int
	maxConcurrent int
	draining      bool
	cond          *sync.Cond
}

type queueEntry struct {
	task       func(context.Context) (any, error)
	ctx        context.Context
	result     chan taskResult
	enqueuedAt time.Time
	warnAfter  time.Duration
	onWait     func(waited time.Duration, queueLen int)
}

type taskResult struct {
	value any
	err   error
}

// QueueOptions configures one Enqueue call's wait-time reporting.
type QueueOptions struct {
	WarnAfter time.Duration
	OnWait    func(waited time.Duration, queueLen int)
}

func NewCommandQueue() *CommandQueue {
	return &CommandQueue{lanes: make(map[string]*laneState)}
}

func (q *CommandQueue) getLane(name string) *laneState {
	if name == "" {
		name = "main"
	}
	lane, ok := q.lanes[name]
	if !ok {
		lane = &laneState{name: name, queue: make([]*queueEntry, 0), maxConcurrent: 1}
		lane.cond = sync.NewCond(&q.mu)
		q.lanes[name] = lane
	}
	return lane
}

// SetLaneConcurrency sets a lane's maximum concurrent tasks.
func (q *CommandQueue) SetLaneConcurrency(lane string, maxConcurrent int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	l := q.getLane(lane)
	l.maxConcurrent = maxConcurrent
	l.cond.Broadcast()
}

func (q *CommandQueue) Enqueue(ctx context.Context, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	return q.EnqueueInLane(ctx, "main", task, opts)
}

// EnqueueInLane queues task onto lane and blocks until it completes or ctx
// is cancelled. cmd/pipelineworker uses one lane per conversation ID so
// that C4's per-conversation serial ordering holds even though many
// conversations drain concurrently.
func (q *CommandQueue) EnqueueInLane(ctx context.Context, lane string, task func(context.Context) (any, error), opts *QueueOptions) (any, error) {
	if opts == nil {
		opts = &QueueOptions{WarnAfter: 2 * time.Second}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if task == nil {
		return nil, fmt.Errorf("task is nil")
	}

	resultCh := make(chan taskResult, 1)
	entry := &queueEntry{task: task, ctx: ctx, result: resultCh, enqueuedAt: time.Now(), warnAfter: opts.WarnAfter, onWait: opts.OnWait}

	q.mu.Lock()
	l := q.getLane(lane)
	l.queue = append(l.queue, entry)
	if !l.draining {
		l.draining = true
		go q.drainLane(l)
	}
	q.mu.Unlock()

	select {
	case result := <-resultCh:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *CommandQueue) drainLane(l *laneState) {
	for {
		q.mu.Lock()
		for l.active >= l.maxConcurrent && len(l.queue) > 0 {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.draining = false
			q.mu.Unlock()
			return
		}

		entry := l.queue[0]
		l.queue = l.queue[1:]

		waited := time.Since(entry.enqueuedAt)
		if waited >= entry.warnAfter && entry.onWait != nil {
			entry.onWait(waited, len(l.queue))
		}

		l.active++
		q.mu.Unlock()

		go func(e *queueEntry) {
			var (
				value any
				err   error
			)
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("task panicked: %v\n%s", rec, debug.Stack())
				}
				q.mu.Lock()
				l.active--
				l.cond.Broadcast()
				q.mu.Unlock()
				e.result <- taskResult{value: value, err: err}
			}()

			if e.ctx.Err() != nil {
				err = e.ctx.Err()
				return
			}
			value, err = e.task(e.ctx)
		}(entry)
	}
}

// QueueSize reports one lane's pending+active task count.
func (q *CommandQueue) QueueSize(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[lane]
	if !ok {
		return 0
	}
	return len(l.queue) + l.active
}

func (q *CommandQueue) TotalQueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, l := range q.lanes {
		total += len(l.queue) + l.active
	}
	return total
}

// ClearLane discards a lane's pending (not yet started) tasks, returning
// how many were dropped.
func (q *CommandQueue) ClearLane(lane string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[lane]
	if !ok {
		return 0
	}
	removed := len(l.queue)
	l.queue = l.queue[:0]
	return removed
}

// LaneStats reports one lane's queue depth and concurrency for metrics.
type LaneStats struct {
	Name          string
	Pending       int
	Active        int
	MaxConcurrent int
}

func (q *CommandQueue) Stats() []LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make([]LaneStats, 0, len(q.lanes))
	for _, l := range q.lanes {
		stats = append(stats, LaneStats{Name: l.name, Pending: len(l.queue), Active: l.active, MaxConcurrent: l.maxConcurrent})
	}
	return stats
}

func (q *CommandQueue) EnqueueVoid(ctx context.Context, task func(context.Context) error, opts *QueueOptions) error {
	_, err := q.Enqueue(ctx, func(ctx context.Context) (any, error) { return nil, task(ctx) }, opts)
	return err
}

func (q *CommandQueue) EnqueueVoidInLane(ctx context.Context, lane string, task func(context.Context) error, opts *QueueOptions) error {
	_, err := q.EnqueueInLane(ctx, lane, func(ctx context.Context) (any, error) { return nil, task(ctx) }, opts)
	return err
}
