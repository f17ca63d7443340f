package drain

import (
	"context"
	"log/slog"
	"time"

	"github.com/conversationai/pipeline/internal/infra"
	"github.com/conversationai/pipeline/internal/jobq"
	"github.com/conversationai/pipeline/internal/observability"
)

// PoolConfig tunes the process-wide worker pool wrapping Worker.Run.
type PoolConfig struct {
	// Concurrency bounds how many drain iterations run at once across the
	// whole process (AI_AGENT_CONCURRENCY).
	Concurrency int64
	// Group and Consumer identify this process to the jobq consumer group.
	Group, Consumer string
	// ReadCount and ReadBlock tune one jobq.Read call.
	ReadCount int64
	ReadBlock time.Duration
}

// Pool consumes jobq.Job entries and runs them through a Worker, holding
// each conversation to one in-flight drain at a time via a CommandQueue
// lane (grounded on the teacher's internal/infra.CommandQueue lane model)
// while bounding total concurrency across all conversations with a
// Semaphore sized to PoolConfig.Concurrency.
type Pool struct {
	worker *Worker
	jobs   *jobq.Queue
	config PoolConfig
	logger *slog.Logger

	sem   *infra.Semaphore
	lanes *infra.CommandQueue
}

// NewPool builds a Pool. logger may be nil.
func NewPool(worker *Worker, jobs *jobq.Queue, config PoolConfig, logger *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		config.Concurrency = 16
	}
	if config.ReadCount <= 0 {
		config.ReadCount = 10
	}
	if config.ReadBlock <= 0 {
		config.ReadBlock = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		worker: worker, jobs: jobs, config: config, logger: logger,
		sem:   infra.NewSemaphore(config.Concurrency),
		lanes: infra.NewCommandQueue(),
	}
}

// Run blocks, repeatedly reading a batch of jobs and dispatching each into
// its conversation's lane, until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.jobs.EnsureGroup(ctx, p.config.Group); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		jobsBatch, entryIDs, err := p.jobs.Read(ctx, p.config.Group, p.config.Consumer, p.config.ReadCount, p.config.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("jobq read failed", "error", err)
			continue
		}

		for i, j := range jobsBatch {
			p.dispatch(ctx, j, entryIDs[i])
		}
	}
}

// dispatch acquires a global permit, then runs job on its conversation's
// lane so two jobs for the same conversation never run concurrently even
// if jobq redelivers one while the other is still in flight.
func (p *Pool) dispatch(ctx context.Context, job jobq.Job, entryID string) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}

	enqueuedAt := time.Now()
	observability.EmitLaneEnqueue(&observability.LaneEnqueueEvent{
		Lane:      job.ConversationID,
		QueueSize: len(p.lanes.Stats()),
	})

	go func() {
		defer p.sem.Release(1)

		_, err := p.lanes.EnqueueInLane(ctx, job.ConversationID, func(ctx context.Context) (any, error) {
			runErr := p.worker.Run(ctx, Job{ID: job.ID, ConversationID: job.ConversationID, AIAgentID: job.AIAgentID})
			return nil, runErr
		}, nil)
		observability.EmitLaneDequeue(&observability.LaneDequeueEvent{
			Lane:      job.ConversationID,
			QueueSize: len(p.lanes.Stats()),
			WaitMs:    time.Since(enqueuedAt).Milliseconds(),
		})
		if err != nil {
			p.logger.Error("drain job failed", "conversation_id", job.ConversationID, "job_id", job.ID, "error", err)
			return
		}

		if ackErr := p.jobs.Ack(ctx, p.config.Group, job, entryID); ackErr != nil {
			p.logger.Error("ack failed", "conversation_id", job.ConversationID, "job_id", job.ID, "error", ackErr)
		}
	}()
}

// Stats reports the pool's current lane queue depths, for metrics.
func (p *Pool) Stats() []infra.LaneStats {
	return p.lanes.Stats()
}
