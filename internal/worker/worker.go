package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/researcher/internal/queue/streams"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

const (
	// StreamRefreshEnqueued carries scheduled refresh jobs from the
	// scheduler to the worker pool.
	StreamRefreshEnqueued = "refresh.enqueued"
	// GroupRefreshWorkers is the consumer group all workers join.
	GroupRefreshWorkers = "refresh-workers"

	readBlock    = 5 * time.Second
	readCount    = 16
	claimEvery   = time.Minute
	claimMinIdle = 2 * time.Minute
)

// RefreshJob mirrors the JSON payload published to refresh.enqueued.
type RefreshJob struct {
	ScheduleID     string `json:"schedule_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
}

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	MarkScheduleRun(ctx context.Context, scheduleID string) error
}

// Runner executes one research run. The orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req research.Request, emit research.EmitFunc) (*research.Surface, error)
}

// Indexer makes a persisted surface findable.
type Indexer interface {
	IndexSurface(surfaceID, userID, conversationID string, s *research.Surface) error
}

// Worker consumes refresh.enqueued events and executes each job as a
// headless research run. Runs stream no events; the refreshed surface is
// persisted and indexed like any interactive one.
type Worker struct {
	logger      *log.Logger
	store       StoreAPI
	runner      Runner
	index       Indexer
	consumer    *streams.Consumer
	stream      string
	tracer      trace.Tracer
	jobCounter  otelmetric.Int64Counter
	skipCounter otelmetric.Int64Counter
	failCounter otelmetric.Int64Counter

	claimCursor string
	lastClaim   time.Time
}

// NewWorker constructs a Worker.
func NewWorker(logger *log.Logger, st StoreAPI, runner Runner, idx Indexer, cons *streams.Consumer, stream string, meter otelmetric.Meter, tracer trace.Tracer) *Worker {
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("worker")
	}
	if stream == "" {
		stream = StreamRefreshEnqueued
	}

	w := &Worker{
		logger:      logger,
		store:       st,
		runner:      runner,
		index:       idx,
		consumer:    cons,
		stream:      stream,
		tracer:      tracer,
		claimCursor: "0-0",
	}
	if meter != nil {
		var err error
		w.jobCounter, err = meter.Int64Counter("worker_refreshes_processed")
		if err != nil {
			logger.Printf("warn: create job counter failed: %v", err)
		}
		w.skipCounter, err = meter.Int64Counter("worker_refreshes_skipped")
		if err != nil {
			logger.Printf("warn: create skip counter failed: %v", err)
		}
		w.failCounter, err = meter.Int64Counter("worker_refreshes_failed")
		if err != nil {
			logger.Printf("warn: create fail counter failed: %v", err)
		}
	}
	return w
}

// Start blocks, continuously processing refresh events until the context is
// cancelled. Pending messages from dead consumers are reclaimed periodically.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Printf("worker starting; consuming stream %s", w.stream)

	for {
		select {
		case <-ctx.Done():
			w.logger.Printf("worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		if time.Since(w.lastClaim) >= claimEvery {
			w.reclaim(ctx)
			w.lastClaim = time.Now()
		}

		msgs, err := w.consumer.Read(ctx, w.stream, streams.WithBlock(readBlock), streams.WithCount(readCount))
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		w.handleBatch(ctx, msgs)
	}
}

func (w *Worker) handleBatch(ctx context.Context, msgs []streams.Message) {
	for _, msg := range msgs {
		if err := w.handleRefresh(ctx, msg); err != nil {
			w.logger.Printf("error handling refresh message %s: %v", msg.ID, err)
		}
		if err := w.consumer.Ack(ctx, w.stream, msg.ID); err != nil {
			w.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
		}
	}
}

func (w *Worker) handleRefresh(ctx context.Context, msg streams.Message) error {
	ctx, span := w.tracer.Start(ctx, "worker.handle_refresh")
	defer span.End()

	claimed, err := w.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		w.logger.Printf("skip event %s: already processed", msg.Envelope.EventID)
		if w.skipCounter != nil {
			w.skipCounter.Add(ctx, 1)
		}
		return nil
	}

	var job RefreshJob
	if err := json.Unmarshal(msg.Envelope.Data, &job); err != nil {
		return fmt.Errorf("unmarshal refresh payload: %w", err)
	}
	if job.UserID == "" || job.ConversationID == "" || job.Query == "" {
		return fmt.Errorf("refresh payload incomplete: user=%q conversation=%q", job.UserID, job.ConversationID)
	}

	req := research.Request{
		UserID:         job.UserID,
		ConversationID: job.ConversationID,
		Query:          job.Query,
	}
	surface, err := w.runner.Run(ctx, req, nil)
	if err != nil {
		if w.failCounter != nil {
			w.failCounter.Add(ctx, 1)
		}
		return fmt.Errorf("refresh run for conversation %s: %w", job.ConversationID, err)
	}

	// A surface without an id was not persisted; there is nothing to index.
	if w.index != nil && surface.ID != "" {
		if err := w.index.IndexSurface(surface.ID, job.UserID, job.ConversationID, surface); err != nil {
			w.logger.Printf("warn: indexing surface %s failed: %v", surface.ID, err)
		}
	}
	if job.ScheduleID != "" {
		if err := w.store.MarkScheduleRun(ctx, job.ScheduleID); err != nil {
			w.logger.Printf("warn: marking schedule %s run failed: %v", job.ScheduleID, err)
		}
	}
	if w.jobCounter != nil {
		w.jobCounter.Add(ctx, 1)
	}
	return nil
}

// reclaim takes over messages left pending by dead consumers and replays
// them. The idempotency claim keeps replays from re-running finished jobs.
func (w *Worker) reclaim(ctx context.Context) {
	msgs, next, err := w.consumer.AutoClaim(ctx, w.stream, claimMinIdle, w.claimCursor, readCount)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Printf("warn: autoclaim failed: %v", err)
		}
		return
	}
	if next != "" {
		w.claimCursor = next
	}
	if len(msgs) > 0 {
		w.logger.Printf("reclaimed %d pending refresh messages", len(msgs))
		w.handleBatch(ctx, msgs)
	}
}
