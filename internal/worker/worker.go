package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velvetroom/narrative-engine/internal/services/queue"
	"github.com/velvetroom/narrative-engine/internal/storage"
)

const dequeueTimeout = 5 * time.Second

// Worker drains the metric event queue into the aggregated fragment
// counters. Increments are atomic on the storage side, so multiple workers
// can drain the same queue.
type Worker struct {
	id     string
	queue  *queue.MetricsQueue
	store  storage.Storage
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new worker instance.
func New(metricsQueue *queue.MetricsQueue, store storage.Storage, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:     workerID,
		queue:  metricsQueue,
		store:  store,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events from the queue until Stop is called.
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNext(); err != nil {
				w.log.Error("Error processing metric event", "error", err, "worker_id", w.id)
				// Continue processing even on error
				time.Sleep(time.Second)
			}
		}
	}
}

// Stop gracefully shuts down the worker.
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// Drain synchronously processes events until the queue is empty. Used on
// shutdown and in tests.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		event, err := w.queue.Dequeue(ctx)
		if err != nil {
			return processed, err
		}
		if event == nil {
			return processed, nil
		}
		if err := w.apply(ctx, event); err != nil {
			return processed, err
		}
		processed++
	}
}

// processNext blocks for the next event, timing out periodically to check
// for shutdown.
func (w *Worker) processNext() error {
	ctx, cancel := context.WithTimeout(w.ctx, dequeueTimeout+time.Second)
	defer cancel()

	event, err := w.queue.BlockingDequeue(ctx, dequeueTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue metric event: %w", err)
	}
	if event == nil {
		// Timeout with an empty queue, nothing to do.
		return nil
	}
	return w.apply(w.ctx, event)
}

func (w *Worker) apply(ctx context.Context, event *queue.Event) error {
	w.log.Debug("Applying metric event",
		"worker_id", w.id,
		"event_id", event.EventID,
		"kind", event.Kind,
		"story", event.StoryID,
		"fragment", event.FragmentID,
	)

	switch event.Kind {
	case queue.EventKindVisit:
		return w.store.IncrFragmentVisit(ctx, event.StoryID, event.FragmentID)
	case queue.EventKindChoice:
		return w.store.IncrChoice(ctx, event.StoryID, event.FragmentID, event.ChoiceID)
	default:
		return fmt.Errorf("unknown metric event kind: %s", event.Kind)
	}
}
