package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/velvetroom/narrative-engine/internal/engine"
)

// metricsQueueKey is the global list holding pending metric events.
const metricsQueueKey = "queue:narrative:metrics"

// EventKind identifies the type of metric event in the queue.
type EventKind string

const (
	// EventKindVisit records a fragment visit.
	EventKindVisit EventKind = "visit"

	// EventKindChoice records a choice taken on a decision fragment.
	EventKindChoice EventKind = "choice"
)

// Event is one traversal metric waiting to be aggregated by the worker.
type Event struct {
	EventID    string    `json:"event_id"`
	Kind       EventKind `json:"kind"`
	StoryID    string    `json:"story_id"`
	FragmentID string    `json:"fragment_id"`
	ChoiceID   string    `json:"choice_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// MetricsQueue buffers traversal metrics in a Redis list so transitions are
// never slowed by counter writes. It satisfies the engine's MetricsRecorder
// port; the worker drains it into the aggregated counters.
type MetricsQueue struct {
	client *Client
}

var _ engine.MetricsRecorder = (*MetricsQueue)(nil)

func NewMetricsQueue(client *Client) *MetricsQueue {
	return &MetricsQueue{client: client}
}

// RecordVisit enqueues a visit event.
func (q *MetricsQueue) RecordVisit(ctx context.Context, storyID, fragmentID string) error {
	return q.enqueue(ctx, Event{
		EventID:    uuid.New().String(),
		Kind:       EventKindVisit,
		StoryID:    storyID,
		FragmentID: fragmentID,
		EnqueuedAt: time.Now().UTC(),
	})
}

// RecordChoice enqueues a choice event.
func (q *MetricsQueue) RecordChoice(ctx context.Context, storyID, fragmentID, choiceID string) error {
	return q.enqueue(ctx, Event{
		EventID:    uuid.New().String(),
		Kind:       EventKindChoice,
		StoryID:    storyID,
		FragmentID: fragmentID,
		ChoiceID:   choiceID,
		EnqueuedAt: time.Now().UTC(),
	})
}

func (q *MetricsQueue) enqueue(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize metric event: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, metricsQueueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue metric event: %w", err)
	}
	return nil
}

// Dequeue removes and returns the next event. Returns nil when the queue is
// empty.
func (q *MetricsQueue) Dequeue(ctx context.Context) (*Event, error) {
	result, err := q.client.rdb.LPop(ctx, metricsQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue metric event: %w", err)
	}
	return parseEvent(result)
}

// BlockingDequeue blocks until an event is available or the timeout passes.
// Returns nil on timeout.
func (q *MetricsQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*Event, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, metricsQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue metric event: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return parseEvent(result[1])
}

// Depth returns the number of pending events.
func (q *MetricsQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, metricsQueueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get metrics queue depth: %w", err)
	}
	return int(count), nil
}

func parseEvent(data string) (*Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse metric event: %w", err)
	}
	return &event, nil
}
