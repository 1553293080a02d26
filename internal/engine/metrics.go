package engine

import (
	"context"

	"github.com/velvetroom/narrative-engine/internal/storage"
)

// StorageMetrics records traversal metrics straight into the storage
// counters, for deployments without a metrics worker. The queue-backed
// recorder in internal/services/queue is the asynchronous alternative.
type StorageMetrics struct {
	Store storage.Storage
}

var _ MetricsRecorder = StorageMetrics{}

func (s StorageMetrics) RecordVisit(ctx context.Context, storyID, fragmentID string) error {
	return s.Store.IncrFragmentVisit(ctx, storyID, fragmentID)
}

func (s StorageMetrics) RecordChoice(ctx context.Context, storyID, fragmentID, choiceID string) error {
	return s.Store.IncrChoice(ctx, storyID, fragmentID, choiceID)
}
