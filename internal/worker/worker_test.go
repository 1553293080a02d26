package worker

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvetroom/narrative-engine/internal/services/queue"
	"github.com/velvetroom/narrative-engine/internal/storage"
)

func newTestWorker(t *testing.T) (*Worker, *queue.MetricsQueue, *storage.MockStorage) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	q := queue.NewMetricsQueue(queue.NewClientFromRedis(rdb, logger))
	store := storage.NewMockStorage()
	return New(q, store, logger, "test-worker"), q, store
}

func TestDrain_AggregatesEvents(t *testing.T) {
	w, q, store := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, q.RecordVisit(ctx, "free", "f0"))
	require.NoError(t, q.RecordVisit(ctx, "free", "f0"))
	require.NoError(t, q.RecordVisit(ctx, "free", "f1"))
	require.NoError(t, q.RecordChoice(ctx, "free", "f1", "a"))
	require.NoError(t, q.RecordChoice(ctx, "free", "f1", "a"))
	require.NoError(t, q.RecordChoice(ctx, "free", "f1", "b"))

	processed, err := w.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, processed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	m, err := store.GetFragmentMetrics(ctx, "free", "f0")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.TimesVisited)

	m, err = store.GetFragmentMetrics(ctx, "free", "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TimesVisited)
	assert.Equal(t, int64(2), m.ChoiceDistribution["a"])
	assert.Equal(t, int64(1), m.ChoiceDistribution["b"])
}

func TestDrain_EmptyQueue(t *testing.T) {
	w, _, _ := newTestWorker(t)

	processed, err := w.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}
