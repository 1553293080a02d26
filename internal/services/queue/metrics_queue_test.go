package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *MetricsQueue {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewMetricsQueue(NewClientFromRedis(rdb, logger))
}

func TestMetricsQueue_FIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RecordVisit(ctx, "free", "f0"))
	require.NoError(t, q.RecordChoice(ctx, "free", "f1", "a"))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	event, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, EventKindVisit, event.Kind)
	assert.Equal(t, "free", event.StoryID)
	assert.Equal(t, "f0", event.FragmentID)
	assert.NotEmpty(t, event.EventID)

	event, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, EventKindChoice, event.Kind)
	assert.Equal(t, "f1", event.FragmentID)
	assert.Equal(t, "a", event.ChoiceID)
}

func TestMetricsQueue_EmptyDequeue(t *testing.T) {
	q := newTestQueue(t)

	event, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestMetricsQueue_BlockingDequeue(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.RecordVisit(ctx, "free", "f0"))

	event, err := q.BlockingDequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "f0", event.FragmentID)
}
