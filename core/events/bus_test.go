package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/common/logger"
	"github.com/iceos-ai/iceos/common/redis"
	"github.com/iceos-ai/iceos/core/model"
)

func testBus(t *testing.T) (*Bus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), logger.Discard())
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBus(rdb, time.Hour, logger.Discard()), mr
}

func TestEmit_LocalHandlers(t *testing.T) {
	bus := NewBus(nil, 0, logger.Discard())

	var got []model.EventType
	bus.Subscribe(func(_ context.Context, ev model.ExecutionEvent) error {
		got = append(got, ev.EventType)
		return nil
	})

	bus.Emit(context.Background(), model.NewEvent(model.EventWorkflowStarted, "run-1"))
	bus.Emit(context.Background(), model.NewEvent(model.EventWorkflowCompleted, "run-1"))

	assert.Equal(t, []model.EventType{model.EventWorkflowStarted, model.EventWorkflowCompleted}, got)
}

func TestEmit_HandlerErrorsDoNotPropagate(t *testing.T) {
	bus := NewBus(nil, 0, logger.Discard())

	calls := 0
	bus.Subscribe(func(context.Context, model.ExecutionEvent) error {
		return errors.New("handler broke")
	})
	bus.Subscribe(func(context.Context, model.ExecutionEvent) error {
		calls++
		return nil
	})

	bus.Emit(context.Background(), model.NewEvent(model.EventNodeStarted, "run-1"))
	assert.Equal(t, 1, calls, "later handlers still run")
}

func TestEmit_HandlerPanicsAreContained(t *testing.T) {
	bus := NewBus(nil, 0, logger.Discard())
	bus.Subscribe(func(context.Context, model.ExecutionEvent) error {
		panic("boom")
	})

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), model.NewEvent(model.EventNodeStarted, "run-1"))
	})
}

func TestEmit_WritesToStream(t *testing.T) {
	bus, mr := testBus(t)
	ctx := context.Background()

	bus.Emit(ctx, model.NewEvent(model.EventWorkflowStarted, "run-7").WithField("total_nodes", 3))
	bus.Emit(ctx, model.NewEvent(model.EventNodeCompleted, "run-7").WithNode("fetch").WithLevel(1))

	replayed, err := bus.Replay(ctx, "run-7", "0", 100)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.Equal(t, model.EventWorkflowStarted, replayed[0].Event.EventType)
	assert.Equal(t, model.EventNodeCompleted, replayed[1].Event.EventType)
	assert.Equal(t, "fetch", replayed[1].Event.NodeID)
	assert.NotEmpty(t, replayed[0].ID)

	assert.Greater(t, mr.TTL(StreamKey("run-7")), time.Duration(0), "stream carries retention TTL")
}

func TestReplay_Cursor(t *testing.T) {
	bus, _ := testBus(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		bus.Emit(ctx, model.NewEvent(model.EventNodeProgress, "run-9").WithField("i", i))
	}

	all, err := bus.Replay(ctx, "run-9", "0", 100)
	require.NoError(t, err)
	require.Len(t, all, 3)

	rest, err := bus.Replay(ctx, "run-9", all[0].ID, 100)
	require.NoError(t, err)
	require.Len(t, rest, 2, "cursor is exclusive")
	assert.Equal(t, all[1].ID, rest[0].ID)
}

func TestReplay_EmptyStream(t *testing.T) {
	bus, _ := testBus(t)

	events, err := bus.Replay(context.Background(), "no-such-run", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
