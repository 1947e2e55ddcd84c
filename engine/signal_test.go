package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantris/erpagent/types"
)

func samplePending(tool string) types.PendingToolCall {
	return types.PendingToolCall{
		Specialist: "sales",
		Task:       "create the order",
		Call:       types.ToolCall{ID: "c1", Name: tool},
		RaisedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemorySignal_SetGetClear(t *testing.T) {
	s := NewMemorySignal()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "t1", samplePending("create_sales_order")))
	got, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "create_sales_order", got.Call.Name)

	require.NoError(t, s.Clear(ctx, "t1"))
	_, ok, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySignal_Subscribe(t *testing.T) {
	s := NewMemorySignal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "t1", samplePending("create_sales_order")))
	select {
	case ev := <-ch:
		require.NotNil(t, ev)
		assert.Equal(t, "create_sales_order", ev.Call.Name)
	case <-time.After(time.Second):
		t.Fatal("no set event")
	}

	require.NoError(t, s.Clear(ctx, "t1"))
	select {
	case ev := <-ch:
		assert.Nil(t, ev)
	case <-time.After(time.Second):
		t.Fatal("no clear event")
	}
}

func TestMemorySignal_SubscriberIsolation(t *testing.T) {
	s := NewMemorySignal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other, err := s.Subscribe(ctx, "other-thread")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "t1", samplePending("create_sales_order")))
	select {
	case <-other:
		t.Fatal("event leaked across threads")
	case <-time.After(50 * time.Millisecond):
	}
}

func newRedisSignal(t *testing.T) *RedisSignal {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSignal(client, nil)
}

func TestRedisSignal_SetGetClear(t *testing.T) {
	s := newRedisSignal(t)
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := samplePending("create_sales_order")
	require.NoError(t, s.Set(ctx, "t1", want))

	got, ok, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Call.Name, got.Call.Name)
	assert.Equal(t, want.Specialist, got.Specialist)

	require.NoError(t, s.Clear(ctx, "t1"))
	_, ok, err = s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSignal_Subscribe(t *testing.T) {
	s := newRedisSignal(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "t1")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "t1", samplePending("create_sales_order")))
	select {
	case ev := <-ch:
		require.NotNil(t, ev)
		assert.Equal(t, "create_sales_order", ev.Call.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no set event")
	}

	require.NoError(t, s.Clear(ctx, "t1"))
	select {
	case ev := <-ch:
		assert.Nil(t, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no clear event")
	}
}
