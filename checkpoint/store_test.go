package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantris/erpagent/types"
)

// runStoreContract exercises the Store contract every backend must honor.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	// Unknown thread is not-found, the start-of-conversation case.
	_, err := store.Get(ctx, "no-such-thread")
	assert.ErrorIs(t, err, ErrNotFound)

	// Empty thread id is rejected.
	_, err = store.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidThread)
	assert.ErrorIs(t, store.Put(ctx, nil), ErrInvalidThread)

	// Put then Get round-trips.
	state := types.NewExecutionState("thread-1")
	state.Append(types.NewUserMessage("hello"))
	state.CorrectionAttempts = 1
	require.NoError(t, store.Put(ctx, state))

	got, err := store.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.Equal(t, 1, got.CorrectionAttempts)

	// Latest wins: a second Put fully replaces the first.
	state.Append(types.NewAssistantMessage("hi"))
	state.CorrectionAttempts = 0
	require.NoError(t, store.Put(ctx, state))

	got, err = store.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Zero(t, got.CorrectionAttempts)

	// Returned state is a copy; mutating it does not leak into the store.
	got.Append(types.NewUserMessage("local only"))
	again, err := store.Get(ctx, "thread-1")
	require.NoError(t, err)
	assert.Len(t, again.Messages, 2)

	// Delete is explicit and exact.
	require.NoError(t, store.Delete(ctx, "thread-1"))
	_, err = store.Get(ctx, "thread-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "thread-1"), ErrNotFound)

	assert.NoError(t, store.Ping(ctx))
}

func TestMemoryStore_Contract(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	runStoreContract(t, store)
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Close())

	_, err := store.Get(context.Background(), "t")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Put(context.Background(), types.NewExecutionState("t")), ErrStoreClosed)
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStoreClosed)
}

func TestFileStore_Contract(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()
	runStoreContract(t, store)
}

func TestFileStore_CorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	defer store.Close()

	// Write garbage where the snapshot should be.
	path := filepath.Join(dir, "checkpoints", "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = store.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	state := types.NewExecutionState("persistent")
	state.Append(types.NewUserMessage("remember me"))
	require.NoError(t, store.Put(context.Background(), state))
	require.NoError(t, store.Close())

	// A fresh store over the same directory sees the snapshot, which is
	// what makes resume-after-restart work.
	reopened, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "persistent")
	require.NoError(t, err)
	assert.Equal(t, "remember me", got.Messages[0].Content)
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "", nil)
	defer store.Close()
	runStoreContract(t, store)
}

func TestRedisStore_CorruptCheckpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "", nil)
	defer store.Close()

	require.NoError(t, mr.Set("erpagent:checkpoint:broken", "{not json"))

	_, err := store.Get(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFactory(t *testing.T) {
	store, err := New(Config{Type: StoreTypeMemory}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = New(Config{Type: StoreTypeFile, BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	// Default is memory.
	store, err = New(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = New(Config{Type: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
