package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr
}

func TestRedisStoreKeyValue(t *testing.T) {
	mr := setupMiniRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	_, ok, err := store.Get(ctx, "eisenhower_uuid")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "eisenhower_uuid", "abc"))
	value, ok, err := store.Get(ctx, "eisenhower_uuid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", value)
	assert.True(t, mr.Exists("notegrid:eisenhower_uuid"))

	require.NoError(t, store.Delete(ctx, "eisenhower_uuid"))
	_, ok, err = store.Get(ctx, "eisenhower_uuid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreSyncLogIsBounded(t *testing.T) {
	mr := setupMiniRedis(t)
	ctx := context.Background()

	store, err := NewRedisStore(RedisConfig{Address: mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	defer store.Close()
	store.LogLimit = 2

	for _, detail := range []string{"one", "two", "three"} {
		_, err := store.AppendSyncLog(ctx, "write_failed", detail)
		require.NoError(t, err)
	}

	entries, err := store.ListSyncLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "three", entries[0].Detail)
	assert.Equal(t, "two", entries[1].Detail)
	assert.Equal(t, int64(3), entries[0].ID)
}

func TestNewRedisStoreFailsWithoutServer(t *testing.T) {
	mr := setupMiniRedis(t)
	mr.RequireAuth("secret")

	_, err := NewRedisStore(RedisConfig{Address: mr.Addr()})
	assert.Error(t, err)

	store, err := NewRedisStore(RedisConfig{Address: mr.Addr(), Password: "secret"})
	require.NoError(t, err)
	assert.NoError(t, store.Close())
}
