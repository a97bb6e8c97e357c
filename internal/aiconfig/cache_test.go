package aiconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinicdesk/pkg/logging"
)

type countingStore struct {
	*MemoryStore
	gets int
	err  error
}

func (s *countingStore) GetAIConfiguration(ctx context.Context) (Config, error) {
	s.gets++
	if s.err != nil {
		return Config{}, s.err
	}
	return s.MemoryStore.GetAIConfiguration(ctx)
}

func TestCachedStoreServesFromRedisUntilExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, client, time.Minute, logging.Discard())
	ctx := context.Background()

	first, err := store.GetAIConfiguration(ctx)
	require.NoError(t, err)
	second, err := store.GetAIConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, inner.gets)
	assert.True(t, mr.Exists(cacheKey))

	mr.FastForward(2 * time.Minute)
	_, err = store.GetAIConfiguration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.gets)
}

func TestCachedStoreSaveRefreshesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, client, time.Minute, logging.Discard())
	ctx := context.Background()

	_, err := store.GetAIConfiguration(ctx)
	require.NoError(t, err)

	cfg := Default()
	cfg.Enabled = false
	_, err = store.SaveAIConfiguration(ctx, cfg)
	require.NoError(t, err)

	current, err := store.GetAIConfiguration(ctx)
	require.NoError(t, err)
	assert.False(t, current.Enabled)
	assert.Equal(t, 1, inner.gets)

	require.NoError(t, store.Invalidate(ctx))
	assert.False(t, mr.Exists(cacheKey))
}

func TestCachedStoreFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, client, time.Minute, logging.Discard())
	mr.Close()

	cfg, err := store.GetAIConfiguration(context.Background())
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}

func TestCachedStoreIgnoresCorruptEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set(cacheKey, "{not json"))
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	store := NewCachedStore(inner, client, time.Minute, logging.Discard())

	_, err := store.GetAIConfiguration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
}

func TestCachedStorePropagatesStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := &countingStore{MemoryStore: NewMemoryStore(), err: errors.New("db down")}
	store := NewCachedStore(inner, client, time.Minute, logging.Discard())

	_, err := store.GetAIConfiguration(context.Background())
	require.Error(t, err)
}
