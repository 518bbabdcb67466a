package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

type countingDirectory struct {
	inner Directory
	calls int
}

func (c *countingDirectory) Resolve(ctx context.Context, address string) (Participant, error) {
	c.calls++
	return c.inner.Resolve(ctx, address)
}

func TestCachedDirectoryReadsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	backing := &countingDirectory{inner: NewMemoryStore()}
	dir := NewCachedDirectory(backing, client, time.Minute, logging.Discard())
	ctx := context.Background()

	first, err := dir.Resolve(ctx, "+15550001111")
	require.NoError(t, err)
	second, err := dir.Resolve(ctx, "+15550001111")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backing.calls)
	assert.True(t, mr.Exists(participantKeyPrefix+"+15550001111"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists(participantKeyPrefix+"+15550001111"))
}

func TestCachedDirectoryFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	backing := &countingDirectory{inner: NewMemoryStore()}
	dir := NewCachedDirectory(backing, client, time.Minute, logging.Discard())

	p, err := dir.Resolve(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, 1, backing.calls)
}

func TestCachedDirectoryIgnoresMalformedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(participantKeyPrefix+"x", "not-json"))

	backing := &countingDirectory{inner: NewMemoryStore()}
	dir := NewCachedDirectory(backing, client, time.Minute, logging.Discard())
	p, err := dir.Resolve(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", p.Address)
	assert.Equal(t, 1, backing.calls)
}

func TestNewCachedDirectoryWithoutClient(t *testing.T) {
	store := NewMemoryStore()
	assert.Same(t, store, NewCachedDirectory(store, nil, 0, nil))
}
