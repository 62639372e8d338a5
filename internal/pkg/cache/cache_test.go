package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *miniredis.Miniredis {
	s := miniredis.RunT(t)
	SetClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	t.Cleanup(func() { SetClient(nil) })
	return s
}

type sample struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func TestJSONRoundTripWithTTL(t *testing.T) {
	s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, SetJSON(ctx, "tenant:acme", sample{ID: 1, Name: "Acme"}, time.Minute))

	var got sample
	require.NoError(t, GetJSON(ctx, "tenant:acme", &got))
	assert.Equal(t, sample{ID: 1, Name: "Acme"}, got)

	s.FastForward(2 * time.Minute)
	assert.ErrorIs(t, GetJSON(ctx, "tenant:acme", &got), ErrMiss)
}

func TestDelete(t *testing.T) {
	setupRedis(t)
	ctx := context.Background()

	require.NoError(t, Set(ctx, "a", "1", 0))
	require.NoError(t, Set(ctx, "b", "2", 0))
	require.NoError(t, Delete(ctx, "a", "b"))

	_, err := Get(ctx, "a")
	assert.ErrorIs(t, err, redis.Nil)
}
