package cachefabric

import (
	"context"
	"testing"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *mr.Miniredis) {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	c, err := New(context.Background(), Config{Redis: client, Versions: Versions{Bundle: 1, Doc: 1}})
	require.NoError(t, err)
	return c, m
}

func TestCacheGetPutRoundTripsThroughRedis(t *testing.T) {
	c, m := newTestCache(t)
	defer m.Close()
	ctx := context.Background()

	c.Put(ctx, KindBundle, "core", []byte("body-bytes"))

	// clear the in-process overlay to force a Redis hit
	c.mem[KindBundle].Clear()

	got, ok, err := c.Get(ctx, KindBundle, "core")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body-bytes", string(got))
}

func TestCacheMissReturnsFalseNotError(t *testing.T) {
	c, m := newTestCache(t)
	defer m.Close()
	_, ok, err := c.Get(context.Background(), KindDoc, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCacheGetBackfillsOverlayFromRedis(t *testing.T) {
	c, m := newTestCache(t)
	defer m.Close()
	ctx := context.Background()
	c.Put(ctx, KindDoc, "pdf1", []byte("%PDF-1.5"))
	c.mem[KindDoc].Clear()

	_, ok, err := c.Get(ctx, KindDoc, "pdf1")
	require.NoError(t, err)
	require.True(t, ok)

	// second read should now be served from the overlay even if redis is gone
	m.Close()
	got, ok, err := c.Get(ctx, KindDoc, "pdf1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "%PDF-1.5", string(got))
}

func TestCacheWithoutDurableStoresIsMemoryOnly(t *testing.T) {
	c, err := New(context.Background(), Config{Versions: Versions{}})
	require.NoError(t, err)
	ctx := context.Background()
	c.Put(ctx, KindFmt, "f1", []byte("fmt-bytes"))
	got, ok, err := c.Get(ctx, KindFmt, "f1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fmt-bytes", string(got))

	// not_found marking is a no-op without a metadata store
	c.MarkNotFound(ctx, KindCTAN, "missingpkg")
	require.False(t, c.IsNotFound(ctx, KindCTAN, "missingpkg"))
}
