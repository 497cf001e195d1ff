package lookupcache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *Redis {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, "test:")
}

func TestRedisGetSet(t *testing.T) {
	c := newTestRedis(t)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", map[string]interface{}{"score": 5.0}, time.Minute)
	v, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"score": 5.0}, v)
}
