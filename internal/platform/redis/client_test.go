package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smregister/internal/platform/config"
)

func TestNewDisabledWithoutURL(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestOptions(t *testing.T) {
	t.Run("overlays configured values", func(t *testing.T) {
		opts, err := Options(config.RedisConfig{
			URL:          "redis://:pw@cache:6380/2",
			PoolSize:     7,
			MinIdleConns: 3,
			DialTimeout:  time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 4 * time.Second,
		})
		require.NoError(t, err)
		assert.Equal(t, "cache:6380", opts.Addr)
		assert.Equal(t, "pw", opts.Password)
		assert.Equal(t, 2, opts.DB)
		assert.Equal(t, 7, opts.PoolSize)
		assert.Equal(t, 3, opts.MinIdleConns)
		assert.Equal(t, time.Second, opts.DialTimeout)
		assert.Equal(t, 2*time.Second, opts.ReadTimeout)
		assert.Equal(t, 4*time.Second, opts.WriteTimeout)
	})

	t.Run("zero values keep defaults from the URL", func(t *testing.T) {
		opts, err := Options(config.RedisConfig{URL: "redis://localhost:6379"})
		require.NoError(t, err)
		assert.Equal(t, "localhost:6379", opts.Addr)
		assert.Zero(t, opts.PoolSize)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := Options(config.RedisConfig{URL: "http://not-redis"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse redis URL")
	})
}
