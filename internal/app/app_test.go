package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/towndir/internal/cache"
	"github.com/jwalitptl/towndir/internal/config"
	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/pkg/logger"
)

func TestConnectRedis_UnreachableAtStartup(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	client, err := ConnectRedis(ctx, config.RedisConfig{
		URL:         "redis://" + addr,
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	}, logger.Nop())
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	key := cache.TownKey("springfield")
	m, err := cache.NewManager(cache.Config{
		KeyPrefix:       "test:",
		RemoteTimeout:   200 * time.Millisecond,
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	}, cache.LoaderFunc(func(context.Context, string) ([]byte, error) {
		return []byte(`{"name":"Springfield"}`), nil
	}), cache.WithRedis(client))
	require.NoError(t, err)
	assert.NotEqual(t, "disabled", m.RemoteState())

	_, tier, err := m.Get(ctx, key)
	require.NoError(t, err, "reads fall through while redis is down")
	assert.Equal(t, model.TierDatabase, tier)

	err = m.Invalidate(ctx, key)
	assert.ErrorIs(t, err, cache.ErrInvalidationIncomplete)

	require.NoError(t, srv.Restart())
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, srv.Set("test:"+key, "stale"))

	require.NoError(t, m.Invalidate(ctx, key))
	assert.False(t, srv.Exists("test:"+key))
}

func TestConnectRedis_BadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), config.RedisConfig{URL: "not a url"}, logger.Nop())
	assert.Error(t, err)
}
