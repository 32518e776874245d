package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBroker_PublishSubscribe(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := NewClient(ctx, Config{URL: "redis://" + srv.Addr()})
	require.NoError(t, err)
	defer client.Close()

	logger := zerolog.Nop()
	broker := NewRedisBroker(client, &logger)

	msgs, err := broker.Subscribe(ctx, "cache:invalidate")
	require.NoError(t, err)

	require.NoError(t, broker.Publish(ctx, "cache:invalidate", map[string]string{"key": "homepage"}))

	select {
	case msg := <-msgs:
		assert.JSONEq(t, `{"key":"homepage"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(context.Background(), Config{URL: "not a url"})
	assert.Error(t, err)
}
