package events

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickigann03/ai-secretary/internal/config"
	"github.com/nickigann03/ai-secretary/internal/logging"
	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/redis"
)

func TestMemoryBusDeliversToSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	var got []Event
	unsubscribe := bus.Subscribe(func(_ context.Context, evt Event) {
		got = append(got, evt)
	})

	m := &models.Meeting{ID: 3, UserID: 9, StageToken: 4, Status: models.StatusProcessingSTT}
	require.NoError(t, bus.Publish(context.Background(), New(AudioStored, m)))
	require.Len(t, got, 1)
	require.Equal(t, AudioStored, got[0].Type)
	require.Equal(t, int64(3), got[0].MeetingID)
	require.Equal(t, int64(9), got[0].OwnerID)
	require.Equal(t, int64(4), got[0].Token)
	require.NotEmpty(t, got[0].ID)

	unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), New(TranscriptReady, m)))
	require.Len(t, got, 1, "unsubscribed handler must not receive events")
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	require.NoError(t, err)
	defer client.Close()

	bus, err := NewRedisBus(context.Background(), client, logging.Nop())
	require.NoError(t, err)
	defer bus.Close()

	ch := make(chan Event, 1)
	bus.Subscribe(func(_ context.Context, evt Event) { ch <- evt })

	m := &models.Meeting{ID: 11, UserID: 2, Status: models.StatusProcessingLLM}
	require.NoError(t, bus.Publish(context.Background(), New(TranscriptReady, m)))
	select {
	case evt := <-ch:
		require.Equal(t, TranscriptReady, evt.Type)
		require.Equal(t, int64(11), evt.MeetingID)
	case <-time.After(2 * time.Second):
		t.Fatalf("did not receive event")
	}
}
