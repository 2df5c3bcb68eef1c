package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nickigann03/ai-secretary/internal/redis"
)

const redisEventsChannel = "pipeline:events"

// RedisBus fans events out through redis pub/sub so every process sees every event.
// Duplicate deliveries across processes are expected; stage tokens discard the extras.
type RedisBus struct {
	client *redis.Client
	log    zerolog.Logger
	subs   handlers
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisBus subscribes to the events channel and starts the listener.
func NewRedisBus(ctx context.Context, client *redis.Client, log zerolog.Logger) (*RedisBus, error) {
	listenCtx, cancel := context.WithCancel(ctx)
	ps, err := client.Subscribe(listenCtx, redisEventsChannel)
	if err != nil {
		cancel()
		return nil, err
	}
	b := &RedisBus{
		client: client,
		log:    log.With().Str("component", "event-bus").Logger(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-listenCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.log.Warn().Err(err).Msg("event decode failed")
					continue
				}
				b.subs.dispatch(listenCtx, evt)
			}
		}
	}()
	return b, nil
}

func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, redisEventsChannel, payload); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(h Handler) func() {
	return b.subs.add(h)
}

func (b *RedisBus) Close() error {
	b.cancel()
	<-b.done
	return nil
}
