package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
)

// DefaultChannel is the Redis channel instances exchange feed events on.
const DefaultChannel = "kyc-shield:feed"

// RedisRelay mirrors hub events across instances through Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	ready   chan struct{}
	log     zerolog.Logger
}

// NewRedisRelay creates a relay and attaches it to hub.
func NewRedisRelay(client *redis.Client, hub *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	r := &RedisRelay{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		ready:   make(chan struct{}),
		log:     logging.For("feed-relay"),
	}
	hub.Attach(r)
	return r
}

// Forward publishes ev stamped with this instance's origin.
func (r *RedisRelay) Forward(ctx context.Context, ev Event) error {
	ev.Origin = r.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode feed event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// Ready is closed once the relay's subscription is confirmed.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Start redelivers events published by other instances until ctx ends.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	r.log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("feed relay subscribed")

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.Warn().Err(err).Msg("dropping malformed feed event")
				continue
			}
			if ev.Origin == r.origin {
				continue
			}
			r.hub.Deliver(ev)
		}
	}
}
