package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventsChannel = "classpoll:events"
	eventTTL      = 5 * time.Second
)

// redisPayload is the message published to Redis for cross-instance broadcast.
type redisPayload struct {
	Event  string          `json:"event"`
	Target string          `json:"target,omitempty"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub implements RedisPublisher and RedisSubscriber using Redis pub/sub.
type RedisPubSub struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for poll events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, channel: eventsChannel, logger: logger}
}

// PublishEvent publishes an event to the shared events channel.
func (r *RedisPubSub) PublishEvent(event, target string, payload []byte) error {
	body, err := json.Marshal(redisPayload{Event: event, Target: target, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTTL)
	defer cancel()
	return r.client.Publish(ctx, r.channel, body).Err()
}

// SubscribeEvents subscribes to the events channel and calls handler for each message.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeEvents(handler func(event, target string, payload []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, r.channel)
	_, err = pubsub.Receive(ctx)
	if err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p redisPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.logger.Warn("bad event on redis channel", zap.Error(err))
					continue
				}
				handler(p.Event, p.Target, p.Data)
			}
		}
	}()
	return cancelCtx, nil
}
