package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on Redis channels named <prefix><topic>, so every
// instance sharing the Redis server can relay them to its own subscribers.
type RedisPublisher struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPublisher(client redis.UniversalClient, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, payload string) error {
	if err := p.client.Publish(ctx, p.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", p.prefix+topic, err)
	}
	return nil
}

// RedisRelay forwards messages from the Redis topic channels into a local Broker.
type RedisRelay struct {
	client     redis.UniversalClient
	prefix     string
	broker     *Broker
	ready      chan struct{}
	readyOnce  sync.Once
	minBackoff time.Duration
	maxBackoff time.Duration
}

const (
	defaultRelayMinBackoff = 500 * time.Millisecond
	defaultRelayMaxBackoff = 30 * time.Second
)

var errSubscriptionClosed = errors.New("redis subscription closed")

func NewRedisRelay(client redis.UniversalClient, prefix string, broker *Broker) *RedisRelay {
	return &RedisRelay{
		client:     client,
		prefix:     prefix,
		broker:     broker,
		ready:      make(chan struct{}),
		minBackoff: defaultRelayMinBackoff,
		maxBackoff: defaultRelayMaxBackoff,
	}
}

// Ready is closed once the relay's first subscription is confirmed by the server.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Run relays until ctx is cancelled and then returns nil. An unreachable Redis server is
// retried with exponential backoff; local subscribers simply see no remote events meanwhile.
func (r *RedisRelay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		subscribed, err := r.relay(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			backoff = r.minBackoff
		}
		slog.Warn("redis relay interrupted, retrying", "error", err, "retry_in", backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

// relay runs one subscription. subscribed reports whether the server confirmed it.
func (r *RedisRelay) relay(ctx context.Context) (subscribed bool, err error) {
	channels := make([]string, 0, len(Topics))
	for _, topic := range Topics {
		channels = append(channels, r.prefix+topic)
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	defer func() {
		_ = pubsub.Close()
	}()

	// Wait for confirmation so no message published after Ready is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("failed to subscribe to redis channels %v: %w", channels, err)
	}
	r.readyOnce.Do(func() { close(r.ready) })
	slog.Info("relaying redis notifications", "channels", channels)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return true, errSubscriptionClosed
			}
			topic := strings.TrimPrefix(msg.Channel, r.prefix)
			if err := r.broker.Publish(ctx, topic, msg.Payload); err != nil {
				slog.Warn("failed to relay redis notification", "topic", topic, "error", err)
			}
		}
	}
}
