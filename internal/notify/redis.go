package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/erazemk/lostfound/internal/model"
)

// DefaultChannel is the Redis channel change events are published on.
const DefaultChannel = "lostfound:changes"

const (
	// outboxSize is how many local events may wait to be published to Redis.
	// Events beyond that are dropped.
	outboxSize = 64

	publishTimeout = 2 * time.Second
)

// Connect initializes a Redis client from a redis:// URL or a host:port address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisBridge relays change events between the local hub and other server
// instances through a Redis pub/sub channel.
type RedisBridge struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
	outbox  chan model.ChangeEvent
}

// NewRedisBridge attaches a bridge to hub. Events published on the hub are
// queued for Redis; Run publishes them and delivers events from other
// instances to the hub. Publishing on the hub never waits on Redis.
func NewRedisBridge(client *redis.Client, hub *Hub, channel string) *RedisBridge {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &RedisBridge{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		outbox:  make(chan model.ChangeEvent, outboxSize),
	}

	hub.mu.Lock()
	hub.forward = b.forward
	hub.mu.Unlock()

	return b
}

// Origin returns the instance ID stamped on forwarded events.
func (b *RedisBridge) Origin() string {
	return b.origin
}

// forward queues a locally published event for Redis without blocking.
func (b *RedisBridge) forward(ev model.ChangeEvent) {
	if ev.Origin != "" {
		return
	}
	ev.Origin = b.origin

	select {
	case b.outbox <- ev:
	default:
		slog.Warn("dropping change event for redis", "table", ev.Table, "id", ev.ID)
	}
}

// publishLoop drains the outbox until ctx is done.
func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.outbox:
			b.publish(ctx, ev)
		}
	}
}

func (b *RedisBridge) publish(ctx context.Context, ev model.ChangeEvent) {
	payload, err := encodeEvent(ev)
	if err != nil {
		slog.Error("encoding change event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		slog.Error("publishing change event to redis", "channel", b.channel, "error", err)
	}
}

// Run publishes queued local events and delivers remote events to the hub
// until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go b.publishLoop(ctx)

	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}
	slog.Info("redis bridge subscribed", "channel", b.channel, "origin", b.origin)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			ev, err := decodeEvent(msg.Payload)
			if err != nil {
				slog.Warn("ignoring malformed change event", "error", err)
				continue
			}
			if ev.Origin == b.origin {
				continue
			}
			b.hub.deliver(ev)
		}
	}
}

func encodeEvent(ev model.ChangeEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeEvent(payload string) (model.ChangeEvent, error) {
	var ev model.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return ev, fmt.Errorf("decoding change event: %w", err)
	}
	if ev.Table == "" {
		return ev, fmt.Errorf("decoding change event: missing table")
	}
	return ev, nil
}
