package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/redis/go-redis/v9"
)

// RedisBroker fans payloads out across instances with Redis pub/sub.
type RedisBroker struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisBroker creates a broker over rdb.
func NewRedisBroker(rdb *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, topic, payload string) error {
	return b.rdb.Publish(ctx, topic, payload).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	// The first reply is the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	in := pubsub.Channel()
	out := make(chan string, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic in redis subscriber",
					slog.Any("panic", r),
					slog.String("topic", topic),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				default:
					droppedPayloads.WithLabelValues("redis").Inc()
				}
			}
		}
	}()

	return &Subscription{
		C: out,
		closeFn: func() {
			close(done)
			_ = pubsub.Close()
		},
	}, nil
}
