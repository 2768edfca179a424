package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBus publishes and subscribes over Redis pub/sub.
type RedisBus struct {
	client *redis.Client
	ctx    context.Context
}

// DialRedis connects to a Redis server at addr.
func DialRedis(addr string) *RedisBus {
	return &RedisBus{client: redis.NewClient(&redis.Options{Addr: addr}), ctx: context.Background()}
}

func (b *RedisBus) Publish(subject string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal: %w", err)
	}
	if err := b.client.Publish(b.ctx, subject, raw).Err(); err != nil {
		return fmt.Errorf("eventbus: redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(subject string) (<-chan []byte, func(), error) {
	sub := b.client.Subscribe(b.ctx, subject)
	msgs := sub.Channel()

	ch := make(chan []byte, 64)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case ch <- []byte(msg.Payload):
				default:
				}
			}
		}
	}()

	cancel := func() {
		close(stop)
		_ = sub.Close()
		close(ch)
	}
	return ch, cancel, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
