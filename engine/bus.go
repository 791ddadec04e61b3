// ABOUTME: In-process topic bus: the message-boundary between notification
// ABOUTME: producers, the RPC surface, and the decision engine

package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openstack/watcher-sub000/pool"
)

// Bus is a topic-based publish/subscribe fabric. Subscribers run on a
// shared worker pool, so a slow handler never blocks the publisher.
type Bus struct {
	workers *pool.Pool

	mu   sync.RWMutex
	subs map[string][]func(context.Context, any)
}

func NewBus(workers *pool.Pool) *Bus {
	return &Bus{
		workers: workers,
		subs:    make(map[string][]func(context.Context, any)),
	}
}

// Subscribe registers fn for every message published to topic.
func (b *Bus) Subscribe(topic string, fn func(context.Context, any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], fn)
}

// Publish delivers payload to every subscriber of topic. Delivery is
// asynchronous; Publish returns once every handler is scheduled.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	b.mu.RLock()
	handlers := append([]func(context.Context, any){}, b.subs[topic]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		slog.Debug("No subscribers for topic", "topic", topic)
		return nil
	}
	for _, fn := range handlers {
		if err := b.workers.Submit(ctx, "bus:"+topic, func(ctx context.Context) error {
			fn(ctx, payload)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Drain blocks until all scheduled deliveries have run.
func (b *Bus) Drain() {
	b.workers.Wait()
}
