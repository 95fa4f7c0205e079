// Package event provides the in-process event bus shared by loaded modules.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/servicedesk/pkg/plugin"
	"go.uber.org/zap"
)

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

// Topics published by the module loader.
const (
	TopicModuleLoaded   = "module.loaded"
	TopicModuleUnloaded = "module.unloaded"
	TopicModuleFailed   = "module.failed"
)

type subscription struct {
	id      uint64
	handler plugin.EventHandler
}

// Bus is a synchronous publish/subscribe bus. Handler panics are recovered
// and logged so one faulty subscriber cannot break delivery to the others.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	all    []subscription
	nextID uint64
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for topic and returns its unsubscribe function.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.topics[topic] = append(b.topics[topic], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.topics[topic] = remove(b.topics[topic], id)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
	}
}

// SubscribeAll registers handler for every topic.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = remove(b.all, id)
	}
}

// Publish delivers event to all matching handlers before returning.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, h := range b.handlersFor(event.Topic) {
		b.dispatch(ctx, h, event)
	}
	return nil
}

// PublishAsync delivers event to each handler on its own goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, h := range b.handlersFor(event.Topic) {
		go b.dispatch(ctx, h, event)
	}
}

func (b *Bus) handlersFor(topic string) []plugin.EventHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.topics[topic]
	out := make([]plugin.EventHandler, 0, len(subs)+len(b.all))
	for _, s := range subs {
		out = append(out, s.handler)
	}
	for _, s := range b.all {
		out = append(out, s.handler)
	}
	return out
}

func (b *Bus) dispatch(ctx context.Context, h plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, event)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
