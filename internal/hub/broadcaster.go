package hub

import (
	"context"
	"sync"
)

// Subscriber receives events published to a group it joined. Deliver must
// not block.
type Subscriber interface {
	ID() string
	Deliver(ev *Event)
}

// Broadcaster fans events out to every subscriber of a group. Events from a
// single publisher reach each subscriber in publish order.
type Broadcaster interface {
	Subscribe(ctx context.Context, group string, s Subscriber) error
	Unsubscribe(group string, s Subscriber)
	Publish(ctx context.Context, group string, ev *Event) error
	Close() error
}

// MemoryBroadcaster is the single-process Broadcaster.
type MemoryBroadcaster struct {
	mu     sync.RWMutex
	groups map[string]map[string]Subscriber
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{groups: make(map[string]map[string]Subscriber)}
}

func (b *MemoryBroadcaster) Subscribe(_ context.Context, group string, s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.groups[group] == nil {
		b.groups[group] = make(map[string]Subscriber)
	}
	b.groups[group][s.ID()] = s
	return nil
}

func (b *MemoryBroadcaster) Unsubscribe(group string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.groups[group]; ok {
		delete(subs, s.ID())
		if len(subs) == 0 {
			delete(b.groups, group)
		}
	}
}

func (b *MemoryBroadcaster) Publish(_ context.Context, group string, ev *Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.groups[group]))
	for _, s := range b.groups[group] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.Deliver(ev)
	}
	return nil
}

// Size reports the number of subscribers in a group.
func (b *MemoryBroadcaster) Size(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}

func (b *MemoryBroadcaster) Close() error { return nil }
