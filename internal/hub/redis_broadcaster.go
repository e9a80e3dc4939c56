package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	channelPrefix = "debates:"

	// subscribeTimeout bounds the wait for Redis to confirm a channel.
	subscribeTimeout = 5 * time.Second
)

// RedisBroadcaster shares groups between processes over Redis pub/sub. Each
// process holds one PubSub connection subscribed to the channels of the
// groups it has local subscribers for; delivery to those subscribers is
// local.
type RedisBroadcaster struct {
	rdb   *redis.Client
	local *MemoryBroadcaster

	mu     sync.Mutex
	ps     *redis.PubSub
	counts map[string]int

	pendingMu sync.Mutex
	pending   map[string]chan struct{}
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{
		rdb:     rdb,
		local:   NewMemoryBroadcaster(),
		counts:  make(map[string]int),
		pending: make(map[string]chan struct{}),
	}
}

func channelName(group string) string {
	return channelPrefix + group
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, group string, s Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.counts[group] == 0 {
		if err := b.subscribe(ctx, channelName(group)); err != nil {
			return fmt.Errorf("subscribe %s: %w", group, err)
		}
	}
	b.counts[group]++
	return b.local.Subscribe(ctx, group, s)
}

// subscribe returns once Redis has confirmed the channel, so anything
// published after it returns is delivered to this process. Callers hold mu.
func (b *RedisBroadcaster) subscribe(ctx context.Context, channel string) error {
	ctx, cancel := context.WithTimeout(ctx, subscribeTimeout)
	defer cancel()

	if b.ps == nil {
		ps := b.rdb.Subscribe(ctx, channel)
		if _, err := ps.Receive(ctx); err != nil {
			ps.Close()
			return err
		}
		b.ps = ps
		go b.receive(ps)
		return nil
	}

	// The receive loop owns the connection and reports the confirmation.
	done := make(chan struct{})
	b.pendingMu.Lock()
	b.pending[channel] = done
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, channel)
		b.pendingMu.Unlock()
	}()

	if err := b.ps.Subscribe(ctx, channel); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *RedisBroadcaster) confirmed(channel string) {
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if done, ok := b.pending[channel]; ok {
		close(done)
		delete(b.pending, channel)
	}
}

func (b *RedisBroadcaster) Unsubscribe(group string, s Subscriber) {
	b.local.Unsubscribe(group, s)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.counts[group] == 0 {
		return
	}
	b.counts[group]--
	if b.counts[group] == 0 {
		delete(b.counts, group)
		if b.ps != nil {
			if err := b.ps.Unsubscribe(context.Background(), channelName(group)); err != nil {
				log.Warn().Err(err).Str("module", "hub").Str("group", group).Msg("redis unsubscribe failed")
			}
		}
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, group string, ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, channelName(group), string(payload)).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", group, err)
	}
	return nil
}

func (b *RedisBroadcaster) receive(ps *redis.PubSub) {
	for m := range ps.ChannelWithSubscriptions(context.Background(), 100) {
		switch msg := m.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" {
				b.confirmed(msg.Channel)
			}
		case *redis.Message:
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Error().Err(err).Str("module", "hub").Str("channel", msg.Channel).Msg("bad event payload")
				continue
			}
			b.local.Publish(context.Background(), strings.TrimPrefix(msg.Channel, channelPrefix), &ev)
		}
	}
}

func (b *RedisBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ps == nil {
		return nil
	}
	err := b.ps.Close()
	b.ps = nil
	return err
}
