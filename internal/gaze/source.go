package gaze

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// Handler receives samples from a Source.
type Handler func(Sample)

// Source is the gaze-estimation collaborator. Implementations deliver samples
// in arrival order to every subscriber until paused or unsubscribed.
type Source interface {
	Subscribe(h Handler) (unsubscribe func())
	Pause()
	Resume()
}

type subscription struct {
	id int
	h  Handler
}

// Broadcaster is the subscriber bookkeeping shared by the concrete sources.
// Publishing above the configured rate drops samples instead of queueing them.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    []subscription
	nextID  int
	paused  atomic.Bool
	limiter *rate.Limiter
	dropped atomic.Int64
}

// NewBroadcaster returns a broadcaster admitting at most maxRate samples per
// second (bursting to one second's worth). maxRate <= 0 disables limiting.
func NewBroadcaster(maxRate float64) *Broadcaster {
	limit, burst := rate.Inf, 0
	if maxRate > 0 {
		limit, burst = rate.Limit(maxRate), max(1, int(maxRate))
	}
	return &Broadcaster{limiter: rate.NewLimiter(limit, burst)}
}

// Subscribe registers h and returns a function removing it.
func (b *Broadcaster) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Pause stops delivery; samples published while paused are discarded.
func (b *Broadcaster) Pause() { b.paused.Store(true) }

// Resume restarts delivery.
func (b *Broadcaster) Resume() { b.paused.Store(false) }

// Paused reports whether delivery is paused.
func (b *Broadcaster) Paused() bool { return b.paused.Load() }

// Dropped returns the number of samples discarded by the rate limit.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Publish delivers s to every subscriber. It returns false when the sample
// was discarded because delivery is paused or the rate limit was hit.
func (b *Broadcaster) Publish(s Sample) bool {
	if b.paused.Load() {
		return false
	}
	if !b.limiter.Allow() {
		b.dropped.Add(1)
		return false
	}
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.h(s)
	}
	return true
}

// ChannelSource publishes samples read from a channel. Used for replays and
// tests.
type ChannelSource struct {
	*Broadcaster
}

// NewChannelSource returns an unlimited channel source.
func NewChannelSource() *ChannelSource {
	return &ChannelSource{Broadcaster: NewBroadcaster(0)}
}

// Run publishes from ch until it is closed or ctx is done.
func (c *ChannelSource) Run(ctx context.Context, ch <-chan Sample) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			c.Publish(s)
		}
	}
}
