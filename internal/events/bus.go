package events

import (
	"sync"
	"sync/atomic"
)

// defaultBufSize is the subscriber buffer used when none is requested.
const defaultBufSize = 256

// subscriber is one subscription. An empty topic receives every topic.
type subscriber struct {
	topic string
	ch    chan Event
}

// EventBus fans events out to buffered subscriber channels. Publishing never
// blocks: a subscriber that falls behind misses events instead of stalling
// the run that publishes them.
type EventBus struct {
	mu      sync.RWMutex
	subs    []subscriber
	closed  bool
	dropped atomic.Int64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel receiving the events published on topic.
// bufSize <= 0 uses a buffer of 256. Subscribing to a closed bus returns a
// closed channel.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(topic, bufSize)
}

// SubscribeAll returns a channel receiving the events of every topic, in
// publication order.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe("", bufSize)
}

func (b *EventBus) subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscriber{topic: topic, ch: ch})
	return ch
}

// Publish delivers event to the subscribers of topic and to every
// all-topic subscriber. Full subscribers skip the event; see Dropped.
func (b *EventBus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, s := range b.subs {
		if s.topic != "" && s.topic != topic {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// channel was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later calls do nothing.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
