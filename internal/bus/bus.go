package bus

import (
	"context"
	"errors"
	"sync"

	"conductor/pkg/logging"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus closed")

// Channel is the publish/subscribe transport between the runtime and its
// participants. Delivery is at-least-once and unordered across publishers.
type Channel interface {
	// Publish sends data to every subscriber of topic.
	Publish(ctx context.Context, topic string, data []byte) error

	// Subscribe registers fn for messages on topic. The returned function
	// removes the subscription.
	Subscribe(topic string, fn func([]byte)) (cancel func())
}

const defaultBufferSize = 256

// MemoryBus is an in-process Channel. Each subscriber has its own buffered
// queue served by one goroutine, so a slow handler only delays itself. A full
// queue blocks the publisher until there is room or ctx is done.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
	wg          sync.WaitGroup
}

type subscriber struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemoryBus creates an in-process bus. bufferSize <= 0 uses a default.
func NewMemoryBus(bufferSize int) *MemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &MemoryBus{
		subscribers: make(map[string]map[int]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Publish implements Channel.
func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*subscriber, 0, len(b.subscribers[topic]))
	for _, s := range b.subscribers[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		msg := append([]byte(nil), data...)
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements Channel.
func (b *MemoryBus) Subscribe(topic string, fn func([]byte)) func() {
	s := &subscriber{
		ch:   make(chan []byte, b.bufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]*subscriber)
	}
	b.subscribers[topic][id] = s
	b.wg.Add(1)
	b.mu.Unlock()

	go b.serve(topic, s, fn)

	return func() {
		b.mu.Lock()
		delete(b.subscribers[topic], id)
		b.mu.Unlock()
		s.stop()
	}
}

func (b *MemoryBus) serve(topic string, s *subscriber, fn func([]byte)) {
	defer b.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			b.deliver(topic, fn, msg)
		}
	}
}

func (b *MemoryBus) deliver(topic string, fn func([]byte), msg []byte) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Bus", nil, "Subscriber on %s panicked: %v", topic, r)
		}
	}()
	fn(msg)
}

// Close stops every subscriber and rejects further publishes. Messages still
// buffered are discarded.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subscribers {
		for _, s := range subs {
			s.stop()
		}
	}
	b.subscribers = make(map[string]map[int]*subscriber)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
