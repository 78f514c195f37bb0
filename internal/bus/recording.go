package bus

import (
	"context"
	"sync"
)

// Published is one message captured by a RecordingChannel.
type Published struct {
	Topic string
	Data  []byte
}

// RecordingChannel wraps a Channel, keeps a copy of every published message
// and can be told to fail publishes. It is used by tests and by the simulate
// command to show the traffic of a run.
type RecordingChannel struct {
	inner Channel

	mu        sync.Mutex
	published []Published
	failWith  error
	failLeft  int
}

// NewRecordingChannel wraps inner. inner may be nil, in which case messages
// are only recorded.
func NewRecordingChannel(inner Channel) *RecordingChannel {
	return &RecordingChannel{inner: inner}
}

// FailNext makes the next n publishes return err without delivering. n < 0
// fails every publish until Reset.
func (r *RecordingChannel) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failWith = err
	r.failLeft = n
}

// Reset clears recorded messages and injected failures.
func (r *RecordingChannel) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = nil
	r.failWith = nil
	r.failLeft = 0
}

// Publish implements Channel.
func (r *RecordingChannel) Publish(ctx context.Context, topic string, data []byte) error {
	r.mu.Lock()
	if r.failWith != nil && r.failLeft != 0 {
		err := r.failWith
		if r.failLeft > 0 {
			r.failLeft--
		}
		r.mu.Unlock()
		return err
	}
	r.published = append(r.published, Published{Topic: topic, Data: append([]byte(nil), data...)})
	r.mu.Unlock()

	if r.inner == nil {
		return nil
	}
	return r.inner.Publish(ctx, topic, data)
}

// Subscribe implements Channel.
func (r *RecordingChannel) Subscribe(topic string, fn func([]byte)) func() {
	if r.inner == nil {
		return func() {}
	}
	return r.inner.Subscribe(topic, fn)
}

// Messages returns a copy of the recorded messages, optionally filtered by
// topic.
func (r *RecordingChannel) Messages(topic string) []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Published
	for _, p := range r.published {
		if topic == "" || p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
