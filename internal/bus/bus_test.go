package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, b Channel, topic string) (func() [][]byte, func()) {
	t.Helper()
	var mu sync.Mutex
	var got [][]byte
	cancel := b.Subscribe(topic, func(data []byte) {
		mu.Lock()
		got = append(got, data)
		mu.Unlock()
	})
	return func() [][]byte {
		mu.Lock()
		defer mu.Unlock()
		return append([][]byte(nil), got...)
	}, cancel
}

func TestMemoryBusDeliversToEverySubscriber(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	first, cancel1 := collect(t, b, "t")
	defer cancel1()
	second, cancel2 := collect(t, b, "t")
	defer cancel2()
	other, cancel3 := collect(t, b, "other")
	defer cancel3()

	require.NoError(t, b.Publish(context.Background(), "t", []byte("hello")))

	assert.Eventually(t, func() bool { return len(first()) == 1 && len(second()) == 1 },
		time.Second, 5*time.Millisecond)
	assert.Empty(t, other())
	assert.Equal(t, "hello", string(first()[0]))
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	got, cancel := collect(t, b, "t")
	cancel()

	require.NoError(t, b.Publish(context.Background(), "t", []byte("x")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got())
}

func TestMemoryBusSurvivesPanickingSubscriber(t *testing.T) {
	b := NewMemoryBus(0)
	defer b.Close()

	var mu sync.Mutex
	calls := 0
	b.Subscribe("t", func(data []byte) {
		mu.Lock()
		calls++
		mu.Unlock()
		if string(data) == "boom" {
			panic("boom")
		}
	})

	require.NoError(t, b.Publish(context.Background(), "t", []byte("boom")))
	require.NoError(t, b.Publish(context.Background(), "t", []byte("ok")))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBusFullQueueBlocksUntilContextDone(t *testing.T) {
	b := NewMemoryBus(1)
	defer b.Close()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	b.Subscribe("t", func([]byte) {
		started <- struct{}{}
		<-release
	})
	defer close(release)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "t", []byte("1")))
	<-started
	require.NoError(t, b.Publish(ctx, "t", []byte("2")))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := b.Publish(short, "t", []byte("3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus(0)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(context.Background(), "t", nil), ErrClosed)
	assert.NoError(t, b.Close())
}

func TestRecordingChannel(t *testing.T) {
	r := NewRecordingChannel(nil)
	boom := errors.New("broker down")

	require.NoError(t, r.Publish(context.Background(), "a", []byte("1")))
	r.FailNext(1, boom)
	assert.ErrorIs(t, r.Publish(context.Background(), "a", []byte("2")), boom)
	require.NoError(t, r.Publish(context.Background(), "b", []byte("3")))

	assert.Len(t, r.Messages(""), 2)
	require.Len(t, r.Messages("a"), 1)
	assert.Equal(t, "1", string(r.Messages("a")[0].Data))

	r.Reset()
	assert.Empty(t, r.Messages(""))
}
