package avsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacketQueuePushPopOrderAndBlocking(t *testing.T) {
	q := NewPacketQueue[int](2)
	require.True(t, q.Push(1))
	require.True(t, q.Push(2))

	pushed := make(chan bool, 1)
	go func() { pushed <- q.Push(3) }()

	select {
	case <-pushed:
		t.Fatal("push must block while the queue is full")
	case <-time.After(30 * time.Millisecond):
	}

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, item.Packet)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("push never unblocked after a slot freed")
	}

	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 2, item.Packet)
	item, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, item.Packet)
}

func TestPacketQueueAbortWakesWaiters(t *testing.T) {
	q := NewPacketQueue[int](1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Abort()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("abort never woke the blocked pop")
	}
	assert.False(t, q.Push(5), "push after abort must fail immediately")
}

func TestPacketQueueFlushBumpsEpochAndDrains(t *testing.T) {
	q := NewPacketQueue[int](4)
	q.Push(1)
	q.Push(2)
	q.Flush(7)
	assert.Equal(t, Epoch(7), q.CurrentEpoch())
	assert.Equal(t, 0, q.Len())

	q.Push(3)
	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, Epoch(7), item.Epoch)
}

func TestFrameQueuePeekDoesNotDequeue(t *testing.T) {
	q := NewFrameQueue[string](4)
	q.Push("a", 1.5)

	item, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", item.Frame)
	assert.Equal(t, 1.5, item.PTS)
	assert.Equal(t, 1, q.Len(), "peek must not remove the item")

	popped, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", popped.Frame)
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueueFlushTagsSubsequentPushes(t *testing.T) {
	q := NewFrameQueue[int](4)
	q.Push(1, 0)
	q.Flush(3)
	q.Push(2, 1.0)

	item, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, Epoch(3), item.Epoch)
	assert.Equal(t, 2, item.Frame)
}

// property: every item popped off a FrameQueue comes out in FIFO order
// regardless of how producers and the single consumer interleave.
func TestFrameQueueFIFOUnderConcurrency(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "n")
		q := NewFrameQueue[int](8)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n; i++ {
				q.Push(i, float64(i))
			}
		}()

		for i := 0; i < n; i++ {
			item, ok := q.Pop()
			require.True(t, ok)
			assert.Equal(t, i, item.Frame)
		}
		wg.Wait()
	})
}
