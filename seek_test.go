package avsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSeekCoordinator(t *testing.T, dispatch func(SeekCommand)) (*SeekCoordinator, *AVSyncGate, *AudioClock, *VideoClock) {
	t.Helper()
	gate := NewAVSyncGate()
	audio := NewAudioClock()
	video := NewVideoClock()
	master := NewMasterSelector(gate, audio, video, true, func() AudioState { return AudioPlaying }, 500*time.Millisecond, 700*time.Millisecond)
	if dispatch == nil {
		dispatch = func(SeekCommand) {}
	}
	return NewSeekCoordinator(gate, audio, video, master, nopEmitter{}, dispatch), gate, audio, video
}

func TestSeekRequestInvalidatesClocksAndDispatches(t *testing.T) {
	var got SeekCommand
	var calls int
	c, gate, audio, video := newTestSeekCoordinator(t, func(cmd SeekCommand) { got = cmd; calls++ })

	audio.Init(0, 0)
	audio.Update(1, 0.02, time.Now())
	video.Update(1, time.Now())

	c.Request(5000, true, 1.0)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 5.0, got.TargetSec)
	assert.True(t, got.Exact)
	assert.Equal(t, Epoch(1), got.Epoch)
	assert.False(t, audio.Valid())
	assert.False(t, video.Valid())
	assert.True(t, gate.SeekInProgress())
	assert.True(t, c.InProgress())
	assert.True(t, c.DropAudio())
	assert.True(t, c.DropVideo())
}

func TestSeekRequestCoalescesWhileInProgress(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c, _, _, _ := newTestSeekCoordinator(t, func(SeekCommand) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	c.Request(1000, false, 0)
	c.Request(2000, true, 0) // should coalesce, not dispatch again

	mu.Lock()
	n := calls
	mu.Unlock()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, c.TargetSec())
}

func TestSeekCompletionSequenceAndPendingRestart(t *testing.T) {
	var dispatched []SeekCommand
	c, gate, _, _ := newTestSeekCoordinator(t, func(cmd SeekCommand) { dispatched = append(dispatched, cmd) })

	c.Request(1000, false, 0)
	require.Len(t, dispatched, 1)

	c.Request(2000, false, 1.0) // coalesces into pending

	c.NoteFirstFrameAfterSeek(1.0)
	assert.False(t, c.DropVideo())
	assert.True(t, c.InProgress(), "still waiting on audio to catch up")

	c.NoteAudioCaughtUp()
	// the restarted pending seek puts audio back into drop mode
	assert.True(t, c.DropAudio())

	// finishing the first seek must immediately start the pending one
	require.Len(t, dispatched, 2)
	assert.Equal(t, 2.0, dispatched[1].TargetSec)
	assert.True(t, gate.SeekInProgress())
}

func TestSeekForceResetClearsState(t *testing.T) {
	c, gate, _, _ := newTestSeekCoordinator(t, nil)
	c.Request(1000, false, 0)
	c.ForceReset()
	assert.False(t, c.InProgress())
	assert.False(t, c.DropAudio())
	assert.False(t, c.DropVideo())
	assert.False(t, gate.SeekInProgress())
}

func TestSeekRequestAgeExceeds(t *testing.T) {
	c, _, _, _ := newTestSeekCoordinator(t, nil)
	c.Request(0, false, 0)
	now := time.UnixMicro(c.requestUs.Load())
	assert.False(t, c.RequestAgeExceeds(now.Add(100*time.Millisecond), 2*time.Second))
	assert.True(t, c.RequestAgeExceeds(now.Add(3*time.Second), 2*time.Second))
}
