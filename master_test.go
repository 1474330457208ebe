package avsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterSelectorNoAudioAlwaysVideo(t *testing.T) {
	gate := NewAVSyncGate()
	audio := NewAudioClock()
	video := NewVideoClock()
	video.Update(0, time.Now())

	sel := NewMasterSelector(gate, audio, video, false, func() AudioState { return AudioNoAudio }, 500*time.Millisecond, 700*time.Millisecond)
	kind := sel.Select(time.Now())
	assert.Equal(t, MasterVideo, kind)
	assert.Equal(t, MasterVideo, gate.Master())
}

func TestMasterSelectorPrefersHealthyAudio(t *testing.T) {
	gate := NewAVSyncGate()
	audio := NewAudioClock()
	audio.Init(0, 0)
	audio.Update(1, 0.02, time.Now())
	video := NewVideoClock()
	video.Update(1, time.Now())

	sel := NewMasterSelector(gate, audio, video, true, func() AudioState { return AudioPlaying }, 500*time.Millisecond, 700*time.Millisecond)
	kind := sel.Select(time.Now())
	assert.Equal(t, MasterAudio, kind)
}

func TestMasterSelectorLockReleasedWhenAudioMasterStalls(t *testing.T) {
	gate := NewAVSyncGate()
	audio := NewAudioClock()
	audio.Init(0, 0)
	video := NewVideoClock()
	video.Update(1, time.Now())
	state := AudioPlaying

	sel := NewMasterSelector(gate, audio, video, true, func() AudioState { return state }, 500*time.Millisecond, 700*time.Millisecond)

	now := time.Now()
	audio.Update(1, 0.02, now)
	require.Equal(t, MasterAudio, sel.Select(now))

	// audio becomes unhealthy but selector has not been unlocked: hysteresis
	// should still re-evaluate and fall back to video since audio is now
	// stale relative to the audio stall threshold.
	stalledAt := now.Add(10 * time.Second)
	kind := sel.Select(stalledAt)
	assert.Equal(t, MasterVideo, kind, "stalled audio must lose mastership even while locked")
}

func TestMasterSelectorUnlockAllowsReselection(t *testing.T) {
	gate := NewAVSyncGate()
	audio := NewAudioClock()
	audio.Init(0, 0)
	video := NewVideoClock()
	video.Update(1, time.Now())

	sel := NewMasterSelector(gate, audio, video, true, func() AudioState { return AudioPlaying }, 500*time.Millisecond, 700*time.Millisecond)

	now := time.Now()
	video.Update(1, now)
	require.Equal(t, MasterVideo, sel.Select(now)) // audio not yet valid -> video

	audio.Update(1, 0.02, now)
	sel.Unlock()
	assert.Equal(t, MasterAudio, sel.Select(now))
}
