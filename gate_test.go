package avsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGateStartsInvalid(t *testing.T) {
	g := NewAVSyncGate()
	assert.False(t, g.IsOpen())
	assert.Equal(t, MasterNone, g.Master())
}

func TestGateOpenOnSeekEvenWhenInvalid(t *testing.T) {
	g := NewAVSyncGate()
	g.SetSeekInProgress(true)
	assert.True(t, g.IsOpen(), "gate must stay open during a seek regardless of master validity")
}

func TestGateSetValidClearsInvalidationReason(t *testing.T) {
	g := NewAVSyncGate()
	g.Invalidate("MASTER CLOCK STALLED")
	assert.Equal(t, "MASTER CLOCK STALLED", g.InvalidationReason())
	g.SetValid()
	assert.True(t, g.IsOpen())
	assert.Equal(t, "", g.InvalidationReason())
}

func TestGateCheckStallInvalidatesAfterThreshold(t *testing.T) {
	g := NewAVSyncGate()
	g.SetMaster(MasterAudio)
	g.SetValid()
	now := time.Now()
	g.UpdateAudioClock(1_000_000, now)

	assert.False(t, g.CheckStall(now.Add(100*time.Millisecond), 500*time.Millisecond))
	assert.True(t, g.IsOpen())

	stalled := g.CheckStall(now.Add(600*time.Millisecond), 500*time.Millisecond)
	assert.True(t, stalled)
	assert.False(t, g.IsOpen())
	assert.Equal(t, "MASTER CLOCK STALLED", g.InvalidationReason())
}

func TestGateCheckStallSkippedDuringSeek(t *testing.T) {
	g := NewAVSyncGate()
	g.SetMaster(MasterAudio)
	g.SetValid()
	now := time.Now()
	g.UpdateAudioClock(1, now)
	g.SetSeekInProgress(true)
	assert.False(t, g.CheckStall(now.Add(10*time.Second), 500*time.Millisecond))
}

func TestGateUpdateClockOnlyBumpsAdvanceForCurrentMaster(t *testing.T) {
	g := NewAVSyncGate()
	g.SetMaster(MasterAudio)
	g.SetValid()
	base := time.Now()
	g.UpdateAudioClock(1, base)
	// video updates while audio is master must not reset the stall clock
	g.UpdateVideoClock(2, base.Add(450*time.Millisecond))
	assert.True(t, g.CheckStall(base.Add(600*time.Millisecond), 500*time.Millisecond))
}
