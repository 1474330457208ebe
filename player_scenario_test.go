package avsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingEmitter records every event in order, safe for concurrent use
// by watchdog goroutines.
type collectingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectingEmitter) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collectingEmitter) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collectingEmitter) has(kind EventKind) bool {
	for _, e := range c.snapshot() {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func (c *collectingEmitter) hasError(code Code) bool {
	for _, e := range c.snapshot() {
		if e.Kind == EventError && e.ErrorCode == code {
			return true
		}
	}
	return false
}

// buildGraph assembles the clock/gate/master/seek/watchdog graph the same
// way NewPlayer does, without a decoder or media source, so the
// cross-component scenarios of spec §8 can run against real clocks and
// real timers. sinkFramesPlayed defaults to an always-advancing counter
// when nil, so scenarios unrelated to sink liveness never trip the freeze
// detector.
func buildGraph(t *testing.T, emitter Emitter, audioStallT, seekTimeout, watchdogPeriod, diagRate time.Duration, sinkFramesPlayed func() uint64) (*AVSyncGate, *AudioClock, *VideoClock, *MasterSelector, *SeekCoordinator, *audioStateMachine, *Watchdogs) {
	t.Helper()
	gate := NewAVSyncGate()
	audioClock := NewAudioClock()
	videoClock := NewVideoClock()
	states := newAudioStateMachine(emitter)
	master := NewMasterSelector(gate, audioClock, videoClock, true, states.State, audioStallT, 2*time.Second)
	seek := NewSeekCoordinator(gate, audioClock, videoClock, master, emitter, func(SeekCommand) {})
	if sinkFramesPlayed == nil {
		var counter uint64
		sinkFramesPlayed = func() uint64 {
			counter++
			return counter
		}
	}
	wd := NewWatchdogs(gate, audioClock, videoClock, master, seek, states, emitter, watchdogPeriod, audioStallT, seekTimeout, diagRate, 20*time.Millisecond, func() bool { return true }, func() {}, sinkFramesPlayed)
	return gate, audioClock, videoClock, master, seek, states, wd
}

// Scenario: AudioClock staleness demotes master (spec §8 e2e scenario 4).
// Audio is master, then AudioClock.Update stops arriving; within one
// audio-stall timeout the master must demote to video and an
// AUDIO_MASTER_LOST error must fire. This exercises AudioClock.IsStalled,
// not the sink liveness counter — see
// TestScenarioSinkLivenessFreezeDemotesMaster for that path.
func TestScenarioAudioClockStaleDemotesMaster(t *testing.T) {
	emitter := &collectingEmitter{}
	gate, audioClock, videoClock, master, _, states, wd := buildGraph(t, emitter, 150*time.Millisecond, time.Second, 30*time.Millisecond, time.Hour, nil)
	states.current.Store(int32(AudioPlaying))

	now := time.Now()
	audioClock.Init(0, 0)
	audioClock.Update(1.0, 0.02, now)
	videoClock.Update(1.0, now)
	require.Equal(t, MasterAudio, master.Select(now))

	wd.Start()
	defer wd.Stop()

	require.Eventually(t, func() bool {
		return master.Current() == MasterVideo
	}, 2*time.Second, 10*time.Millisecond, "audio stall must demote the master to video")

	assert.True(t, emitter.hasError(CodeAudioMasterLost))
	assert.Equal(t, MasterVideo, gate.Master())
}

// Scenario: the sink's FramesPlayed liveness counter freezes while the
// audio state machine still reports AudioPlaying (spec §4.3's AudioPlaying
// -> AudioStoppedBySystem edge). The watchdog must transition the state
// machine to AudioStoppedBySystem, demote the master to video, and emit
// AUDIO_MASTER_LOST, all without AudioClock ever going stale — this is a
// distinct failure mode from TestScenarioAudioClockStaleDemotesMaster
// (a sink can keep accepting writes and driving AudioClock forward while
// the underlying device has stopped actually producing sound).
func TestScenarioSinkLivenessFreezeDemotesMaster(t *testing.T) {
	emitter := &collectingEmitter{}
	frozenCounter := func() uint64 { return 42 } // never advances
	gate, audioClock, videoClock, master, _, states, wd := buildGraph(t, emitter, time.Hour, time.Hour, 10*time.Millisecond, time.Hour, frozenCounter)

	now := time.Now()
	audioClock.Init(0, 0)
	audioClock.Update(1.0, 0.02, now)
	videoClock.Update(1.0, now)
	require.NoError(t, states.Transition(AudioInitializing, "audio stream found"))
	require.NoError(t, states.Transition(AudioInitialized, "sink opened"))
	require.NoError(t, states.Transition(AudioReady, "first pcm buffer accepted"))
	require.NoError(t, states.Transition(AudioPlaying, "sink reports playing"))
	require.Equal(t, MasterAudio, master.Select(now))

	wd.Start()
	defer wd.Stop()

	require.Eventually(t, func() bool {
		return states.State() == AudioStoppedBySystem
	}, time.Second, 5*time.Millisecond, "a frozen liveness counter must move the state machine to AudioStoppedBySystem")

	assert.True(t, emitter.hasError(CodeAudioMasterLost))
	assert.Equal(t, MasterVideo, gate.Master())
}

// Scenario: master clock stall regardless of which stream is master (spec
// §8 invariant 1 combined with the watchdog's periodic stall check).
func TestScenarioMasterClockStallEmitsError(t *testing.T) {
	emitter := &collectingEmitter{}
	gate, audioClock, _, master, _, _, wd := buildGraph(t, emitter, time.Hour, time.Hour, 20*time.Millisecond, time.Hour, nil)

	now := time.Now()
	audioClock.Init(0, 0)
	audioClock.Update(1.0, 0.02, now)
	gate.SetMaster(MasterAudio)
	gate.SetValid()
	gate.UpdateAudioClock(1_000_000, now)
	_ = master

	wd.Start()
	defer wd.Stop()

	require.Eventually(t, func() bool {
		return emitter.hasError(CodeClockStall)
	}, time.Second, 10*time.Millisecond)
	assert.False(t, gate.IsOpen())
}

// Scenario: a seek that never reaches first-frame-after-seek must be
// force-reset by the seek watchdog so playback does not wedge forever
// (spec §4.10).
func TestScenarioStuckSeekIsForceReset(t *testing.T) {
	emitter := &collectingEmitter{}
	var resetCalls int
	var mu sync.Mutex
	gate, _, _, _, seek, states, _ := buildGraph(t, emitter, time.Hour, 40*time.Millisecond, 10*time.Millisecond, time.Hour, nil)

	wd := NewWatchdogs(gate, NewAudioClock(), NewVideoClock(), NewMasterSelector(gate, NewAudioClock(), NewVideoClock(), true, func() AudioState { return AudioPlaying }, time.Hour, time.Hour), seek, states, emitter, 10*time.Millisecond, time.Hour, 40*time.Millisecond, time.Hour, time.Hour, func() bool { return true }, func() {
		mu.Lock()
		resetCalls++
		mu.Unlock()
	}, func() uint64 { return 0 })

	seek.Request(7500, true, 0)
	require.True(t, seek.InProgress())

	wd.Start()
	defer wd.Stop()

	require.Eventually(t, func() bool {
		return !seek.InProgress()
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	n := resetCalls
	mu.Unlock()
	assert.GreaterOrEqual(t, n, 1)
	assert.False(t, gate.SeekInProgress())
}

// Scenario: seek idempotence end-to-end (spec §8 invariant 7 / e2e scenario
// 5) — three seeks issued within a few microseconds of each other must
// dispatch only the first immediately; the other two collapse into one
// pending command carrying the last target, dispatched once the first
// seek finishes.
func TestScenarioRapidFireSeekCoalesces(t *testing.T) {
	emitter := &collectingEmitter{}
	var dispatched []SeekCommand
	var mu sync.Mutex
	gate := NewAVSyncGate()
	audioClock := NewAudioClock()
	videoClock := NewVideoClock()
	master := NewMasterSelector(gate, audioClock, videoClock, true, func() AudioState { return AudioPlaying }, time.Second, time.Second)
	seek := NewSeekCoordinator(gate, audioClock, videoClock, master, emitter, func(cmd SeekCommand) {
		mu.Lock()
		dispatched = append(dispatched, cmd)
		mu.Unlock()
	})

	seek.Request(2000, false, 0)
	seek.Request(5000, false, 0)
	seek.Request(8000, false, 0)

	mu.Lock()
	n := len(dispatched)
	mu.Unlock()
	require.Equal(t, 1, n, "only the first request in a burst may dispatch immediately")

	seek.NoteFirstFrameAfterSeek(8.0)
	seek.NoteAudioCaughtUp()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 2, "the coalesced pending target must dispatch once the in-flight seek finishes")
	assert.Equal(t, 8.0, dispatched[1].TargetSec)
	assert.True(t, emitter.has(EventFirstFrameAfterSeek))
}

// Scenario: diagnostic events are emitted at the configured rate and
// reflect live clock state (supports Player.Diagnostics polling, spec §10).
func TestScenarioDiagnosticTickerEmitsSnapshots(t *testing.T) {
	emitter := &collectingEmitter{}
	_, audioClock, videoClock, _, _, _, wd := buildGraph(t, emitter, time.Hour, time.Hour, time.Hour, 15*time.Millisecond, nil)

	now := time.Now()
	audioClock.Init(0, 0)
	audioClock.Update(1.0, 0.02, now)
	videoClock.Update(1.05, now)

	wd.Start()
	defer wd.Stop()

	require.Eventually(t, func() bool {
		return emitter.has(EventDiagnostic)
	}, time.Second, 10*time.Millisecond)
}
