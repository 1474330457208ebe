package avsync

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// SeekCommand is what the seek coordinator hands to the demux worker: the
// only goroutine allowed to call into the cgo-backed decoder, per §5's
// single-owner rule for reisen's Media handle.
type SeekCommand struct {
	TargetSec float64
	Exact     bool
	Epoch     Epoch
}

// SeekCoordinator drives the multi-phase seek protocol of spec §4.7 with a
// monotonically increasing epoch. At most one seek is ever "in progress";
// a request arriving mid-seek overwrites the pending target and returns
// immediately (step 1).
type SeekCoordinator struct {
	epoch      atomic.Uint64
	inProgress atomic.Bool
	dropAudio  atomic.Bool
	dropVideo  atomic.Bool
	exact      atomic.Bool
	targetBits atomic.Uint64
	lastValid  atomic.Uint64
	requestUs  atomic.Int64

	mu      sync.Mutex
	pending *pendingSeek

	gate    *AVSyncGate
	audio   *AudioClock
	video   *VideoClock
	master  *MasterSelector
	emitter Emitter

	dispatch func(SeekCommand)
}

type pendingSeek struct {
	targetMs int64
	exact    bool
}

// NewSeekCoordinator wires the coordinator to the clocks, gate, and
// master selector it mutates, plus a dispatch callback that hands the
// actual container-seek work to the demux worker.
func NewSeekCoordinator(gate *AVSyncGate, audio *AudioClock, video *VideoClock, master *MasterSelector, emitter Emitter, dispatch func(SeekCommand)) *SeekCoordinator {
	c := &SeekCoordinator{gate: gate, audio: audio, video: video, master: master, emitter: emitter, dispatch: dispatch}
	return c
}

// Epoch returns the current seek generation.
func (c *SeekCoordinator) Epoch() Epoch { return Epoch(c.epoch.Load()) }

// InProgress reports whether a seek is currently underway.
func (c *SeekCoordinator) InProgress() bool { return c.inProgress.Load() }

// DropVideo/DropAudio report the current drop-mode flags the render loops
// must honor (spec §4.7 steps 2, 6, 7).
func (c *SeekCoordinator) DropVideo() bool { return c.dropVideo.Load() }
func (c *SeekCoordinator) DropAudio() bool { return c.dropAudio.Load() }

// Exact reports whether the in-progress seek requires exact positioning
// (drop across keyframes until pts >= target, spec §4.7 "Exact mode").
func (c *SeekCoordinator) Exact() bool { return c.exact.Load() }

// TargetSec returns the in-progress seek's target position, in seconds.
func (c *SeekCoordinator) TargetSec() float64 {
	return math.Float64frombits(c.targetBits.Load())
}

// LastValidPositionSec returns the position recorded just before the
// clocks were invalidated, so the UI doesn't regress during the seek
// (spec §4.7 step 3).
func (c *SeekCoordinator) LastValidPositionSec() float64 {
	return math.Float64frombits(c.lastValid.Load())
}

// Request starts a new seek, or — if one is already in progress —
// overwrites the pending target and returns immediately (spec §4.7 step
// 1). currentPositionSec is the position to preserve as the
// last-known-valid value.
func (c *SeekCoordinator) Request(targetMs int64, exact bool, currentPositionSec float64) {
	if c.inProgress.Load() {
		c.mu.Lock()
		c.pending = &pendingSeek{targetMs: targetMs, exact: exact}
		c.mu.Unlock()
		return
	}
	c.begin(targetMs, exact, currentPositionSec)
}

func (c *SeekCoordinator) begin(targetMs int64, exact bool, currentPositionSec float64) {
	newEpoch := Epoch(c.epoch.Add(1))

	c.inProgress.Store(true)
	c.gate.SetSeekInProgress(true)
	c.dropAudio.Store(true)
	c.dropVideo.Store(true)
	c.exact.Store(exact)
	c.targetBits.Store(math.Float64bits(float64(targetMs) / 1000))
	c.lastValid.Store(math.Float64bits(currentPositionSec))
	c.requestUs.Store(time.Now().UnixMicro())

	// Invalidate both clocks (spec §4.7 step 3).
	c.audio.Reset()
	c.video.Reset()

	// Unlock master selection hysteresis (spec §4.5 unlock condition: seek).
	c.master.Unlock()

	c.dispatch(SeekCommand{TargetSec: float64(targetMs) / 1000, Exact: exact, Epoch: newEpoch})
}

// NoteFirstFrameAfterSeek is called by the video render loop when it
// dequeues a frame of epoch >= current whose pts satisfies the target
// (spec §4.7 step 6). It clears the video drop flag and emits the
// first_frame_after_seek event exactly once per seek.
func (c *SeekCoordinator) NoteFirstFrameAfterSeek(pts float64) {
	if !c.dropVideo.CompareAndSwap(true, false) {
		return
	}
	if c.emitter != nil {
		c.emitter.Emit(Event{Kind: EventFirstFrameAfterSeek, PTS: pts})
	}
}

// NoteAudioCaughtUp is called by the audio render loop once it observes
// DropVideo() == false, clearing its own drop flag (spec §4.7 step 7).
func (c *SeekCoordinator) NoteAudioCaughtUp() {
	if c.dropAudio.CompareAndSwap(true, false) {
		c.finish()
	}
}

func (c *SeekCoordinator) finish() {
	if c.dropAudio.Load() || c.dropVideo.Load() {
		return
	}
	if !c.inProgress.CompareAndSwap(true, false) {
		return
	}
	c.gate.SetSeekInProgress(false)

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending != nil {
		c.begin(pending.targetMs, pending.exact, c.TargetSec())
	}
}

// ForceReset is invoked by the seek watchdog when a seek has exceeded its
// timeout without a first-frame-after-seek (spec §4.10). It clears the
// in-progress bookkeeping so playback can continue even though the seek
// never completed cleanly; the caller is responsible for actually
// resetting the video pipeline.
func (c *SeekCoordinator) ForceReset() {
	c.dropAudio.Store(false)
	c.dropVideo.Store(false)
	c.inProgress.Store(false)
	c.gate.SetSeekInProgress(false)
}

// RequestAgeExceeds reports whether the in-progress seek has been pending
// longer than d, for the seek watchdog.
func (c *SeekCoordinator) RequestAgeExceeds(now time.Time, d time.Duration) bool {
	if !c.inProgress.Load() {
		return false
	}
	start := c.requestUs.Load()
	return now.UnixMicro()-start > d.Microseconds()
}
