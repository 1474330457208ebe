package avsync

import (
	"sync/atomic"
	"time"
)

// MasterKind identifies which clock is authoritative.
type MasterKind int32

const (
	MasterNone MasterKind = iota
	MasterAudio
	MasterVideo
)

func (k MasterKind) String() string {
	switch k {
	case MasterAudio:
		return "AUDIO"
	case MasterVideo:
		return "VIDEO"
	default:
		return "NONE"
	}
}

// AVSyncGate is the authoritative, lock-free (atomics only) gate
// controlling whether any worker may advance the media clock or present
// frames (spec §4.4). No frame may be presented, no PCM written, no
// scheduling sleep taken, while IsOpen() is false — except the one path
// scheduling the frame that will make it true again.
type AVSyncGate struct {
	master              atomic.Int32
	masterValid         atomic.Bool
	audioClockUs        atomic.Int64
	videoClockUs        atomic.Int64
	lastMasterAdvanceUs atomic.Int64
	seekInProgress      atomic.Bool
	invalidationReason  atomic.Value // string
}

// NewAVSyncGate returns a gate with master=NONE, invalid, not seeking.
func NewAVSyncGate() *AVSyncGate {
	g := &AVSyncGate{}
	g.invalidationReason.Store("uninitialized")
	return g
}

// SetMaster assigns the authoritative clock kind. It does not by itself
// mark the gate valid — callers pair this with SetValid per the master
// selector's decisions.
func (g *AVSyncGate) SetMaster(kind MasterKind) { g.master.Store(int32(kind)) }

// Master returns the current master kind.
func (g *AVSyncGate) Master() MasterKind { return MasterKind(g.master.Load()) }

// SetValid marks the gate valid, clearing any invalidation reason.
func (g *AVSyncGate) SetValid() {
	g.masterValid.Store(true)
	g.invalidationReason.Store("")
}

// Invalidate transitions the gate to invalid, recording a textual reason
// for diagnostics (spec: "transitioning to invalid requires a textual
// reason").
func (g *AVSyncGate) Invalidate(reason string) {
	g.masterValid.Store(false)
	g.invalidationReason.Store(reason)
}

// InvalidationReason returns the last reason passed to Invalidate.
func (g *AVSyncGate) InvalidationReason() string {
	v, _ := g.invalidationReason.Load().(string)
	return v
}

// IsOpen reports whether workers may advance the clock or present: the
// gate is open iff masterValid OR a seek is in progress (the seek
// coordinator is responsible for re-establishing validity afterward).
func (g *AVSyncGate) IsOpen() bool {
	return g.masterValid.Load() || g.seekInProgress.Load()
}

// SetSeekInProgress flips the seek bypass flag.
func (g *AVSyncGate) SetSeekInProgress(inProgress bool) { g.seekInProgress.Store(inProgress) }

// SeekInProgress reports the current seek bypass state.
func (g *AVSyncGate) SeekInProgress() bool { return g.seekInProgress.Load() }

// UpdateAudioClock records the latest audio clock value, in microseconds
// of media time, and bumps the last-master-advance timestamp if audio is
// currently master.
func (g *AVSyncGate) UpdateAudioClock(us int64, now time.Time) {
	g.audioClockUs.Store(us)
	if g.Master() == MasterAudio {
		g.lastMasterAdvanceUs.Store(now.UnixMicro())
	}
}

// UpdateVideoClock records the latest video clock value and bumps the
// last-master-advance timestamp if video is currently master.
func (g *AVSyncGate) UpdateVideoClock(us int64, now time.Time) {
	g.videoClockUs.Store(us)
	if g.Master() == MasterVideo {
		g.lastMasterAdvanceUs.Store(now.UnixMicro())
	}
}

// AudioClockUs returns the last audio clock value in microseconds.
func (g *AVSyncGate) AudioClockUs() int64 { return g.audioClockUs.Load() }

// VideoClockUs returns the last video clock value in microseconds.
func (g *AVSyncGate) VideoClockUs() int64 { return g.videoClockUs.Load() }

// CheckStall returns true if now-lastMasterAdvance exceeds threshold while
// the gate is open for non-seek reasons, and invalidates the gate with the
// standard stall reason when it does (spec §4.4).
func (g *AVSyncGate) CheckStall(now time.Time, threshold time.Duration) bool {
	if g.seekInProgress.Load() {
		return false
	}
	if !g.masterValid.Load() {
		return false
	}
	last := g.lastMasterAdvanceUs.Load()
	if last == 0 {
		return false
	}
	if now.UnixMicro()-last > threshold.Microseconds() {
		g.Invalidate("MASTER CLOCK STALLED")
		return true
	}
	return false
}

// NoteMasterAdvance lets the currently-selected master's render loop
// record an advance explicitly, independent of UpdateAudioClock/
// UpdateVideoClock (used right after a master switch so the stall window
// doesn't immediately trip).
func (g *AVSyncGate) NoteMasterAdvance(now time.Time) {
	g.lastMasterAdvanceUs.Store(now.UnixMicro())
}
