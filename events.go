package avsync

import (
	"sync/atomic"
	"time"

	"github.com/avsync/avsync/internal/logger"
)

// EventKind enumerates every host-visible event named in the design (§6).
type EventKind string

const (
	EventPrepared            EventKind = "prepared"
	EventFirstFrameAfterSeek EventKind = "first_frame_after_seek"
	EventAudioState          EventKind = "audio_state"
	EventDiagnostic          EventKind = "diagnostic"
	EventError               EventKind = "error"
	EventCompleted           EventKind = "completed"
)

// Event is the payload delivered to a host-registered Emitter. Fields not
// relevant to Kind are left zero.
type Event struct {
	Kind EventKind
	At   time.Time

	// EventAudioState
	AudioState AudioState

	// EventFirstFrameAfterSeek
	PTS float64

	// EventError
	ErrorCode Code
	Err       error

	// EventDiagnostic
	Diagnostic Diagnostic

	// EventCompleted has no extra payload.
}

// Diagnostic is the periodic (~1Hz) snapshot emitted by the AV-sync
// watchdog, and is also available on demand via Player.Diagnostics.
type Diagnostic struct {
	Master       MasterKind
	AudioClock   float64
	VideoClock   float64
	DriftSeconds float64
	AudioStalled bool
}

// Emitter receives engine events. Per the design note on eliminating
// context<->renderer back-pointers, render loops and watchdogs never hold a
// reference back to the player; they only hold an Emitter captured at
// construction time.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// nopEmitter discards every event; used before a host registers one.
type nopEmitter struct{}

func (nopEmitter) Emit(Event) {}

// fatalOnceEmitter applies spec §7's propagation policy at the single point
// every worker's events funnel through: the first fatal-for-audio error
// (AUDIO_DEAD, AUDIO_MASTER_LOST — demotes master, playback continues
// silently) reaches the host; subsequent ones are only logged, since the
// host already knows audio is gone. Every other event, including
// recoverable codes that went through their own per-episode gating at the
// source, forwards unconditionally. Wrapping the Emitter once here, rather
// than gating in each of Player/AudioRenderLoop/Watchdogs individually,
// means every caller's plain l.emitter.Emit(e) already gets the policy for
// free.
type fatalOnceEmitter struct {
	inner    Emitter
	reported atomic.Bool
}

func newFatalOnceEmitter(inner Emitter) *fatalOnceEmitter {
	return &fatalOnceEmitter{inner: inner}
}

func (f *fatalOnceEmitter) Emit(e Event) {
	if e.Kind == EventError && IsFatalForAudio(e.Err) {
		if !f.reported.CompareAndSwap(false, true) {
			logger.Logger().Warn("fatal-for-audio error suppressed; already reported once", "code", e.ErrorCode)
			return
		}
	}
	f.inner.Emit(e)
}
