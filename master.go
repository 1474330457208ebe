package avsync

import (
	"math"
	"time"
)

// MasterSelector chooses AUDIO vs VIDEO as the authoritative clock from
// clock validity and liveness, with hysteresis (spec §4.5).
type MasterSelector struct {
	gate        *AVSyncGate
	audio       *AudioClock
	video       *VideoClock
	audioState  func() AudioState
	hasAudio    bool
	audioStallT time.Duration
	videoStallT time.Duration

	locked bool
	kind   MasterKind
}

// NewMasterSelector constructs a selector. audioStateFn reads the live
// AudioState without introducing a back-reference to the audio render
// loop (per the design note on eliminating back-pointers, the selector
// only holds a read-only closure).
func NewMasterSelector(gate *AVSyncGate, audio *AudioClock, video *VideoClock, hasAudio bool, audioStateFn func() AudioState, audioStallT, videoStallT time.Duration) *MasterSelector {
	return &MasterSelector{
		gate:        gate,
		audio:       audio,
		video:       video,
		audioState:  audioStateFn,
		hasAudio:    hasAudio,
		audioStallT: audioStallT,
		videoStallT: videoStallT,
		kind:        MasterNone,
	}
}

// Unlock clears the hysteresis lock. Callers invoke this on seek,
// pause->play, and source change, per spec §4.5.
func (s *MasterSelector) Unlock() { s.locked = false }

// Current returns the last-selected master without re-evaluating.
func (s *MasterSelector) Current() MasterKind { return s.kind }

// Select evaluates the selection rules and applies hysteresis. It returns
// the resulting master kind. A master switch is "soft": no clock is ever
// reset here, only the gate's bookkeeping changes.
func (s *MasterSelector) Select(now time.Time) MasterKind {
	if !s.hasAudio {
		s.kind = MasterVideo
		s.locked = true
		s.applyAndCheck(now)
		return s.kind
	}

	audioHealthy := s.audio.Valid() && !s.audio.IsStalled(now, s.audioStallT) && s.audioState() == AudioPlaying

	if s.locked {
		// Hysteresis: stay locked unless the current master became invalid.
		if s.kind == MasterAudio && !audioHealthy {
			s.locked = false
		}
		videoHealthy := s.video.Valid() && !s.video.IsStalled(now, s.videoStallT)
		if s.kind == MasterVideo && !videoHealthy {
			s.locked = false
		}
		if s.kind == MasterVideo && s.hasAudio && audioHealthy {
			// Video master is never invalidated purely by audio becoming
			// healthy; only an explicit Unlock() (seek/pause-resume/source
			// change) re-opens master selection, per spec §4.5.
			_ = videoHealthy
		}
		if s.locked {
			s.applyAndCheck(now)
			return s.kind
		}
	}

	switch {
	case audioHealthy:
		s.kind = MasterAudio
	default:
		s.kind = MasterVideo
	}
	s.locked = true
	s.applyAndCheck(now)
	return s.kind
}

// applyAndCheck writes the selection to the gate and enforces the fatal
// invariants from spec §4.5. In debug builds these panic; in release
// builds (debugAssertions == false) they force-demote to VIDEO and
// invalidate the gate instead of crashing playback.
func (s *MasterSelector) applyAndCheck(now time.Time) {
	s.gate.SetMaster(s.kind)
	s.gate.NoteMasterAdvance(now)

	switch s.kind {
	case MasterAudio:
		if !s.audio.Valid() || s.audio.IsStalled(now, s.audioStallT) {
			s.violate(now, "master==AUDIO requires AudioClock valid and not stalled")
			return
		}
		if math.IsNaN(s.audio.GetClock()) {
			s.violate(now, "master==AUDIO requires a non-NaN audio clock")
			return
		}
	case MasterVideo:
		if !s.video.Valid() && s.hasAudio {
			// With audio present and video invalid, a breach is reported
			// only while the audio clock is valid; while both clocks are
			// invalid (idle before the first frame) it is not flagged.
			if s.audio.Valid() {
				s.violate(now, "master==VIDEO requires VideoClock valid or no audio")
				return
			}
		}
	}
	s.gate.SetValid()
}

func (s *MasterSelector) violate(now time.Time, reason string) {
	if debugAssertions {
		panic("MasterSelector: " + reason)
	}
	s.kind = MasterVideo
	s.locked = true
	s.gate.SetMaster(MasterVideo)
	s.gate.Invalidate(reason)
}
