package avsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avsync/avsync/internal/logger"
)

// Watchdogs runs the two background supervisors from spec §4.10: the
// AV-sync watchdog (stall detection, master demotion, periodic
// diagnostics) and the seek watchdog (forces a hard reset if a seek never
// completes).
type Watchdogs struct {
	gate    *AVSyncGate
	audio   *AudioClock
	video   *VideoClock
	master  *MasterSelector
	seek    *SeekCoordinator
	states  *audioStateMachine
	emitter Emitter

	watchdogPeriod time.Duration
	audioStallT    time.Duration
	seekTimeout    time.Duration
	diagRate       time.Duration
	sinkFreezeT    time.Duration

	hasAudio         func() bool
	forceVideoReset  func()
	sinkFramesPlayed func() uint64

	lastFramesPlayed     uint64
	framesPlayedKnown    bool
	framesPlayedFrozenAt time.Time

	stallReported bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatchdogs builds the supervisor pair. forceVideoReset is invoked by
// the seek watchdog when a seek exceeds seekTimeout without completing.
// sinkFramesPlayed samples the active Sink's liveness counter (spec §4.3's
// AudioPlaying -> AudioStoppedBySystem edge): if it stops advancing for
// sinkFreezeT while the state machine reports AudioPlaying, the sink is
// presumed dead underneath the engine and the master demotes to video.
func NewWatchdogs(gate *AVSyncGate, audio *AudioClock, video *VideoClock, master *MasterSelector, seek *SeekCoordinator, states *audioStateMachine, emitter Emitter, watchdogPeriod, audioStallT, seekTimeout, diagRate, sinkFreezeT time.Duration, hasAudio func() bool, forceVideoReset func(), sinkFramesPlayed func() uint64) *Watchdogs {
	return &Watchdogs{
		gate: gate, audio: audio, video: video, master: master, seek: seek, states: states, emitter: emitter,
		watchdogPeriod: watchdogPeriod, audioStallT: audioStallT, seekTimeout: seekTimeout, diagRate: diagRate, sinkFreezeT: sinkFreezeT,
		hasAudio: hasAudio, forceVideoReset: forceVideoReset, sinkFramesPlayed: sinkFramesPlayed,
		stopCh: make(chan struct{}),
	}
}

// Start launches both supervisor goroutines.
func (w *Watchdogs) Start() {
	w.wg.Add(2)
	go w.avSyncLoop()
	go w.seekLoop()
}

// Stop signals both supervisors and waits for them to exit.
func (w *Watchdogs) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watchdogs) avSyncLoop() {
	defer w.wg.Done()
	log := logger.WithWorker(logger.Logger(), "av-sync-watchdog")

	ticker := time.NewTicker(w.watchdogPeriod)
	defer ticker.Stop()
	diagTicker := time.NewTicker(w.diagRate)
	defer diagTicker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			stallErr := newError(CodeClockStall, "watchdog", nil)
			if w.gate.CheckStall(now, w.watchdogPeriod) {
				// CLOCK_STALL is recoverable (spec §4.6/§4.10): gate invalidation
				// plus the next master reselection is the recovery attempt, so
				// only the first tick of a stall episode is surfaced.
				if !w.stallReported {
					log.Warn("master clock stalled", "master", w.gate.Master().String())
					w.emit(Event{Kind: EventError, ErrorCode: CodeClockStall, Err: stallErr})
					if IsRecoverable(stallErr) {
						w.stallReported = true
					}
				}
			} else {
				w.stallReported = false
			}

			if w.hasAudio() && w.master.Current() == MasterAudio {
				if w.audio.IsStalled(now, w.audioStallT) {
					log.Warn("audio stalled mid-play; demoting master to video")
					w.master.Unlock()
					w.master.Select(now)
					w.emit(Event{Kind: EventError, ErrorCode: CodeAudioMasterLost, Err: newError(CodeAudioMasterLost, "watchdog", nil)})
				}
				w.checkSinkLiveness(now, log)
			}
		case <-diagTicker.C:
			w.emit(Event{Kind: EventDiagnostic, Diagnostic: w.snapshot()})
		}
	}
}

// checkSinkLiveness implements the AudioPlaying -> AudioStoppedBySystem edge
// of spec §4.3: Sink.FramesPlayed() is liveness-only, never used to derive
// AudioClock, but a counter that stops advancing while the state machine
// still reports AudioPlaying means the sink died silently underneath the
// engine (device unplugged, OS audio session killed). Demoting master and
// marking the state machine gives the host a chance to notice and recover
// rather than spinning forever waiting on dead PCM writes.
func (w *Watchdogs) checkSinkLiveness(now time.Time, log *slog.Logger) {
	if w.sinkFramesPlayed == nil || w.states == nil {
		return
	}
	played := w.sinkFramesPlayed()
	if !w.framesPlayedKnown {
		w.lastFramesPlayed = played
		w.framesPlayedKnown = true
		return
	}
	if played != w.lastFramesPlayed {
		w.lastFramesPlayed = played
		w.framesPlayedFrozenAt = time.Time{}
		if w.states.State() == AudioStoppedBySystem {
			if err := w.states.Transition(AudioPlaying, "liveness counter resumed"); err != nil {
				log.Warn("audio playing resume transition failed", "err", err)
			}
		}
		return
	}

	if w.states.State() != AudioPlaying {
		w.framesPlayedFrozenAt = time.Time{}
		return
	}
	if w.framesPlayedFrozenAt.IsZero() {
		w.framesPlayedFrozenAt = now
		return
	}
	if now.Sub(w.framesPlayedFrozenAt) < w.sinkFreezeT {
		return
	}

	log.Warn("sink liveness counter frozen; demoting master to video", "frozen_for", now.Sub(w.framesPlayedFrozenAt))
	if err := w.states.Transition(AudioStoppedBySystem, "liveness counter frozen"); err != nil {
		log.Warn("audio stopped-by-system transition failed", "err", err)
	}
	w.master.Unlock()
	w.master.Select(now)
	w.emit(Event{Kind: EventError, ErrorCode: CodeAudioMasterLost, Err: newError(CodeAudioMasterLost, "watchdog/sink-freeze", nil)})
	w.framesPlayedFrozenAt = now
}

func (w *Watchdogs) seekLoop() {
	defer w.wg.Done()
	log := logger.WithWorker(logger.Logger(), "seek-watchdog")

	ticker := time.NewTicker(w.watchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			if w.seek.RequestAgeExceeds(now, w.seekTimeout) {
				log.Warn("seek exceeded timeout without first-frame-after-seek; forcing video reset")
				w.seek.ForceReset()
				if w.forceVideoReset != nil {
					w.forceVideoReset()
				}
			}
		}
	}
}

// snapshot builds the periodic diagnostic event payload (spec §6,
// "diagnostic").
func (w *Watchdogs) snapshot() Diagnostic {
	return Diagnostic{
		Master:       w.gate.Master(),
		AudioClock:   w.audio.GetClock(),
		VideoClock:   w.video.GetClock(),
		DriftSeconds: w.video.GetClock() - w.audio.GetClock(),
		AudioStalled: w.audio.IsStalled(time.Now(), w.audioStallT),
	}
}

func (w *Watchdogs) emit(e Event) {
	if w.emitter != nil {
		e.At = time.Now()
		w.emitter.Emit(e)
	}
}
