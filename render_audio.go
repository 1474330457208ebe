package avsync

import (
	"time"

	"github.com/erparts/reisen"

	"github.com/avsync/avsync/internal/logger"
)

// AudioRenderLoop is worker C9: it pops decoded audio frames, applies the
// lead/lag drop-or-sleep policy, writes PCM to the Sink, and is the single
// writer of AudioClock (spec §4.8).
type AudioRenderLoop struct {
	queue    *FrameQueue[*reisen.AudioFrame]
	sink     Sink
	clock    *AudioClock
	gate     *AVSyncGate
	master   *MasterSelector
	seek     *SeekCoordinator
	states   *audioStateMachine
	emitter  Emitter
	resample *AudioDriftCorrector

	sampleRate int
	channels   int

	leadSec float64
	lagSec  float64

	paused func() bool
	speed  func() float64

	stopCh chan struct{}
	done   chan struct{}
}

// NewAudioRenderLoop builds the loop. leadMs/lagMs come from Config
// (defaults 40ms/-80ms).
func NewAudioRenderLoop(queue *FrameQueue[*reisen.AudioFrame], sink Sink, clock *AudioClock, gate *AVSyncGate, master *MasterSelector, seek *SeekCoordinator, states *audioStateMachine, emitter Emitter, resample *AudioDriftCorrector, sampleRate, channels, leadMs, lagMs int, paused func() bool, speed func() float64) *AudioRenderLoop {
	return &AudioRenderLoop{
		queue: queue, sink: sink, clock: clock, gate: gate, master: master, seek: seek, states: states, emitter: emitter, resample: resample,
		sampleRate: sampleRate, channels: channels,
		leadSec: float64(leadMs) / 1000, lagSec: float64(lagMs) / 1000,
		paused: paused, speed: speed,
		stopCh: make(chan struct{}), done: make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *AudioRenderLoop) Start() { go l.run() }

// Stop signals the loop to exit and waits for it.
func (l *AudioRenderLoop) Stop() {
	close(l.stopCh)
	<-l.done
}

func (l *AudioRenderLoop) run() {
	defer close(l.done)
	log := logger.WithWorker(logger.Logger(), "audio-render")

	currentEpoch := l.queue.CurrentEpoch()

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		if l.paused != nil {
			for l.paused() {
				select {
				case <-l.stopCh:
					return
				case <-time.After(5 * time.Millisecond):
				}
			}
		}

		item, ok := l.queue.Pop()
		if !ok {
			return // aborted and drained
		}

		if item.Epoch != currentEpoch {
			currentEpoch = item.Epoch
		}
		if l.seek.InProgress() && item.Epoch < l.seek.Epoch() {
			continue // stale frame from before the current seek
		}

		if l.seek.DropAudio() {
			if !l.seek.DropVideo() && (!l.seek.Exact() || item.PTS >= l.seek.TargetSec()) {
				l.seek.NoteAudioCaughtUp()
			} else {
				continue
			}
		}

		now := time.Now()
		if l.master.Current() == MasterVideo && l.gate.IsOpen() {
			masterSec := secFromUs(l.gate.VideoClockUs())
			diff := item.PTS - masterSec
			if l.resample != nil {
				l.resample.Observe(diff)
			}
			switch {
			case diff > l.leadSec:
				sleep := 5 * time.Millisecond
				if l.resample != nil {
					if ratio := l.resample.Ratio(); ratio != 0 {
						sleep = time.Duration(float64(sleep) * (1 + ratio))
					}
				}
				time.Sleep(sleep)
				// the frame is already dequeued, so after the sleep it is
				// written below; the lead check runs again for the next frame.
			case diff < l.lagSec:
				continue // too far behind master; drop
			}
		}

		pcm := item.Frame.Data()
		n, err := l.sink.Write(pcm)
		if err != nil {
			log.Error("sink write failed", "err", err)
			l.clock.Reset()
			l.transition(AudioDead, "sink write error")
			l.emit(Event{Kind: EventError, ErrorCode: CodeAudioDead, Err: newError(CodeAudioDead, "audio-render/sink-write", err)})
			continue
		}
		if n < len(pcm) {
			l.clock.Reset()
			// partial accept: the sink's ring buffer is full. Treat as a
			// rejection for clock purposes and retry the remainder is not
			// attempted — the next frame will carry fresher audio instead.
			continue
		}

		duration := frameDurationSec(len(pcm), l.sampleRate, l.channels)
		l.clock.Update(item.PTS, duration, now)
		l.gate.UpdateAudioClock(int64(item.PTS*1e6), now)

		switch l.states.State() {
		case AudioInitialized:
			l.transition(AudioReady, "first pcm buffer accepted")
		case AudioReady:
			if l.sink.PlayState() == SinkPlaying {
				l.transition(AudioPlaying, "sink reports playing")
			}
		}

		l.master.Select(now)
	}
}

func (l *AudioRenderLoop) transition(to AudioState, trigger string) {
	if err := l.states.Transition(to, trigger); err != nil {
		logger.Logger().Warn("illegal audio state transition", "err", err)
	}
}

func (l *AudioRenderLoop) emit(e Event) {
	if l.emitter != nil {
		e.At = time.Now()
		l.emitter.Emit(e)
	}
}

func secFromUs(us int64) float64 { return float64(us) / 1e6 }

// frameDurationSec derives a PCM buffer's playback duration from its byte
// length, matching the 16-bit stereo/mono layout reisen decodes audio into.
func frameDurationSec(byteLen, sampleRate, channels int) float64 {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := byteLen / (2 * channels)
	return float64(frames) / float64(sampleRate)
}
