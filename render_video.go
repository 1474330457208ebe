package avsync

import (
	"log/slog"
	"time"

	"github.com/erparts/reisen"

	"github.com/avsync/avsync/internal/logger"
)

// VideoRenderLoop is worker C10: it peeks decoded video frames, compares
// pts against the current master, and sleeps, drops, or presents according
// to the drift table of spec §4.6/§4.9. VideoClock only advances on a
// confirmed Surface.Present.
type VideoRenderLoop struct {
	queue   *FrameQueue[*reisen.VideoFrame]
	surface Surface
	clock   *VideoClock
	gate    *AVSyncGate
	master  *MasterSelector
	seek    *SeekCoordinator
	drift   *DriftController
	emitter Emitter

	paused func() bool
	speed  func() float64

	lastRenderUs int64

	refWallUs      int64
	refPTS         float64
	haveRef        bool
	lastMasterKind MasterKind

	stopCh chan struct{}
	done   chan struct{}
}

// NewVideoRenderLoop builds the loop. speed scales the computed sleep
// delta so faster-than-1x playback catches up to master sooner and
// slower-than-1x eases off, per spec.md §6's SetSpeed control surface.
func NewVideoRenderLoop(queue *FrameQueue[*reisen.VideoFrame], surface Surface, clock *VideoClock, gate *AVSyncGate, master *MasterSelector, seek *SeekCoordinator, drift *DriftController, emitter Emitter, paused func() bool, speed func() float64) *VideoRenderLoop {
	return &VideoRenderLoop{
		queue: queue, surface: surface, clock: clock, gate: gate, master: master, seek: seek, drift: drift, emitter: emitter,
		paused: paused, speed: speed,
		stopCh: make(chan struct{}), done: make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *VideoRenderLoop) Start() { go l.run() }

// Stop signals the loop to exit and waits for it.
func (l *VideoRenderLoop) Stop() {
	close(l.stopCh)
	<-l.done
}

func (l *VideoRenderLoop) run() {
	defer close(l.done)
	log := logger.WithWorker(logger.Logger(), "video-render")

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

		item, ok := l.queue.Peek()
		if !ok {
			time.Sleep(2 * time.Millisecond)
			continue
		}

		if l.seek.InProgress() && item.Epoch < l.seek.Epoch() {
			l.queue.Pop()
			continue
		}

		if l.seek.DropVideo() {
			if l.seek.Exact() && item.PTS < l.seek.TargetSec() {
				l.queue.Pop()
				continue
			}
			l.queue.Pop()
			l.present(item, log)
			l.seek.NoteFirstFrameAfterSeek(item.PTS)
			l.haveRef = false
			continue
		}

		now := time.Now()
		masterKind := l.master.Current()
		if masterKind != l.lastMasterKind {
			l.lastMasterKind = masterKind
			l.haveRef = false
		}

		if !l.gate.IsOpen() {
			l.queue.Pop()
			l.present(item, log)
			continue
		}

		if masterKind == MasterVideo {
			l.paceAgainstWallClock(item.PTS, now)
			l.queue.Pop()
			l.present(item, log)
			continue
		}

		masterSec := secFromUs(l.gate.AudioClockUs())
		diff := item.PTS - masterSec

		switch l.drift.Evaluate(diff) {
		case DriftNormal:
			if diff > 0.002 {
				rate := 1.0
				if l.speed != nil {
					if s := l.speed(); s > 0 {
						rate = s
					}
				}
				time.Sleep(time.Duration(diff / rate * float64(time.Second)))
			}
			l.queue.Pop()
			l.present(item, log)
		case DriftDropUntilCaughtUp:
			if diff < 0 {
				l.queue.Pop() // video behind: drop to catch up
				continue
			}
			l.queue.Pop()
			l.present(item, log)
		case DriftAggressiveDrop:
			l.queue.Pop()
			if diff < 0 {
				continue // far behind: drop without presenting
			}
			l.present(item, log)
		case DriftResync:
			log.Warn("video drift exceeded resync threshold", "diff_ms", int(diff*1000))
			l.haveRef = false
			l.clock.ForceSet(masterSec, now)
			l.queue.Flush(l.queue.CurrentEpoch())
			if next, ok := l.firstFrameAtOrAfter(masterSec); ok {
				l.present(next, log)
			}
			l.emit(Event{Kind: EventError, ErrorCode: CodeDriftRunaway, Err: newError(CodeDriftRunaway, "video-render resync", nil)})
		case DriftHardReset:
			log.Error("video drift exceeded hard reset threshold", "diff_ms", int(diff*1000))
			l.haveRef = false
			l.queue.Flush(l.queue.CurrentEpoch())
			l.clock.Reset()
			l.master.Select(now)
			l.emit(Event{Kind: EventError, ErrorCode: CodeDriftRunaway, Err: newError(CodeDriftRunaway, "video-render hard reset", nil)})
		}
	}
}

// paceAgainstWallClock holds the video render loop to the source frame
// cadence when video is its own master: the first frame after a master
// switch establishes a (wall-clock, pts) reference point, and every later
// frame sleeps until wallclock has advanced by the same amount as pts has,
// scaled by the current playback speed (spec.md §8 e2e scenario 2,
// "frame cadence ≈ source fps ±10%"), the push-loop analogue of the
// teacher's noLockPosition wall-clock comparison.
func (l *VideoRenderLoop) paceAgainstWallClock(pts float64, now time.Time) {
	if !l.haveRef {
		l.refWallUs = now.UnixMicro()
		l.refPTS = pts
		l.haveRef = true
		return
	}

	rate := 1.0
	if l.speed != nil {
		if s := l.speed(); s > 0 {
			rate = s
		}
	}
	targetWallUs := l.refWallUs + int64((pts-l.refPTS)/rate*1e6)
	if sleepUs := targetWallUs - now.UnixMicro(); sleepUs > 0 {
		time.Sleep(time.Duration(sleepUs) * time.Microsecond)
	}
}

// firstFrameAtOrAfter drains the queue looking for the first frame whose
// pts has caught up to masterSec, per spec §4.6's resync step ("force-
// present next frame >= audio_clock"). Frames behind masterSec are
// discarded; when the queue is empty it blocks for more frames. Returns
// false only if the queue is aborted before such a frame arrives.
func (l *VideoRenderLoop) firstFrameAtOrAfter(masterSec float64) (FrameItem[*reisen.VideoFrame], bool) {
	for {
		next, ok := l.queue.Pop()
		if !ok {
			var zero FrameItem[*reisen.VideoFrame]
			return zero, false
		}
		if next.PTS < masterSec {
			continue
		}
		return next, true
	}
}

func (l *VideoRenderLoop) present(item FrameItem[*reisen.VideoFrame], log *slog.Logger) {
	now := time.Now()
	if !l.surface.Present(item.Frame) {
		log.Warn("surface present failed", "pts", item.PTS)
		return
	}
	l.clock.Update(item.PTS, now)
	l.gate.UpdateVideoClock(int64(item.PTS*1e6), now)
	l.lastRenderUs = now.UnixMicro()
	l.master.Select(now)
}

func (l *VideoRenderLoop) emit(e Event) {
	if l.emitter != nil {
		e.At = time.Now()
		l.emitter.Emit(e)
	}
}
