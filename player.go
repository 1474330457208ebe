package avsync

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erparts/reisen"

	"github.com/avsync/avsync/internal/config"
	"github.com/avsync/avsync/internal/logger"
)

// Player is component C12: it owns every collaborator in the engine and
// the fixed set of long-lived worker goroutines (demux, audio-decode,
// audio-render, video-render, and the two watchdogs), and exposes the
// lifecycle operations a host drives (NewPlayer, Play, Pause, Seek,
// SetSpeed, SetRepeat, Release).
type Player struct {
	cfg     config.Config
	emitter Emitter

	decoder *Decoder
	info    StreamInfo

	gate       *AVSyncGate
	audioClock *AudioClock
	videoClock *VideoClock
	master     *MasterSelector
	drift      *DriftController
	resample   *AudioDriftCorrector
	seekCoord  *SeekCoordinator
	states     *audioStateMachine

	videoQueue       *FrameQueue[*reisen.VideoFrame]
	audioPacketQueue *PacketQueue[*reisen.AudioFrame]
	audioFrameQueue  *FrameQueue[*reisen.AudioFrame]

	sink    Sink
	surface Surface

	audioLoop *AudioRenderLoop
	videoLoop *VideoRenderLoop
	watchdogs *Watchdogs

	speedBits atomic.Uint64
	pausedB   atomic.Bool
	repeat    atomic.Int32

	mu    sync.Mutex
	state runState

	started atomic.Bool
	joined  atomic.Bool

	wg          sync.WaitGroup
	stopWorkers chan struct{}
}

// NewPlayer opens path and builds the full collaborator graph, matching
// the teacher's newPlayer bring-up but producing a Player instead of a
// controller.
func NewPlayer(path string, cfg config.Config, ignoreAudio bool, emitter Emitter) (*Player, error) {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	emitter = newFatalOnceEmitter(emitter)
	decoder, info, err := OpenDecoder(path, ignoreAudio)
	if err != nil {
		return nil, err
	}
	if err := decoder.Open(); err != nil {
		decoder.Release()
		return nil, err
	}

	p := &Player{
		cfg: cfg, emitter: emitter,
		decoder: decoder, info: info,
		gate:       NewAVSyncGate(),
		audioClock: NewAudioClock(),
		videoClock: NewVideoClock(),
		drift:      NewDriftController(cfg.DriftNormalMs, cfg.DriftDropMs, cfg.DriftAggressiveMs, cfg.DriftHardResetMs),
		resample:   NewAudioDriftCorrector(cfg.ResampleEngageLowMs, cfg.ResampleEngageHighMs, cfg.ResampleMaxRatio),
		states:     newAudioStateMachine(emitter),

		videoQueue:       NewFrameQueue[*reisen.VideoFrame](cfg.FrameQueueCapacity),
		audioPacketQueue: NewPacketQueue[*reisen.AudioFrame](cfg.PacketQueueCapacity),
		audioFrameQueue:  NewFrameQueue[*reisen.AudioFrame](cfg.FrameQueueCapacity),

		surface: newEbitenSurface(info.Width, info.Height),

		stopWorkers: make(chan struct{}),
	}
	p.speedBits.Store(math.Float64bits(1.0))

	audioStallT := time.Duration(cfg.AudioStallTimeoutMs) * time.Millisecond
	videoStallT := time.Duration(cfg.VideoStallTimeoutMs) * time.Millisecond
	p.master = NewMasterSelector(p.gate, p.audioClock, p.videoClock, info.HasAudio, p.states.State, audioStallT, videoStallT)

	if info.HasAudio {
		sink := newEbitenSink()
		if err := sink.Init(info.SampleRate, 2, bufferBytesFor(info.SampleRate)); err != nil {
			_ = decoder.Close()
			decoder.Release()
			return nil, err
		}
		p.sink = sink
		p.audioClock.Init(time.Duration(sink.LatencyMs())*time.Millisecond, time.Duration(cfg.AudioLatencyFallbackMs)*time.Millisecond)
		if err := p.states.Transition(AudioInitializing, "audio stream found"); err != nil {
			logger.Logger().Warn("audio state transition failed", "err", err)
		}
		if err := p.states.Transition(AudioInitialized, "sink opened"); err != nil {
			logger.Logger().Warn("audio state transition failed", "err", err)
		}
	}

	p.seekCoord = NewSeekCoordinator(p.gate, p.audioClock, p.videoClock, p.master, emitter, p.dispatchSeek)

	p.audioLoop = NewAudioRenderLoop(p.audioFrameQueue, p.sinkOrNop(), p.audioClock, p.gate, p.master, p.seekCoord, p.states, emitter, p.resample, info.SampleRate, 2, cfg.AudioLeadMs, cfg.AudioLagMs, p.isPaused, p.Speed)
	p.videoLoop = NewVideoRenderLoop(p.videoQueue, p.surface, p.videoClock, p.gate, p.master, p.seekCoord, p.drift, emitter, p.isPaused, p.Speed)
	sinkFreezeT := time.Duration(cfg.SinkFreezeTimeoutMs) * time.Millisecond
	p.watchdogs = NewWatchdogs(p.gate, p.audioClock, p.videoClock, p.master, p.seekCoord, p.states, emitter, time.Duration(cfg.WatchdogPeriodMs)*time.Millisecond, audioStallT, time.Duration(cfg.SeekTimeoutMs)*time.Millisecond, time.Duration(cfg.DiagnosticRateMs)*time.Millisecond, sinkFreezeT, func() bool { return info.HasAudio }, p.forceVideoHardReset, p.sinkOrNop().FramesPlayed)

	emitter.Emit(Event{Kind: EventPrepared, At: time.Now()})
	return p, nil
}

// bufferBytesFor sizes the PCM ring buffer to roughly 500ms of stereo
// 16-bit audio at sampleRate, matching the sink-freeze timeout's order of
// magnitude so a full buffer survives one scheduling hiccup.
func bufferBytesFor(sampleRate int) int {
	return sampleRate * 2 * 2 / 2
}

func (p *Player) sinkOrNop() Sink {
	if p.sink != nil {
		return p.sink
	}
	return nopSink{}
}

// nopSink backs AudioRenderLoop when the source has no audio stream; the
// audio-render goroutine is still spawned (spec §5's fixed worker set) but
// the queues stay empty because the demux worker never produces audio
// frames in that case.
type nopSink struct{}

func (nopSink) Init(int, int, int) error    { return nil }
func (nopSink) Write(b []byte) (int, error) { return len(b), nil }
func (nopSink) Start() bool                 { return true }
func (nopSink) Pause()                      {}
func (nopSink) Stop()                       {}
func (nopSink) Flush()                      {}
func (nopSink) Release()                    {}
func (nopSink) FramesPlayed() uint64        { return 0 }
func (nopSink) LatencyMs() int              { return 0 }
func (nopSink) PlayState() SinkPlayState    { return SinkStopped }

// Play starts (or resumes) playback, spawning the fixed worker set on the
// first call.
func (p *Player) Play() {
	p.pausedB.Store(false)
	if p.sink != nil {
		if !p.sink.Start() || p.sink.PlayState() != SinkPlaying {
			_ = p.states.Transition(AudioDead, "sink rejected start")
			p.emit(Event{Kind: EventError, ErrorCode: CodeAudioDead, Err: newError(CodeAudioDead, "Play/sink-start", nil)})
		}
	}
	p.master.Unlock()
	if p.started.CompareAndSwap(false, true) {
		p.spawnWorkers()
	}
}

// Pause freezes rendering without tearing down the workers.
func (p *Player) Pause() {
	p.pausedB.Store(true)
	if p.sink != nil {
		p.sink.Pause()
	}
	if err := p.states.Transition(AudioPaused, "application pause"); err != nil {
		logger.Logger().Debug("audio pause transition skipped", "err", err)
	}
}

func (p *Player) isPaused() bool { return p.pausedB.Load() }

// SetSpeed clamps and stores the playback speed multiplier (spec §6, range
// governed by config.MinSpeed/MaxSpeed).
func (p *Player) SetSpeed(speed float64) {
	if speed < p.cfg.MinSpeed {
		speed = p.cfg.MinSpeed
	}
	if speed > p.cfg.MaxSpeed {
		speed = p.cfg.MaxSpeed
	}
	p.speedBits.Store(math.Float64bits(speed))
}

// Speed returns the current playback speed multiplier.
func (p *Player) Speed() float64 { return math.Float64frombits(p.speedBits.Load()) }

// RepeatMode controls what happens when the container reaches end-of-file
// (spec.md §6's control surface).
type RepeatMode int32

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// SetRepeat sets the repeat mode applied on end-of-file. RepeatOne and
// RepeatAll are treated identically by a single-source Player: both
// re-issue an exact seek to 0 rather than taking a separate code path.
func (p *Player) SetRepeat(mode RepeatMode) { p.repeat.Store(int32(mode)) }

func (p *Player) repeating() bool { return RepeatMode(p.repeat.Load()) != RepeatOff }

func (m RepeatMode) String() string {
	switch m {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// Seek requests a seek to targetMs (spec §4.7). currentPositionSec should
// be the host's best estimate of the pre-seek position (typically
// Diagnostics().VideoClock or AudioClock).
func (p *Player) Seek(targetMs int64, exact bool, currentPositionSec float64) {
	p.seekCoord.Request(targetMs, exact, currentPositionSec)
}

// Diagnostics returns a snapshot matching the periodic watchdog event.
func (p *Player) Diagnostics() Diagnostic {
	return Diagnostic{
		Master:       p.gate.Master(),
		AudioClock:   p.audioClock.GetClock(),
		VideoClock:   p.videoClock.GetClock(),
		DriftSeconds: p.videoClock.GetClock() - p.audioClock.GetClock(),
		AudioStalled: p.audioClock.IsStalled(time.Now(), time.Duration(p.cfg.AudioStallTimeoutMs)*time.Millisecond),
	}
}

// Surface exposes the render target for the host's Draw callback.
func (p *Player) Surface() Surface { return p.surface }

func (p *Player) spawnWorkers() {
	p.watchdogs.Start()
	p.audioLoop.Start()
	p.videoLoop.Start()

	p.wg.Add(2)
	go p.demuxLoop()
	go p.audioDecodeLoop()
}

// dispatchSeek is the callback the seek coordinator uses to hand the
// actual container repositioning to the demux worker, the sole permitted
// caller into the cgo-backed Decoder (spec §5's single-owner rule).
func (p *Player) dispatchSeek(cmd SeekCommand) {
	p.mu.Lock()
	p.state.waitingFirst = true
	p.mu.Unlock()

	if err := p.decoder.Rewind(time.Duration(cmd.TargetSec * float64(time.Second))); err != nil {
		logger.Logger().Error("seek rewind failed", "err", err)
	}
	newEpoch := cmd.Epoch
	p.videoQueue.Flush(newEpoch)
	p.audioPacketQueue.Flush(newEpoch)
	p.audioFrameQueue.Flush(newEpoch)
}

// forceVideoHardReset is invoked by the seek watchdog when a seek never
// completes; it flushes the video pipeline so rendering can resume from
// whatever the decoder produces next.
func (p *Player) forceVideoHardReset() {
	p.videoQueue.Flush(p.seekCoord.Epoch())
	p.videoClock.Reset()
}

// decodeFailureThreshold is the number of consecutive per-packet decode
// errors on a stream before the error is surfaced to the host, per spec
// §7 ("decode errors are swallowed, packet dropped, counted, never
// surfaced unless >= N consecutive"). Mirrors the sustained-failure
// circuit breaker shape the corpus uses for lossy, retry-tolerant loops.
const decodeFailureThreshold = 25

// demuxLoop is the sole goroutine that calls into the cgo-backed decoder
// for reading and for decoding both streams; it pushes decoded video
// frames to videoQueue and hands decoded audio frames to the audio-decode
// worker via audioPacketQueue.
func (p *Player) demuxLoop() {
	defer p.wg.Done()
	log := logger.WithWorker(logger.Logger(), "demux")

	var videoFailures, audioFailures int

	for {
		select {
		case <-p.stopWorkers:
			return
		default:
		}

		kind, found, err := p.decoder.ReadNextPacket()
		if errors.Is(err, io.EOF) {
			p.onEOF(log)
			continue
		}
		if err != nil {
			log.Error("read packet failed", "err", err)
			p.emit(Event{Kind: EventError, ErrorCode: CodeOf(err), Err: err})
			return
		}
		if !found {
			continue
		}

		switch kind {
		case StreamKindVideo:
			frame, err := p.decoder.DecodeVideoFrame()
			if err != nil {
				videoFailures++
				if videoFailures >= decodeFailureThreshold {
					log.Error("decode video frame failed repeatedly", "err", err, "consecutive", videoFailures)
					p.emit(Event{Kind: EventError, ErrorCode: CodeOf(err), Err: err})
					videoFailures = 0
				} else {
					log.Debug("decode video frame failed", "err", err, "consecutive", videoFailures)
				}
				continue
			}
			videoFailures = 0
			if frame == nil {
				continue
			}
			pts, err := frame.PresentationOffset()
			if err != nil {
				continue
			}
			p.videoQueue.Push(frame, pts.Seconds())
		case StreamKindAudio:
			frame, err := p.decoder.DecodeAudioFrame()
			if err != nil {
				audioFailures++
				if audioFailures >= decodeFailureThreshold {
					log.Error("decode audio frame failed repeatedly", "err", err, "consecutive", audioFailures)
					p.emit(Event{Kind: EventError, ErrorCode: CodeOf(err), Err: err})
					audioFailures = 0
				} else {
					log.Debug("decode audio frame failed", "err", err, "consecutive", audioFailures)
				}
				continue
			}
			audioFailures = 0
			if frame == nil {
				continue
			}
			p.audioPacketQueue.Push(frame)
		}
	}
}

// audioDecodeLoop stages raw-decoded audio frames with their presentation
// timestamp before handing them to the audio render loop, keeping that
// loop's steady-state body free of anything that can block on PresentationOffset.
func (p *Player) audioDecodeLoop() {
	defer p.wg.Done()
	log := logger.WithWorker(logger.Logger(), "audio-decode")

	var ptsFailures int

	for {
		item, ok := p.audioPacketQueue.Pop()
		if !ok {
			return
		}
		pts, err := item.Packet.PresentationOffset()
		if err != nil {
			ptsFailures++
			if ptsFailures >= decodeFailureThreshold {
				log.Error("presentation offset unavailable repeatedly", "err", err, "consecutive", ptsFailures)
				p.emit(Event{Kind: EventError, ErrorCode: CodeDecodeAudio, Err: newError(CodeDecodeAudio, "audio-decode/pts", err)})
				ptsFailures = 0
			} else {
				log.Debug("presentation offset unavailable", "err", err, "consecutive", ptsFailures)
			}
			continue
		}
		ptsFailures = 0
		p.audioFrameQueue.Push(item.Packet, pts.Seconds())
	}
}

func (p *Player) onEOF(log *slog.Logger) {
	log.Info("container end reached", "repeat", RepeatMode(p.repeat.Load()))
	p.mu.Lock()
	p.state.eofReached = true
	p.mu.Unlock()
	if p.repeating() {
		p.seekCoord.Request(0, true, p.videoClock.GetClock())
		p.mu.Lock()
		p.state.eofReached = false
		p.mu.Unlock()
		return
	}
	p.emit(Event{Kind: EventCompleted})
	time.Sleep(20 * time.Millisecond)
}

func (p *Player) emit(e Event) {
	e.At = time.Now()
	p.emitter.Emit(e)
}

// Release tears down every worker and releases the decoder/sink. Workers
// are joined in this order: audio-render, then demux and audio-decode
// together (one WaitGroup), then video-render, then the watchdogs. Safe to
// call more than once.
func (p *Player) Release() {
	if !p.joined.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	p.state.shuttingDown = true
	p.mu.Unlock()

	close(p.stopWorkers)
	p.videoQueue.Abort()
	p.audioPacketQueue.Abort()
	p.audioFrameQueue.Abort()

	p.audioLoop.Stop()
	p.wg.Wait() // demux + audio-decode both select on stopWorkers/aborted queues
	p.videoLoop.Stop()
	p.watchdogs.Stop()

	if p.sink != nil {
		p.sink.Release()
	}
	if err := p.decoder.Close(); err != nil {
		logger.Logger().Warn("decoder close failed", "err", err)
	}
	p.decoder.Release()
}
