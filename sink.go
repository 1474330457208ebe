package avsync

import (
	"io"
	"sync"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2/audio"

	"github.com/avsync/avsync/internal/bufpool"
)

// InitAudioContext creates the process-wide Ebitengine audio context sized
// to path's audio stream sample rate, if one doesn't already exist. It
// must run before NewPlayer for any source with audio, mirroring the
// teacher's CreateAudioContextForMedia bring-up step.
func InitAudioContext(path string) error {
	if audio.CurrentContext() != nil {
		return nil
	}
	media, err := reisen.NewMedia(path)
	if err != nil {
		return newError(CodeOpenFailed, "InitAudioContext", err)
	}
	defer media.Close()

	streams := media.AudioStreams()
	if len(streams) == 0 {
		return nil // video-only source: no context needed
	}
	_ = audio.NewContext(streams[0].SampleRate())
	return nil
}

// SinkPlayState mirrors the three states a platform PCM sink can report
// (spec §6).
type SinkPlayState int

const (
	SinkStopped SinkPlayState = iota
	SinkPaused
	SinkPlaying
)

// Sink is the platform audio collaborator named in spec §6. The engine
// enforces that after Start, PlayState must report SinkPlaying — otherwise
// AudioState transitions to AudioDead.
type Sink interface {
	Init(sampleRate, channels int, bufferBytes int) error
	Write(pcm []byte) (accepted int, err error)
	Start() bool
	Pause()
	Stop()
	Flush()
	Release()
	FramesPlayed() uint64 // liveness only — never used to derive AudioClock
	LatencyMs() int
	PlayState() SinkPlayState
}

// ebitenSink adapts the push-style Sink contract onto Ebitengine's
// pull-style audio.Player: Write() stages bytes into a bounded ring
// buffer; Read() (called by ebiten/oto on its own goroutine) drains it.
// This is the same shape as the teacher's io.Reader-backed audio.Player
// in controller_yes_audio.go, generalized so the audio render loop can
// treat it as a push sink per spec §6.
type ebitenSink struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	cap    int
	closed bool

	player       *audio.Player
	framesPlayed uint64
	latencyMs    int
	sampleRate   int
	channels     int
}

func newEbitenSink() *ebitenSink {
	s := &ebitenSink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *ebitenSink) Init(sampleRate, channels int, bufferBytes int) error {
	ctx := audio.CurrentContext()
	if ctx == nil {
		return newError(CodeAudioDead, "ebitenSink.Init", ErrNilAudioContext)
	}
	if ctx.SampleRate() != sampleRate {
		return newError(CodeAudioDead, "ebitenSink.Init", ErrBadSampleRate)
	}
	if channels > 2 {
		return newError(CodeAudioDead, "ebitenSink.Init", ErrTooManyChannels)
	}
	s.sampleRate = sampleRate
	s.channels = channels
	s.cap = bufferBytes
	s.buf = bufpool.Get(bufferBytes)

	player, err := ctx.NewPlayer(&struct{ io.Reader }{s})
	if err != nil {
		return newError(CodeAudioDead, "ctx.NewPlayer", err)
	}
	s.player = player
	s.latencyMs = 100 // ebiten/oto do not report a queryable device latency; fallback used per spec §4.1
	return nil
}

// Write stages up to len(pcm) bytes, accepting as many as fit in the ring
// buffer without blocking, and returns the number accepted. The audio
// render loop does not retry the remainder of a partial accept: it resets
// AudioClock and moves on to the next frame.
func (s *ebitenSink) Write(pcm []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newError(CodeAudioDead, "ebitenSink.Write", io.ErrClosedPipe)
	}
	room := s.cap - len(s.buf)
	if room <= 0 {
		return 0, nil
	}
	n := len(pcm)
	if n > room {
		n = room
	}
	s.buf = append(s.buf, pcm[:n]...)
	s.cond.Signal()
	return n, nil
}

// Read implements io.Reader for the underlying audio.Player. It blocks
// until data is available or the sink is stopped, returning io.EOF only
// once Stop (or Release) has closed the sink and the buffer is empty, so
// the player tears down cleanly; Flush only discards staged bytes — the same
// EOF-driven restart the teacher relies on in controller_yes_audio.go.
func (s *ebitenSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 && s.closed {
		return 0, io.EOF
	}
	n := copy(p, s.buf)
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	s.framesPlayed += uint64(n / max(1, s.channels*2))
	return n, nil
}

func (s *ebitenSink) Start() bool {
	if s.player == nil {
		return false
	}
	s.player.Play()
	return s.player.IsPlaying()
}

func (s *ebitenSink) Pause() {
	if s.player != nil {
		s.player.Pause()
	}
}

func (s *ebitenSink) Stop() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.player != nil {
		s.player.Pause()
	}
}

func (s *ebitenSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

func (s *ebitenSink) Release() {
	s.Stop()
	if s.player != nil {
		_ = s.player.Close()
	}
	if s.buf != nil {
		bufpool.Put(s.buf[:0])
	}
}

func (s *ebitenSink) FramesPlayed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesPlayed
}

func (s *ebitenSink) LatencyMs() int { return s.latencyMs }

func (s *ebitenSink) PlayState() SinkPlayState {
	if s.player == nil {
		return SinkStopped
	}
	if s.player.IsPlaying() {
		return SinkPlaying
	}
	return SinkPaused
}
