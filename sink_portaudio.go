//go:build portaudio

package avsync

import (
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// portaudioSink is an alternate Sink backend built on
// github.com/gordonklaus/portaudio, the binding
// doismellburning-samoyed uses for its real-time radio audio I/O
// (src/audio.go). It demonstrates that Sink (spec §6) is genuinely
// swappable: everything in sink.go's ebitenSink contract is reimplemented
// here against a different platform audio API, with no changes required
// to AudioClock, the render loop, or the gate.
//
// Build with -tags portaudio to select this backend instead of the
// default Ebitengine/oto one.
type portaudioSink struct {
	mu       sync.Mutex
	buf      []byte
	cap      int
	channels int

	stream       *portaudio.Stream
	framesPlayed atomic.Uint64
	playing      atomic.Bool
	latencyMs    int
}

func newPortaudioSink() *portaudioSink { return &portaudioSink{} }

func (s *portaudioSink) Init(sampleRate, channels int, bufferBytes int) error {
	if err := portaudio.Initialize(); err != nil {
		return newError(CodeAudioDead, "portaudio.Initialize", err)
	}
	s.channels = channels
	s.cap = bufferBytes
	s.buf = make([]byte, 0, bufferBytes)

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), 0, s.callback)
	if err != nil {
		return newError(CodeAudioDead, "portaudio.OpenDefaultStream", err)
	}
	s.stream = stream
	info := stream.Info()
	s.latencyMs = int(info.OutputLatency.Milliseconds())
	return nil
}

// callback is PortAudio's pull callback: it drains whatever has been
// staged by Write into the device's output buffer, zero-filling any
// shortfall rather than blocking the audio thread.
func (s *portaudioSink) callback(out []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	need := len(out) * 2
	n := min(need, len(s.buf))
	for i := 0; i < n/2; i++ {
		out[i] = int16(uint16(s.buf[2*i]) | uint16(s.buf[2*i+1])<<8)
	}
	for i := n / 2; i < len(out); i++ {
		out[i] = 0
	}
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	s.framesPlayed.Add(uint64(n / 2 / max(1, s.channels)))
}

func (s *portaudioSink) Write(pcm []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.cap - len(s.buf)
	if room <= 0 {
		return 0, nil
	}
	n := len(pcm)
	if n > room {
		n = room
	}
	s.buf = append(s.buf, pcm[:n]...)
	return n, nil
}

func (s *portaudioSink) Start() bool {
	if s.stream == nil {
		return false
	}
	if err := s.stream.Start(); err != nil {
		return false
	}
	s.playing.Store(true)
	return true
}

func (s *portaudioSink) Pause() {
	if s.stream != nil {
		_ = s.stream.Stop()
	}
	s.playing.Store(false)
}

func (s *portaudioSink) Stop() {
	s.Pause()
	s.Flush()
}

func (s *portaudioSink) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.mu.Unlock()
}

func (s *portaudioSink) Release() {
	s.Stop()
	if s.stream != nil {
		_ = s.stream.Close()
	}
	portaudio.Terminate()
}

func (s *portaudioSink) FramesPlayed() uint64 { return s.framesPlayed.Load() }
func (s *portaudioSink) LatencyMs() int       { return s.latencyMs }

func (s *portaudioSink) PlayState() SinkPlayState {
	if s.stream == nil {
		return SinkStopped
	}
	if s.playing.Load() {
		return SinkPlaying
	}
	return SinkPaused
}
