package avsync

import (
	"errors"
	"io"
	"time"

	"github.com/erparts/reisen"
)

// Initialization errors defined by this package, kept from the teacher's
// own ErrNoVideo/ErrBadSampleRate family (player.go).
var (
	ErrNoVideo         = errors.New("file doesn't include any video stream")
	ErrNilAudioContext = errors.New("file has audio stream but audio.Context is not initialized")
	ErrBadSampleRate   = errors.New("file audio stream and audio context sample rates don't match")
	ErrTooManyChannels = errors.New("file audio streams with more than 2 channels are not supported")
)

// StreamKind distinguishes the two stream types the engine cares about.
// reisen reports other packet types too (data, subtitle, ...); the demux
// worker ignores anything that isn't StreamKindVideo/StreamKindAudio, per
// the non-goal on subtitle parsing.
type StreamKind int

const (
	StreamKindVideo StreamKind = iota
	StreamKindAudio
)

// Decoder is the thin shell over github.com/erparts/reisen named as an
// external collaborator in spec §6. It exposes exactly the primitives the
// demux/decode workers need: open, read one packet at a time, decode one
// frame per stream, seek, close.
type Decoder struct {
	media       *reisen.Media
	videoStream *reisen.VideoStream
	audioStream *reisen.AudioStream // nil if the source has no usable audio
}

// StreamInfo summarizes the streams found in a container, used by the
// player facade to size the video surface and to decide whether to set up
// the audio sink and audio state machine.
type StreamInfo struct {
	HasVideo      bool
	HasAudio      bool
	Width, Height int
	FrameDuration time.Duration
	SampleRate    int
	VideoDuration time.Duration
	AudioDuration time.Duration
}

// OpenDecoder opens path and selects the first video stream (and first
// audio stream, unless ignoreAudio or none exists), exactly as the
// teacher's newPlayer does, but returning the wrapper type this package's
// workers operate on instead of a controller.
func OpenDecoder(path string, ignoreAudio bool) (*Decoder, StreamInfo, error) {
	media, err := reisen.NewMedia(path)
	if err != nil {
		return nil, StreamInfo{}, newError(CodeOpenFailed, "reisen.NewMedia", err)
	}

	videoStreams := media.VideoStreams()
	audioStreams := media.AudioStreams()
	if len(videoStreams) == 0 {
		return nil, StreamInfo{}, newError(CodeNoStreams, "OpenDecoder", ErrNoVideo)
	}
	videoStream := videoStreams[0]

	d := &Decoder{media: media, videoStream: videoStream}
	info := StreamInfo{HasVideo: true, Width: videoStream.Width(), Height: videoStream.Height()}

	frNum, frDenom := videoStream.FrameRate()
	info.FrameDuration = (time.Second * time.Duration(frDenom)) / time.Duration(frNum)
	if vd, err := videoStream.Duration(); err == nil {
		info.VideoDuration = vd
	}

	if len(audioStreams) > 0 && !ignoreAudio {
		d.audioStream = audioStreams[0]
		info.HasAudio = true
		info.SampleRate = d.audioStream.SampleRate()
		if ad, err := d.audioStream.Duration(); err == nil {
			info.AudioDuration = ad
		}
	}
	return d, info, nil
}

// Open opens the decode session and the selected streams, mirroring
// controller_no_audio.go/controller_yes_audio.go's Play() bring-up.
func (d *Decoder) Open() error {
	if err := d.media.OpenDecode(); err != nil {
		return newError(CodeOpenFailed, "media.OpenDecode", err)
	}
	if err := d.videoStream.Open(); err != nil {
		return newError(CodeOpenFailed, "videoStream.Open", err)
	}
	if d.audioStream != nil {
		if err := d.audioStream.Open(); err != nil {
			return newError(CodeOpenFailed, "audioStream.Open", err)
		}
	}
	return nil
}

// Close tears down the decode session (streams + decode context), but
// keeps the underlying media handle (use Release for that).
func (d *Decoder) Close() error {
	var errs []error
	if err := d.videoStream.Close(); err != nil {
		errs = append(errs, err)
	}
	if d.audioStream != nil {
		if err := d.audioStream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.media.CloseDecode(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return newError(CodeInternal, "Decoder.Close", errs[0])
	}
	return nil
}

// Release permanently frees the underlying reisen resources. The decoder
// is unusable afterward.
func (d *Decoder) Release() { d.media.Close() }

// Rewind seeks both streams to position, per the seek coordinator's
// container-seek-to-nearest-keyframe step (spec §4.7 step 4).
func (d *Decoder) Rewind(position time.Duration) error {
	if err := d.videoStream.Rewind(position); err != nil {
		return newError(CodeInternal, "videoStream.Rewind", err)
	}
	if d.audioStream != nil {
		if err := d.audioStream.Rewind(position); err != nil {
			return newError(CodeInternal, "audioStream.Rewind", err)
		}
	}
	return nil
}

// ReadNextPacket is the demux worker's sole step: it pulls one packet
// from the container and reports which stream it belongs to. io.EOF
// signals the natural end of the container.
func (d *Decoder) ReadNextPacket() (StreamKind, bool, error) {
	packet, found, err := d.media.ReadPacket()
	if err != nil {
		return 0, false, newError(CodeDecodeVideo, "media.ReadPacket", err)
	}
	if !found {
		return 0, false, io.EOF
	}
	switch packet.Type() {
	case reisen.StreamVideo:
		if packet.StreamIndex() != d.videoStream.Index() {
			return 0, false, nil
		}
		return StreamKindVideo, true, nil
	case reisen.StreamAudio:
		if d.audioStream == nil || packet.StreamIndex() != d.audioStream.Index() {
			return 0, false, nil
		}
		return StreamKindAudio, true, nil
	default:
		return 0, false, nil
	}
}

// DecodeVideoFrame decodes whatever packet data reisen has queued
// internally for the video stream, mirroring
// controller_no_audio.go's internalReadVideoFrame. A nil frame with no
// error means "packet consumed, no full frame yet" — not EOF.
func (d *Decoder) DecodeVideoFrame() (*reisen.VideoFrame, error) {
	frame, _, err := d.videoStream.ReadVideoFrame()
	if err != nil {
		return nil, newError(CodeDecodeVideo, "videoStream.ReadVideoFrame", err)
	}
	return frame, nil
}

// DecodeAudioFrame decodes whatever packet data reisen has queued
// internally for the audio stream.
func (d *Decoder) DecodeAudioFrame() (*reisen.AudioFrame, error) {
	frame, _, err := d.audioStream.ReadAudioFrame()
	if err != nil {
		return nil, newError(CodeDecodeAudio, "audioStream.ReadAudioFrame", err)
	}
	return frame, nil
}

// HasAudio reports whether an audio stream was selected at open time.
func (d *Decoder) HasAudio() bool { return d.audioStream != nil }
