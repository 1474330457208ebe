package avsync

import (
	stdErrors "errors"
	"fmt"
)

// Code classifies an internal error per the taxonomy in the design:
// decode/open failures, audio death, clock stall, runaway drift, and
// master-loss are all distinguished so the propagation policy (below) can
// decide whether to swallow, demote, recover, or surface.
type Code string

const (
	CodeOpenFailed       Code = "OPEN_FAILED"
	CodeNoStreams        Code = "NO_STREAMS"
	CodeUnsupportedCodec Code = "UNSUPPORTED_CODEC"
	CodeDecodeVideo      Code = "DECODE_VIDEO"
	CodeDecodeAudio      Code = "DECODE_AUDIO"
	CodeAudioDead        Code = "AUDIO_DEAD"
	CodeClockStall       Code = "CLOCK_STALL"
	CodeDriftRunaway     Code = "DRIFT_RUNAWAY"
	CodeAudioMasterLost  Code = "AUDIO_MASTER_LOST"
	CodeInternal         Code = "INTERNAL"
)

// Error is the engine's typed error, carrying the taxonomy code, the
// operation that raised it, and an optional wrapped cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("avsync: %s: %s", e.Code, e.Op)
	}
	return fmt.Sprintf("avsync: %s: %s: %v", e.Code, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError constructs an *Error, wrapping cause with fmt's %w semantics.
func newError(code Code, op string, cause error) error {
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf returns the taxonomy code of err, or CodeInternal if err does not
// carry one.
func CodeOf(err error) Code {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsFatalForAudio reports whether err should demote the master to VIDEO and
// tear down audio, without stopping playback (spec §7: "fatal for audio but
// not for playback").
func IsFatalForAudio(err error) bool {
	switch CodeOf(err) {
	case CodeAudioDead, CodeAudioMasterLost:
		return true
	}
	return false
}

// IsRecoverable reports whether err is handled entirely by the drift/stall
// recovery machinery (§4.6) and should only surface if recovery itself
// fails.
func IsRecoverable(err error) bool {
	switch CodeOf(err) {
	case CodeClockStall, CodeDriftRunaway:
		return true
	}
	return false
}
