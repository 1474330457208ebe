package avsync

import (
	"fmt"
	"sync/atomic"
)

// AudioState is the finite state of the audio pipeline (spec §4.3).
type AudioState int32

const (
	AudioNoAudio AudioState = iota
	AudioInitializing
	AudioInitialized
	AudioReady
	AudioPlaying
	AudioPaused
	AudioStoppedBySystem
	AudioDead
)

func (s AudioState) String() string {
	switch s {
	case AudioNoAudio:
		return "no_audio"
	case AudioInitializing:
		return "initializing"
	case AudioInitialized:
		return "initialized"
	case AudioReady:
		return "ready"
	case AudioPlaying:
		return "playing"
	case AudioPaused:
		return "paused"
	case AudioStoppedBySystem:
		return "stopped_by_system"
	case AudioDead:
		return "dead"
	default:
		return "unknown"
	}
}

// audioTransition is one row of the transition table in spec §4.3.
type audioTransition struct {
	from    AudioState
	to      AudioState
	trigger string
}

// audioTransitionTable declares every legal transition. Implementations
// built from this table (rather than nested "emit event then fall
// through" logic) keep every state change auditable — see design note on
// declarative transition tables.
var audioTransitionTable = []audioTransition{
	{AudioNoAudio, AudioInitializing, "audio stream found"},
	{AudioInitializing, AudioInitialized, "sink opened"},
	{AudioInitialized, AudioReady, "first pcm buffer accepted"},
	{AudioReady, AudioPlaying, "sink reports playing"},
	{AudioPlaying, AudioPaused, "application pause"},
	{AudioPaused, AudioInitialized, "application resume"},
	{AudioPlaying, AudioStoppedBySystem, "liveness counter frozen"},
	{AudioStoppedBySystem, AudioPlaying, "liveness counter resumed"},
}

// audioStateMachine owns the current AudioState and emits an event on
// every legal transition. "any -> DEAD" is handled separately since it's
// valid from every state. current is read from the audio-render loop, the
// video-render loop and watchdogs (via MasterSelector's audioState
// closure), and the host's Play/Pause calls, so it's atomic like every
// other piece of cross-goroutine state in the engine (gate.go, player.go's
// pausedB/speedBits).
type audioStateMachine struct {
	current atomic.Int32
	emitter Emitter
}

func newAudioStateMachine(emitter Emitter) *audioStateMachine {
	m := &audioStateMachine{emitter: emitter}
	m.current.Store(int32(AudioNoAudio))
	return m
}

func (m *audioStateMachine) State() AudioState { return AudioState(m.current.Load()) }

// Transition attempts to move to `to`. It returns an error if the
// transition is not declared in audioTransitionTable and to != AudioDead.
func (m *audioStateMachine) Transition(to AudioState, trigger string) error {
	if to == AudioDead {
		m.current.Store(int32(AudioDead))
		m.emit(AudioDead)
		return nil
	}
	from := m.State()
	for _, t := range audioTransitionTable {
		if t.from == from && t.to == to {
			if !m.current.CompareAndSwap(int32(from), int32(to)) {
				return fmt.Errorf("avsync: concurrent audio state transition raced out %s -> %s (trigger: %s)", from, to, trigger)
			}
			m.emit(to)
			return nil
		}
	}
	return fmt.Errorf("avsync: illegal audio state transition %s -> %s (trigger: %s)", from, to, trigger)
}

func (m *audioStateMachine) emit(to AudioState) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(Event{Kind: EventAudioState, AudioState: to})
}
