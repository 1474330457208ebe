package avsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioStateMachineLegalTransitionSequence(t *testing.T) {
	var events []AudioState
	m := newAudioStateMachine(EmitterFunc(func(e Event) {
		require.Equal(t, EventAudioState, e.Kind)
		events = append(events, e.AudioState)
	}))

	require.Equal(t, AudioNoAudio, m.State())
	require.NoError(t, m.Transition(AudioInitializing, "audio stream found"))
	require.NoError(t, m.Transition(AudioInitialized, "sink opened"))
	require.NoError(t, m.Transition(AudioReady, "first pcm buffer accepted"))
	require.NoError(t, m.Transition(AudioPlaying, "sink reports playing"))
	require.NoError(t, m.Transition(AudioPaused, "application pause"))
	require.NoError(t, m.Transition(AudioInitialized, "application resume"))

	assert.Equal(t, AudioInitialized, m.State())
	assert.Equal(t, []AudioState{
		AudioInitializing, AudioInitialized, AudioReady, AudioPlaying, AudioPaused, AudioInitialized,
	}, events)
}

func TestAudioStateMachineRejectsIllegalTransition(t *testing.T) {
	m := newAudioStateMachine(nopEmitter{})
	err := m.Transition(AudioPlaying, "bogus")
	assert.Error(t, err)
	assert.Equal(t, AudioNoAudio, m.State(), "an illegal transition must not move the current state")
}

func TestAudioStateMachineAnyStateCanDie(t *testing.T) {
	for _, from := range []AudioState{AudioNoAudio, AudioInitializing, AudioReady, AudioPlaying, AudioStoppedBySystem} {
		m := newAudioStateMachine(nopEmitter{})
		m.current.Store(int32(from))
		require.NoError(t, m.Transition(AudioDead, "fatal decode error"))
		assert.Equal(t, AudioDead, m.State())
	}
}

func TestAudioStateMachineStoppedBySystemRoundTrip(t *testing.T) {
	m := newAudioStateMachine(nopEmitter{})
	m.current.Store(int32(AudioPlaying))
	require.NoError(t, m.Transition(AudioStoppedBySystem, "liveness counter frozen"))
	require.NoError(t, m.Transition(AudioPlaying, "liveness counter resumed"))
	assert.Equal(t, AudioPlaying, m.State())
}
