package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/softaudio/pkg"
)

func TestSpeakerSlot(t *testing.T) {
	a, b := &fakeSpeaker{}, &fakeSpeaker{}
	require.NoError(t, RegisterSpeaker(a))
	t.Cleanup(func() { ClearSpeaker(a); ClearSpeaker(b) })

	assert.NoError(t, RegisterSpeaker(a))
	assert.ErrorIs(t, RegisterSpeaker(b), pkg.ErrBusy)
	ClearSpeaker(b)
	assert.Same(t, a, ActiveSpeaker())

	ClearSpeaker(a)
	assert.Nil(t, ActiveSpeaker())
	assert.NoError(t, RegisterSpeaker(b))
}

func TestMicrophoneSlot(t *testing.T) {
	a, b := &fakeMicrophone{}, &fakeMicrophone{}
	require.NoError(t, RegisterMicrophone(a))
	t.Cleanup(func() { ClearMicrophone(a); ClearMicrophone(b) })

	assert.ErrorIs(t, RegisterMicrophone(b), pkg.ErrBusy)
	ClearMicrophone(a)
	assert.Nil(t, ActiveMicrophone())
	assert.NoError(t, RegisterMicrophone(b))
	assert.Same(t, b, ActiveMicrophone())
}
