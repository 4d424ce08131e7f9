package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnState_Transitions(t *testing.T) {
	s := stateConnecting

	s, err := s.open()
	require.NoError(t, err)
	assert.Equal(t, stateOpen, s)

	s, err = s.close()
	require.NoError(t, err)
	assert.Equal(t, stateClosed, s)
}

func TestConnState_InvalidTransitions(t *testing.T) {
	_, err := stateOpen.open()
	assert.Error(t, err)

	_, err = stateClosed.open()
	assert.Error(t, err)

	_, err = stateClosed.close()
	assert.Error(t, err)
}

func TestConnState_CloseFromConnecting(t *testing.T) {
	// A connection that drops before fully opening still closes cleanly.
	s, err := stateConnecting.close()
	require.NoError(t, err)
	assert.Equal(t, stateClosed, s)
}

func TestConnState_String(t *testing.T) {
	assert.Equal(t, "connecting", stateConnecting.String())
	assert.Equal(t, "open", stateOpen.String())
	assert.Equal(t, "closed", stateClosed.String())
}
