package supervisor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateClosed

	for _, step := range []struct {
		event Event
		want  State
	}{
		{EventOpen, StateConnecting},
		{EventOpened, StateHandshaking},
		{EventReady, StateActive},
		{EventStale, StateDegraded},
		{EventRecovered, StateActive},
		{EventClose, StateClosed},
	} {
		next, err := Transition(s, step.event)
		require.NoError(t, err)
		require.Equal(t, step.want, next)
		s = next
	}
}

func TestTransitionCloseFromAnyState(t *testing.T) {
	states := []State{StateConnecting, StateHandshaking, StateActive, StateDegraded, StateClosed}
	for _, state := range states {
		next, err := Transition(state, EventClose)
		require.NoError(t, err)
		require.Equal(t, StateClosed, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{name: "closed ready invalid", state: StateClosed, event: EventReady},
		{name: "closed stale invalid", state: StateClosed, event: EventStale},
		{name: "connecting ready invalid", state: StateConnecting, event: EventReady},
		{name: "handshaking open invalid", state: StateHandshaking, event: EventOpen},
		{name: "active open invalid", state: StateActive, event: EventOpen},
		{name: "active recovered invalid", state: StateActive, event: EventRecovered},
		{name: "degraded open invalid", state: StateDegraded, event: EventOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Transition(tt.state, tt.event)
			require.Error(t, err)
			require.Equal(t, tt.state, next)
		})
	}
}

func TestTransitionUnknownState(t *testing.T) {
	_, err := Transition(State("bogus"), EventOpen)
	require.Error(t, err)
}

func TestStateConnected(t *testing.T) {
	require.True(t, StateActive.Connected())
	require.True(t, StateDegraded.Connected())
	require.False(t, StateHandshaking.Connected())
	require.False(t, StateClosed.Connected())
}
