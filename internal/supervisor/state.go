package supervisor

import "fmt"

// State is the connection state
type State string

// Event moves the connection between states
type Event string

const (
	StateConnecting  State = "connecting"
	StateHandshaking State = "handshaking"
	StateActive      State = "active"
	StateDegraded    State = "degraded"
	StateClosed      State = "closed"
)

const (
	EventOpen      Event = "open"
	EventOpened    Event = "opened"
	EventReady     Event = "ready"
	EventStale     Event = "stale"
	EventRecovered Event = "recovered"
	EventClose     Event = "close"
)

// Transition returns the state reached from current on event
func Transition(current State, event Event) (State, error) {
	if event == EventClose {
		return StateClosed, nil
	}

	switch current {
	case StateClosed:
		switch event {
		case EventOpen:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventOpened:
			return StateHandshaking, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateHandshaking:
		switch event {
		case EventReady:
			return StateActive, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventStale:
			return StateDegraded, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDegraded:
		switch event {
		case EventRecovered:
			return StateActive, nil
		case EventStale:
			return StateDegraded, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Connected reports whether reads and writes are permitted in s
func (s State) Connected() bool {
	return s == StateActive || s == StateDegraded
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
