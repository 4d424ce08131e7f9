package hub

import "fmt"

// connState tracks a connection's lifecycle. Transitions only move
// forward: connecting -> open -> closed.
type connState int

const (
	stateConnecting connState = iota
	stateOpen
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

func (s connState) open() (connState, error) {
	if s != stateConnecting {
		return s, fmt.Errorf("cannot open connection in state %s", s)
	}
	return stateOpen, nil
}

func (s connState) close() (connState, error) {
	if s == stateClosed {
		return s, fmt.Errorf("connection already closed")
	}
	return stateClosed, nil
}
