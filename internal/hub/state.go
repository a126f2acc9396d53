package hub

import (
	"sync"

	"marketdesk/internal/errors"
	"marketdesk/pkg/exception"
)

// ConnState is the lifecycle of one client connection.
type ConnState uint8

const (
	_conn_state_beg ConnState = iota
	ConnConnecting
	ConnAuthenticated
	ConnActive
	ConnClosed
	_conn_state_end
)

func (s ConnState) IsAvailable() bool {
	return s > _conn_state_beg && s < _conn_state_end
}

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnAuthenticated:
		return "authenticated"
	case ConnActive:
		return "active"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CanTransit reports whether s may move to next.
func (s ConnState) CanTransit(next ConnState) bool {
	switch s {
	case ConnConnecting:
		return next == ConnAuthenticated || next == ConnClosed
	case ConnAuthenticated:
		return next == ConnActive || next == ConnClosed
	case ConnActive:
		return next == ConnClosed
	default:
		return false
	}
}

type stateMachine struct {
	mu    sync.Mutex
	state ConnState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: ConnConnecting}
}

func (m *stateMachine) Current() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) Transit(next ConnState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.CanTransit(next) {
		return errors.Wrapf(exception.ErrInvalidState, "%s -> %s", m.state, next)
	}
	m.state = next
	return nil
}
