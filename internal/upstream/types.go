package upstream

import (
	"context"

	"marketdesk/internal/model"
)

// State is the lifecycle state of the feed session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Conn is one live session with the provider.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Dialer creates new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Codec builds control frames and turns provider frames into ticks.
// Decode returns no ticks and no error for frames that carry no prices.
type Codec interface {
	EncodeSubscribe(symbol string) ([]byte, error)
	EncodeUnsubscribe(symbol string) ([]byte, error)
	Decode(payload []byte) ([]model.Tick, error)
}

// ActiveSymbols reports the symbols that currently have subscribers.
type ActiveSymbols interface {
	Symbols() []string
}
