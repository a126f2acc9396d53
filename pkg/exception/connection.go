package exception

import "github.com/yanun0323/errors"

// Client connection errors
var (
	ErrAuthRejected    = errors.New("connection: auth rejected")
	ErrConnectionClose = errors.New("connection: closed")
	ErrUnknownCommand  = errors.New("connection: unknown command")
	ErrDeliveryFailure = errors.New("connection: delivery failure")
	ErrQueueFull       = errors.New("connection: outbound queue full")
	ErrQueueClosed     = errors.New("connection: outbound queue closed")
	ErrInvalidState    = errors.New("connection: invalid state transition")
)
