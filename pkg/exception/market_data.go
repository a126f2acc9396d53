package exception

import "github.com/yanun0323/errors"

var (
	ErrUpstreamUnavailable = errors.New("market data: upstream unavailable")
	ErrNotConnected        = errors.New("market data: upstream not connected")
	ErrMalformedFrame      = errors.New("market data: malformed frame")
	ErrQuoteUnavailable    = errors.New("market data: quote unavailable")
)
