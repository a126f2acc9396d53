package exception

import "github.com/yanun0323/errors"

var (
	ErrInvalidTrade         = errors.New("trade: invalid request")
	ErrPriceUnavailable     = errors.New("trade: price unavailable")
	ErrPortfolioNotFound    = errors.New("trade: portfolio not found")
	ErrPortfolioExists      = errors.New("trade: portfolio already exists")
	ErrInsufficientPosition = errors.New("trade: insufficient position")
	ErrInsufficientFunds    = errors.New("trade: insufficient funds")
	ErrRiskRejected         = errors.New("trade: rejected by risk limits")
	ErrInvalidTransition    = errors.New("trade: invalid status transition")
)
