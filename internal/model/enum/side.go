package enum

import "strings"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts any casing of BUY or SELL.
func ParseSide(s string) Side {
	return Side(strings.ToUpper(strings.TrimSpace(s)))
}

func (s Side) IsAvailable() bool {
	return s == SideBuy || s == SideSell
}
