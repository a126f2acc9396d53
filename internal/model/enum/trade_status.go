package enum

// TradeStatus tracks the lifecycle of a trade record.
type TradeStatus string

const (
	TradeStatusPending   TradeStatus = "PENDING"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusFailed    TradeStatus = "FAILED"
)

func (s TradeStatus) IsAvailable() bool {
	switch s {
	case TradeStatusPending, TradeStatusCompleted, TradeStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusCompleted || s == TradeStatusFailed
}

// CanTransit reports whether s may move to next.
func (s TradeStatus) CanTransit(next TradeStatus) bool {
	if !next.IsAvailable() || s.IsTerminal() {
		return false
	}
	return s == TradeStatusPending && next != TradeStatusPending
}
