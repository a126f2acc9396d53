package model

import (
	"strings"
	"time"
)

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Tick is a single price update from the upstream feed.
type Tick struct {
	Symbol string
	Price  float64
	Volume float64
	Time   time.Time
}

// Quote is the last known enriched view of a symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Current       float64   `json:"current"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PrevClose     float64   `json:"prev_close"`
	Change        float64   `json:"change"`
	PercentChange float64   `json:"percent_change"`
	Volume        float64   `json:"volume"`
	AsOf          time.Time `json:"as_of"`
	RefreshedAt   time.Time `json:"refreshed_at"`
	TickAt        time.Time `json:"tick_at"`
}

// DegradedQuote is what a tick becomes when no snapshot is known for its symbol.
func DegradedQuote(tick Tick) Quote {
	return Quote{
		Symbol:  tick.Symbol,
		Current: tick.Price,
		High:    tick.Price,
		Low:     tick.Price,
		Volume:  tick.Volume,
		TickAt:  tick.Time,
	}
}

// WithTick returns q moved to the tick price. High and low widen to contain
// the price; change and percent change keep the snapshot values.
func (q Quote) WithTick(tick Tick) Quote {
	q.Current = tick.Price
	if tick.Price > q.High {
		q.High = tick.Price
	}
	if q.Low == 0 || tick.Price < q.Low {
		q.Low = tick.Price
	}
	q.Volume += tick.Volume
	q.TickAt = tick.Time
	return q
}

const TypeMarketData = "market_data"

// MarketData is the frame pushed to subscribed clients.
type MarketData struct {
	Type          string  `json:"type"`
	Symbol        string  `json:"symbol"`
	Current       float64 `json:"current"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
}

func NewMarketData(q Quote) MarketData {
	return MarketData{
		Type:          TypeMarketData,
		Symbol:        q.Symbol,
		Current:       q.Current,
		High:          q.High,
		Low:           q.Low,
		Change:        q.Change,
		PercentChange: q.PercentChange,
	}
}
