package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDegradedQuote(t *testing.T) {
	q := DegradedQuote(Tick{Symbol: "AAPL", Price: 150.25})

	md := NewMarketData(q)
	assert.Equal(t, MarketData{
		Type:    TypeMarketData,
		Symbol:  "AAPL",
		Current: 150.25,
		High:    150.25,
		Low:     150.25,
	}, md)
}

func TestQuoteWithTick(t *testing.T) {
	at := time.Unix(1700000000, 0)
	snap := Quote{Symbol: "AAPL", Current: 150, High: 151, Low: 149, Change: 0.5, PercentChange: 0.33}

	inside := snap.WithTick(Tick{Symbol: "AAPL", Price: 150.40, Volume: 3, Time: at})
	assert.Equal(t, 150.40, inside.Current)
	assert.Equal(t, 151.0, inside.High)
	assert.Equal(t, 149.0, inside.Low)
	assert.Equal(t, 0.5, inside.Change)
	assert.Equal(t, 0.33, inside.PercentChange)
	assert.Equal(t, 3.0, inside.Volume)
	assert.Equal(t, at, inside.TickAt)

	above := inside.WithTick(Tick{Symbol: "AAPL", Price: 152})
	assert.Equal(t, 152.0, above.High)
	below := above.WithTick(Tick{Symbol: "AAPL", Price: 148})
	assert.Equal(t, 148.0, below.Low)
	assert.Equal(t, 152.0, below.High)
}

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	assert.Equal(t, "", NormalizeSymbol("   "))
}
