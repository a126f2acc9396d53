package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncTick()
	m.IncTick()
	m.IncDroppedFrame()
	m.ObserveFanout(3, 1, time.Millisecond)
	m.IncEviction()
	m.ObserveTrade(2 * time.Millisecond)
	m.IncTradeRejected("insufficient_position")
	m.IncTradeRejected("insufficient_position")

	s := m.Snapshot()
	assert.EqualValues(t, 2, s.Ticks)
	assert.EqualValues(t, 1, s.DroppedFrames)
	assert.EqualValues(t, 3, s.Deliveries)
	assert.EqualValues(t, 1, s.DeliveryFailures)
	assert.EqualValues(t, 1, s.Evictions)
	assert.EqualValues(t, 1, s.TradesCompleted)
	assert.Equal(t, map[string]uint64{"insufficient_position": 2}, s.TradeRejected)
	assert.Equal(t, time.Millisecond, s.FanoutLatency.Avg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncTick()
	m.ObserveFanout(1, 0, time.Second)
	m.IncTradeRejected("x")
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	l.Observe(10 * time.Millisecond)
	l.Observe(30 * time.Millisecond)
	l.Observe(-time.Second)

	s := l.Snapshot()
	assert.EqualValues(t, 2, s.Count)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.Equal(t, 20*time.Millisecond, s.Avg)
}
