package obs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	ticks            uint64
	droppedFrames    uint64
	reconnects       uint64
	deliveries       uint64
	deliveryFailures uint64
	evictions        uint64
	authRejected     uint64
	tradesCompleted  uint64

	rejectMu      sync.Mutex
	tradeRejected map[string]uint64

	fanoutLatency   LatencyStats
	snapshotLatency LatencyStats
	tradeLatency    LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Ticks            uint64
	DroppedFrames    uint64
	Reconnects       uint64
	Deliveries       uint64
	DeliveryFailures uint64
	Evictions        uint64
	AuthRejected     uint64
	TradesCompleted  uint64
	TradeRejected    map[string]uint64
	FanoutLatency    LatencySnapshot
	SnapshotLatency  LatencySnapshot
	TradeLatency     LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{tradeRejected: make(map[string]uint64)}
}

func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticks, 1)
}

func (m *Metrics) IncDroppedFrame() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.droppedFrames, 1)
}

func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.reconnects, 1)
}

// ObserveFanout records one publish pass.
func (m *Metrics) ObserveFanout(delivered, failed int, d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.deliveries, uint64(delivered))
	atomic.AddUint64(&m.deliveryFailures, uint64(failed))
	m.fanoutLatency.Observe(d)
}

func (m *Metrics) IncEviction() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.evictions, 1)
}

func (m *Metrics) IncAuthRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.authRejected, 1)
}

// ObserveSnapshot measures one provider snapshot fetch.
func (m *Metrics) ObserveSnapshot(d time.Duration) {
	if m == nil {
		return
	}
	m.snapshotLatency.Observe(d)
}

// ObserveTrade measures a completed trade.
func (m *Metrics) ObserveTrade(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradesCompleted, 1)
	m.tradeLatency.Observe(d)
}

// IncTradeRejected counts a rejected trade by reason.
func (m *Metrics) IncTradeRejected(reason string) {
	if m == nil {
		return
	}
	m.rejectMu.Lock()
	m.tradeRejected[reason]++
	m.rejectMu.Unlock()
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.rejectMu.Lock()
	rejected := make(map[string]uint64, len(m.tradeRejected))
	for reason, v := range m.tradeRejected {
		rejected[reason] = v
	}
	m.rejectMu.Unlock()

	return Snapshot{
		Ticks:            atomic.LoadUint64(&m.ticks),
		DroppedFrames:    atomic.LoadUint64(&m.droppedFrames),
		Reconnects:       atomic.LoadUint64(&m.reconnects),
		Deliveries:       atomic.LoadUint64(&m.deliveries),
		DeliveryFailures: atomic.LoadUint64(&m.deliveryFailures),
		Evictions:        atomic.LoadUint64(&m.evictions),
		AuthRejected:     atomic.LoadUint64(&m.authRejected),
		TradesCompleted:  atomic.LoadUint64(&m.tradesCompleted),
		TradeRejected:    rejected,
		FanoutLatency:    m.fanoutLatency.Snapshot(),
		SnapshotLatency:  m.snapshotLatency.Snapshot(),
		TradeLatency:     m.tradeLatency.Snapshot(),
	}
}

// Report logs a snapshot on every interval until ctx is done.
func (m *Metrics) Report(ctx context.Context, interval time.Duration) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := m.Snapshot()
			logs.Infof("metrics: ticks=%d dropped=%d reconnects=%d delivered=%d failed=%d evicted=%d auth_rejected=%d trades=%d rejected=%v fanout_avg=%s snapshot_avg=%s trade_avg=%s",
				s.Ticks, s.DroppedFrames, s.Reconnects, s.Deliveries, s.DeliveryFailures, s.Evictions,
				s.AuthRejected, s.TradesCompleted, s.TradeRejected,
				s.FanoutLatency.Avg, s.SnapshotLatency.Avg, s.TradeLatency.Avg,
			)
		}
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
