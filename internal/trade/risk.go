package trade

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// RiskReason names the limit that denied a trade.
type RiskReason string

const (
	RiskReasonNone        RiskReason = ""
	RiskReasonKillSwitch  RiskReason = "kill_switch"
	RiskReasonRateLimit   RiskReason = "rate_limit"
	RiskReasonMaxQty      RiskReason = "max_qty"
	RiskReasonMaxNotional RiskReason = "max_notional"
)

// RiskConfig defines static per-trade limits. Zero values disable a limit.
type RiskConfig struct {
	KillSwitch       bool
	MaxOrderQty      int64
	MaxOrderNotional decimal.Decimal
	RateLimit        int
	RateWindow       time.Duration
}

// RiskDecision is the outcome of one evaluation.
type RiskDecision struct {
	Allowed bool
	Reason  RiskReason
}

type rateWindow struct {
	start time.Time
	count int
}

// RiskEngine evaluates trades against static limits and a per-owner rate.
type RiskEngine struct {
	cfg RiskConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]rateWindow
}

func NewRiskEngine(cfg RiskConfig) *RiskEngine {
	return &RiskEngine{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]rateWindow),
	}
}

// Evaluate checks one trade of qty at price for owner.
func (e *RiskEngine) Evaluate(owner string, qty int64, price decimal.Decimal) RiskDecision {
	if e == nil {
		return RiskDecision{Allowed: true}
	}
	if e.cfg.KillSwitch {
		return RiskDecision{Reason: RiskReasonKillSwitch}
	}

	if e.cfg.RateLimit > 0 && e.cfg.RateWindow > 0 {
		now := e.now()
		e.mu.Lock()
		w := e.windows[owner]
		if w.start.IsZero() || now.Sub(w.start) >= e.cfg.RateWindow {
			w = rateWindow{start: now}
		}
		w.count++
		e.windows[owner] = w
		e.mu.Unlock()
		if w.count > e.cfg.RateLimit {
			return RiskDecision{Reason: RiskReasonRateLimit}
		}
	}

	if e.cfg.MaxOrderQty > 0 && qty > e.cfg.MaxOrderQty {
		return RiskDecision{Reason: RiskReasonMaxQty}
	}

	notional := price.Mul(decimal.NewFromInt(qty))
	if e.cfg.MaxOrderNotional.IsPositive() && notional.GreaterThan(e.cfg.MaxOrderNotional) {
		return RiskDecision{Reason: RiskReasonMaxNotional}
	}

	return RiskDecision{Allowed: true}
}
