package trade

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/model/enum"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

// PriceSource resolves the live price of a symbol.
type PriceSource interface {
	GetOrFetch(ctx context.Context, symbol string) (model.Quote, error)
}

// Repository is the ledger store. Every mutation goes through WithTransaction.
type Repository interface {
	GetPortfolioByOwner(ctx context.Context, ownerID string) (model.Portfolio, error)
	WithTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is one atomic unit of work. Returning an error from the
// WithTransaction callback discards all of it.
type Tx interface {
	LockPortfolio(ctx context.Context, portfolioID uint) (model.Portfolio, error)
	GetPosition(ctx context.Context, portfolioID uint, symbol string) (model.Position, bool, error)
	UpsertPosition(ctx context.Context, pos *model.Position) error
	UpdatePortfolioBalances(ctx context.Context, portfolioID uint, cash, totalValue decimal.Decimal) error
	CreateTrade(ctx context.Context, t *model.Trade) error
	UpdateTradeStatus(ctx context.Context, tradeID uint, status enum.TradeStatus) error
}

// Publisher announces committed trades.
type Publisher interface {
	PublishTrade(ctx context.Context, t model.Trade) error
}

type Request struct {
	OwnerID  string
	Symbol   string
	Side     enum.Side
	Quantity int64
}

type Result struct {
	Trade     model.Trade
	Position  model.Position
	Portfolio model.Portfolio
}

type Option func(*Executor)

func WithRisk(r *RiskEngine) Option {
	return func(e *Executor) {
		e.risk = r
	}
}

func WithPublisher(p Publisher) Option {
	return func(e *Executor) {
		e.publisher = p
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs trades against the ledger.
type Executor struct {
	prices    PriceSource
	repo      Repository
	risk      *RiskEngine
	publisher Publisher
	metrics   *obs.Metrics
}

func NewExecutor(prices PriceSource, repo Repository, opts ...Option) *Executor {
	e := &Executor{prices: prices, repo: repo}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute fills req at the live price. Either every ledger change commits
// together or none is visible.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := e.execute(ctx, req)
	if err != nil {
		e.metrics.IncTradeRejected(rejectReason(err))
		return Result{}, err
	}
	e.metrics.ObserveTrade(time.Since(start))

	if e.publisher != nil {
		if err := e.publisher.PublishTrade(ctx, res.Trade); err != nil {
			logs.Errorf("publish trade %d, err: %+v", res.Trade.ID, err)
		}
	}
	return res, nil
}

func (e *Executor) execute(ctx context.Context, req Request) (Result, error) {
	req.Symbol = model.NormalizeSymbol(req.Symbol)
	if err := validate(req); err != nil {
		return Result{}, err
	}

	q, err := e.prices.GetOrFetch(ctx, req.Symbol)
	if err != nil {
		return Result{}, errors.Wrapf(exception.ErrPriceUnavailable, "%s: %v", req.Symbol, err)
	}
	if q.Current <= 0 {
		return Result{}, errors.Wrapf(exception.ErrPriceUnavailable, "%s: no positive price", req.Symbol)
	}
	price := decimal.NewFromFloat(q.Current)

	portfolio, err := e.repo.GetPortfolioByOwner(ctx, req.OwnerID)
	if err != nil {
		return Result{}, err
	}

	if d := e.risk.Evaluate(req.OwnerID, req.Quantity, price); !d.Allowed {
		return Result{}, errors.Wrapf(exception.ErrRiskRejected, "%s", d.Reason)
	}

	var res Result
	err = e.repo.WithTransaction(ctx, func(tx Tx) error {
		p, err := tx.LockPortfolio(ctx, portfolio.ID)
		if err != nil {
			return err
		}

		pos, found, err := tx.GetPosition(ctx, p.ID, req.Symbol)
		if err != nil {
			return err
		}
		if !found {
			pos = model.Position{PortfolioID: p.ID, Symbol: req.Symbol}
		}

		notional := price.Mul(decimal.NewFromInt(req.Quantity))
		switch req.Side {
		case enum.SideBuy:
			if notional.GreaterThan(p.Cash) {
				return errors.Wrapf(exception.ErrInsufficientFunds, "cash %s, cost %s", p.Cash, notional)
			}
			pos = applyBuy(pos, req.Quantity, price)
			p.Cash = p.Cash.Sub(notional)
			p.TotalValue = p.TotalValue.Add(notional)
		case enum.SideSell:
			if !found {
				return errors.Wrapf(exception.ErrInsufficientPosition, "no %s position", req.Symbol)
			}
			if pos, err = applySell(pos, req.Quantity); err != nil {
				return err
			}
			p.Cash = p.Cash.Add(notional)
			p.TotalValue = p.TotalValue.Sub(notional)
		}

		if err := tx.UpsertPosition(ctx, &pos); err != nil {
			return err
		}
		if err := tx.UpdatePortfolioBalances(ctx, p.ID, p.Cash, p.TotalValue); err != nil {
			return err
		}

		t := model.Trade{
			PortfolioID: p.ID,
			Symbol:      req.Symbol,
			Side:        req.Side,
			Quantity:    req.Quantity,
			Price:       price,
			Status:      enum.TradeStatusPending,
		}
		if err := tx.CreateTrade(ctx, &t); err != nil {
			return err
		}
		if !t.Status.CanTransit(enum.TradeStatusCompleted) {
			return errors.Wrapf(exception.ErrInvalidTransition, "%s -> %s", t.Status, enum.TradeStatusCompleted)
		}
		if err := tx.UpdateTradeStatus(ctx, t.ID, enum.TradeStatusCompleted); err != nil {
			return err
		}
		t.Status = enum.TradeStatusCompleted

		res = Result{Trade: t, Position: pos, Portfolio: p}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func validate(req Request) error {
	switch {
	case req.OwnerID == "":
		return errors.Wrap(exception.ErrInvalidTrade, "missing owner")
	case req.Symbol == "":
		return errors.Wrap(exception.ErrInvalidTrade, "missing symbol")
	case !req.Side.IsAvailable():
		return errors.Wrapf(exception.ErrInvalidTrade, "unknown side %q", req.Side)
	case req.Quantity <= 0:
		return errors.Wrapf(exception.ErrInvalidTrade, "quantity %d", req.Quantity)
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, exception.ErrInvalidTrade):
		return "invalid"
	case errors.Is(err, exception.ErrPriceUnavailable):
		return "price_unavailable"
	case errors.Is(err, exception.ErrPortfolioNotFound):
		return "portfolio_not_found"
	case errors.Is(err, exception.ErrInsufficientPosition):
		return "insufficient_position"
	case errors.Is(err, exception.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, exception.ErrRiskRejected):
		return "risk"
	default:
		return "internal"
	}
}
