package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"marketdesk/internal/auth"
	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/model/enum"
	"marketdesk/internal/obs"
	"marketdesk/internal/trade"
	"marketdesk/pkg/exception"
)

const (
	_userIDKey   = "user_id"
	_tradesLimit = 20

	_maxQuoteSymbols = 50
	_quoteFetches    = 8
)

type Quotes interface {
	GetOrFetch(ctx context.Context, symbol string) (model.Quote, error)
}

type Trader interface {
	Execute(ctx context.Context, req trade.Request) (trade.Result, error)
}

type Ledger interface {
	CreatePortfolio(ctx context.Context, ownerID string, cash decimal.Decimal) (model.Portfolio, error)
	GetPortfolioByOwner(ctx context.Context, ownerID string) (model.Portfolio, error)
	ListPositions(ctx context.Context, portfolioID uint) ([]model.Position, error)
	ListTrades(ctx context.Context, portfolioID uint, limit int) ([]model.Trade, error)
}

type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Quotes       Quotes
	Trader       Trader
	Ledger       Ledger
	Auth         Authenticator
	Stream       http.Handler
	StreamPath   string
	StartingCash decimal.Decimal
	Metrics      *obs.Metrics
}

type Handler struct {
	deps Deps
}

func NewHandler(deps Deps) *Handler {
	if deps.StreamPath == "" {
		deps.StreamPath = "/ws"
	}
	return &Handler{deps: deps}
}

func (h *Handler) InitRoutes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", h.Health)
	r.GET("/debug/metrics", h.Metrics)
	if h.deps.Stream != nil {
		r.GET(h.deps.StreamPath, gin.WrapH(h.deps.Stream))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/quote/:symbol", h.GetQuote)
	v1.GET("/market/quote/:symbol", h.GetQuote)
	v1.GET("/market/quote", h.GetQuotes)

	private := v1.Group("", h.authenticate)
	private.POST("/trades", h.PlaceTrade)
	private.GET("/portfolio", h.GetPortfolio)
	private.POST("/portfolio", h.OpenPortfolio)

	return r
}

func (h *Handler) authenticate(ctx *gin.Context) {
	userID, err := h.deps.Auth.Authenticate(auth.TokenFromRequest(ctx.Request))
	if err != nil {
		h.deps.Metrics.IncAuthRejected()
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ctx.Set(_userIDKey, userID)
	ctx.Next()
}

func (h *Handler) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) Metrics(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.deps.Metrics.Snapshot())
}

func (h *Handler) GetQuote(ctx *gin.Context) {
	symbol := model.NormalizeSymbol(ctx.Param("symbol"))
	if symbol == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "empty symbol"})
		return
	}

	q, err := h.deps.Quotes.GetOrFetch(ctx.Request.Context(), symbol)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, q)
}

type quoteResult struct {
	Symbol string       `json:"symbol"`
	Quote  *model.Quote `json:"quote,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// GetQuotes answers a comma-separated symbol list. A symbol that cannot be
// quoted gets an error entry instead of failing the whole request.
func (h *Handler) GetQuotes(ctx *gin.Context) {
	symbols := splitSymbols(ctx.Query("symbols"))
	switch {
	case len(symbols) == 0:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "empty symbols"})
		return
	case len(symbols) > _maxQuoteSymbols:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "too many symbols"})
		return
	}

	results := make([]quoteResult, len(symbols))
	eg, c := errgroup.WithContext(ctx.Request.Context())
	eg.SetLimit(_quoteFetches)
	for i, symbol := range symbols {
		eg.Go(func() error {
			results[i].Symbol = symbol
			q, err := h.deps.Quotes.GetOrFetch(c, symbol)
			if err != nil {
				if statusOf(err) == http.StatusInternalServerError {
					logs.Errorf("get quote %s, err: %+v", symbol, err)
				}
				results[i].Error = "no data found"
				return nil
			}
			results[i].Quote = &q
			return nil
		})
	}
	_ = eg.Wait()

	ctx.JSON(http.StatusOK, gin.H{"quotes": results})
}

// splitSymbols normalizes a comma-separated list, dropping blanks and
// repeats while keeping the first-seen order.
func splitSymbols(raw string) []string {
	seen := make(map[string]struct{})
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		symbol := model.NormalizeSymbol(part)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	return out
}

type placeTradeRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) PlaceTrade(ctx *gin.Context) {
	var body placeTradeRequest
	if err := ctx.ShouldBindJSON(&body); err != nil {
		h.fail(ctx, errors.Wrapf(exception.ErrInvalidTrade, "decode body: %v", err))
		return
	}

	res, err := h.deps.Trader.Execute(ctx.Request.Context(), trade.Request{
		OwnerID:  ctx.GetString(_userIDKey),
		Symbol:   body.Symbol,
		Side:     enum.ParseSide(body.Side),
		Quantity: body.Quantity,
	})
	if err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"trade":     res.Trade,
		"position":  res.Position,
		"portfolio": res.Portfolio,
	})
}

func (h *Handler) GetPortfolio(ctx *gin.Context) {
	c := ctx.Request.Context()
	p, err := h.deps.Ledger.GetPortfolioByOwner(c, ctx.GetString(_userIDKey))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	positions, err := h.deps.Ledger.ListPositions(c, p.ID)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	trades, err := h.deps.Ledger.ListTrades(c, p.ID, _tradesLimit)
	if err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"portfolio": p,
		"positions": positions,
		"trades":    trades,
	})
}

func (h *Handler) OpenPortfolio(ctx *gin.Context) {
	p, err := h.deps.Ledger.CreatePortfolio(ctx.Request.Context(), ctx.GetString(_userIDKey), h.deps.StartingCash)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"portfolio": p})
}

func (h *Handler) fail(ctx *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logs.Errorf("%s %s, err: %+v", ctx.Request.Method, ctx.FullPath(), err)
		ctx.JSON(status, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, exception.ErrInvalidTrade):
		return http.StatusBadRequest
	case errors.Is(err, exception.ErrPortfolioNotFound):
		return http.StatusNotFound
	case errors.Is(err, exception.ErrInsufficientPosition),
		errors.Is(err, exception.ErrInsufficientFunds),
		errors.Is(err, exception.ErrPortfolioExists):
		return http.StatusConflict
	case errors.Is(err, exception.ErrRiskRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exception.ErrPriceUnavailable),
		errors.Is(err, exception.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
