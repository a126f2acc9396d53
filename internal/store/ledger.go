package store

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/model/enum"
	"marketdesk/internal/trade"
	"marketdesk/pkg/exception"
)

const defaultTradeLimit = 50

var _ trade.Repository = (*Ledger)(nil)

// Ledger persists portfolios, positions and trades through gorm.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Migrate creates or updates the ledger tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	if err := l.db.WithContext(ctx).AutoMigrate(&model.Portfolio{}, &model.Position{}, &model.Trade{}); err != nil {
		return errors.Wrap(err, "migrate ledger")
	}
	return nil
}

// CreatePortfolio opens the portfolio of owner with cash.
func (l *Ledger) CreatePortfolio(ctx context.Context, ownerID string, cash decimal.Decimal) (model.Portfolio, error) {
	p := model.Portfolio{OwnerID: ownerID, Cash: cash, TotalValue: decimal.Zero}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Portfolio{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
			return err
		}
		if count != 0 {
			return errors.Wrapf(exception.ErrPortfolioExists, "owner %s", ownerID)
		}
		return tx.Create(&p).Error
	})
	if err != nil {
		return model.Portfolio{}, err
	}
	return p, nil
}

func (l *Ledger) GetPortfolioByOwner(ctx context.Context, ownerID string) (model.Portfolio, error) {
	var p model.Portfolio
	err := l.db.WithContext(ctx).Where("owner_id = ?", ownerID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Portfolio{}, errors.Wrapf(exception.ErrPortfolioNotFound, "owner %s", ownerID)
	}
	if err != nil {
		return model.Portfolio{}, errors.Wrap(err, "get portfolio")
	}
	return p, nil
}

// ListPositions returns the open positions of a portfolio by symbol.
func (l *Ledger) ListPositions(ctx context.Context, portfolioID uint) ([]model.Position, error) {
	var positions []model.Position
	err := l.db.WithContext(ctx).
		Where("portfolio_id = ? AND quantity > 0", portfolioID).
		Order("symbol").
		Find(&positions).Error
	if err != nil {
		return nil, errors.Wrap(err, "list positions")
	}
	return positions, nil
}

// ListTrades returns the latest trades of a portfolio, newest first.
func (l *Ledger) ListTrades(ctx context.Context, portfolioID uint, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	var trades []model.Trade
	err := l.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("id DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, errors.Wrap(err, "list trades")
	}
	return trades, nil
}

// WithTransaction runs fn in one database transaction.
func (l *Ledger) WithTransaction(ctx context.Context, fn func(tx trade.Tx) error) error {
	return l.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&ledgerTx{db: db, locking: l.db.Dialector.Name() == "postgres"})
	})
}

type ledgerTx struct {
	db      *gorm.DB
	locking bool
}

func (tx *ledgerTx) query(ctx context.Context) *gorm.DB {
	q := tx.db.WithContext(ctx)
	if tx.locking {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func (tx *ledgerTx) LockPortfolio(ctx context.Context, portfolioID uint) (model.Portfolio, error) {
	var p model.Portfolio
	err := tx.query(ctx).Where("id = ?", portfolioID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Portfolio{}, errors.Wrapf(exception.ErrPortfolioNotFound, "id %d", portfolioID)
	}
	if err != nil {
		return model.Portfolio{}, errors.Wrap(err, "lock portfolio")
	}
	return p, nil
}

func (tx *ledgerTx) GetPosition(ctx context.Context, portfolioID uint, symbol string) (model.Position, bool, error) {
	var pos model.Position
	err := tx.query(ctx).Where("portfolio_id = ? AND symbol = ?", portfolioID, symbol).Take(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Position{}, false, nil
	}
	if err != nil {
		return model.Position{}, false, errors.Wrap(err, "get position")
	}
	return pos, true, nil
}

func (tx *ledgerTx) UpsertPosition(ctx context.Context, pos *model.Position) error {
	db := tx.db.WithContext(ctx)
	if pos.ID != 0 {
		return errors.Wrap(db.Save(pos).Error, "save position")
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "portfolio_id"}, {Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "avg_price", "updated_at"}),
	}).Create(pos).Error
	return errors.Wrap(err, "create position")
}

func (tx *ledgerTx) UpdatePortfolioBalances(ctx context.Context, portfolioID uint, cash, totalValue decimal.Decimal) error {
	res := tx.db.WithContext(ctx).
		Model(&model.Portfolio{}).
		Where("id = ?", portfolioID).
		Updates(map[string]any{"cash": cash, "total_value": totalValue})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update balances")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(exception.ErrPortfolioNotFound, "id %d", portfolioID)
	}
	return nil
}

func (tx *ledgerTx) CreateTrade(ctx context.Context, t *model.Trade) error {
	return errors.Wrap(tx.db.WithContext(ctx).Create(t).Error, "create trade")
}

func (tx *ledgerTx) UpdateTradeStatus(ctx context.Context, tradeID uint, status enum.TradeStatus) error {
	res := tx.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("id = ?", tradeID).
		Update("status", status)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update trade status")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(exception.ErrInvalidTransition, "trade %d not found", tradeID)
	}
	return nil
}
