package model

import (
	"time"

	"github.com/shopspring/decimal"

	"marketdesk/internal/model/enum"
)

// Portfolio is the cash account of one owner.
type Portfolio struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	OwnerID    string          `gorm:"size:64;not null;uniqueIndex" json:"owner_id"`
	Cash       decimal.Decimal `gorm:"type:numeric(24,8);not null" json:"cash"`
	TotalValue decimal.Decimal `gorm:"type:numeric(24,8);not null" json:"total_value"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Position is the holding of one symbol within a portfolio.
// A flat position always carries a zero average price.
type Position struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	PortfolioID uint            `gorm:"not null;uniqueIndex:idx_positions_portfolio_symbol" json:"portfolio_id"`
	Symbol      string          `gorm:"size:16;not null;uniqueIndex:idx_positions_portfolio_symbol" json:"symbol"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	AvgPrice    decimal.Decimal `gorm:"type:numeric(24,8);not null" json:"avg_price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Trade is the audit record of one executed request.
type Trade struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	PortfolioID uint             `gorm:"not null;index" json:"portfolio_id"`
	Symbol      string           `gorm:"size:16;not null" json:"symbol"`
	Side        enum.Side        `gorm:"size:4;not null" json:"side"`
	Quantity    int64            `gorm:"not null" json:"quantity"`
	Price       decimal.Decimal  `gorm:"type:numeric(24,8);not null" json:"price"`
	Status      enum.TradeStatus `gorm:"size:16;not null" json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Notional is quantity times price.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
