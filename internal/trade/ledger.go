package trade

import (
	"github.com/shopspring/decimal"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/pkg/exception"
)

// applyBuy adds qty at price and moves the average to the weighted mean.
func applyBuy(pos model.Position, qty int64, price decimal.Decimal) model.Position {
	oldQty := decimal.NewFromInt(pos.Quantity)
	addQty := decimal.NewFromInt(qty)
	newQty := pos.Quantity + qty

	cost := pos.AvgPrice.Mul(oldQty).Add(price.Mul(addQty))
	pos.AvgPrice = cost.Div(decimal.NewFromInt(newQty))
	pos.Quantity = newQty
	return pos
}

// applySell removes qty. The average is kept until the position is flat.
func applySell(pos model.Position, qty int64) (model.Position, error) {
	if pos.Quantity < qty {
		return pos, errors.Wrapf(exception.ErrInsufficientPosition, "hold %d %s, sell %d", pos.Quantity, pos.Symbol, qty)
	}
	pos.Quantity -= qty
	if pos.Quantity == 0 {
		pos.AvgPrice = decimal.Zero
	}
	return pos, nil
}
