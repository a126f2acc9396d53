package quote_test

import (
	"context"

	"marketdesk/internal/model"
)

type staticFetcher struct {
	q model.Quote
}

func (f staticFetcher) Fetch(_ context.Context, symbol string) (model.Quote, error) {
	q := f.q
	q.Symbol = symbol
	return q, nil
}
