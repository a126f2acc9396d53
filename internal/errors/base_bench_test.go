package errors

import (
	"testing"

	"marketdesk/pkg/exception"
)

func BenchmarkWrap(b *testing.B) {
	b.Run("nil", func(b *testing.B) {
		for b.Loop() {
			_ = Wrap(nil, "symbol AAPL")
		}
	})

	b.Run("sentinel", func(b *testing.B) {
		for b.Loop() {
			_ = Wrap(exception.ErrQueueFull, "session 42").Error()
		}
	})

	b.Run("wrapf", func(b *testing.B) {
		for b.Loop() {
			_ = Wrapf(exception.ErrInsufficientFunds, "cash %s, cost %s", "10", "20").Error()
		}
	})

	b.Run("is through two layers", func(b *testing.B) {
		err := Wrap(Wrap(exception.ErrQuoteUnavailable, "fetch"), "snapshot")
		for b.Loop() {
			_ = Is(err, exception.ErrQuoteUnavailable)
		}
	})
}
