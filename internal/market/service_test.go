package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdesk/internal/fanout"
	"marketdesk/internal/model"
	"marketdesk/internal/quote"
	"marketdesk/internal/registry"
	"marketdesk/pkg/exception"
)

type fakeFeed struct {
	mu    sync.Mutex
	subs  map[string]int
	unsub map[string]int
	calls []string
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subs: map[string]int{}, unsub: map[string]int{}}
}

func (f *fakeFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[symbol]++
	f.calls = append(f.calls, "+"+symbol)
	return nil
}

func (f *fakeFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsub[symbol]++
	f.calls = append(f.calls, "-"+symbol)
	return nil
}

func (f *fakeFeed) counts(symbol string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[symbol], f.unsub[symbol]
}

type gatedFetcher struct {
	ready atomic.Bool
	calls atomic.Int32
	q     model.Quote
}

func (f *gatedFetcher) Fetch(_ context.Context, symbol string) (model.Quote, error) {
	f.calls.Add(1)
	if !f.ready.Load() {
		return model.Quote{}, errors.New("provider down")
	}
	q := f.q
	q.Symbol = symbol
	return q, nil
}

type frame struct {
	symbol string
	data   model.MarketData
}

type recordPublisher struct {
	mu     sync.Mutex
	frames []frame
}

func (p *recordPublisher) Publish(symbol string, payload []byte) fanout.Result {
	var md model.MarketData
	if err := sonic.Unmarshal(payload, &md); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.frames = append(p.frames, frame{symbol: symbol, data: md})
	p.mu.Unlock()
	return fanout.Result{Delivered: 1}
}

func (p *recordPublisher) last() (frame, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return frame{}, 0
	}
	return p.frames[len(p.frames)-1], len(p.frames)
}

func newTestService(t *testing.T, fetcher quote.Fetcher) (*Service, *fakeFeed, *quote.Cache, *recordPublisher) {
	t.Helper()
	feed := newFakeFeed()
	cache := quote.NewCache(fetcher)
	svc := NewService(t.Context(), registry.New(), feed, cache, WithSeedRetry(time.Hour))
	pub := &recordPublisher{}
	svc.Attach(pub)
	return svc, feed, cache, pub
}

func TestUpstreamCallsFollowTransitions(t *testing.T) {
	svc, feed, _, _ := newTestService(t, &gatedFetcher{})

	assert.True(t, svc.Subscribe("a", "AAPL"))
	assert.False(t, svc.Subscribe("b", "AAPL"))
	assert.False(t, svc.Subscribe("a", "AAPL"))
	assert.False(t, svc.Unsubscribe("a", "AAPL"))
	assert.True(t, svc.Unsubscribe("b", "AAPL"))
	assert.True(t, svc.Subscribe("c", "AAPL"))
	assert.True(t, svc.Unsubscribe("c", "AAPL"))
	assert.False(t, svc.Unsubscribe("c", "AAPL"))

	subs, unsubs := feed.counts("AAPL")
	assert.Equal(t, 2, subs)
	assert.Equal(t, 2, unsubs)
	assert.Equal(t, []string{"+AAPL", "-AAPL", "+AAPL", "-AAPL"}, feed.calls)
}

func TestConcurrentSubscribersOpenOnce(t *testing.T) {
	svc, feed, _, _ := newTestService(t, &gatedFetcher{})

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Subscribe(fmt.Sprintf("member-%d", i), "AAPL")
		}()
	}
	wg.Wait()
	subs, _ := feed.counts("AAPL")
	assert.Equal(t, 1, subs)

	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.Release(fmt.Sprintf("member-%d", i))
		}()
	}
	wg.Wait()
	subs, unsubs := feed.counts("AAPL")
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs)
}

func TestReleaseClosesEmptiedSymbols(t *testing.T) {
	svc, feed, _, _ := newTestService(t, &gatedFetcher{})
	svc.Subscribe("a", "AAPL")
	svc.Subscribe("a", "MSFT")
	svc.Subscribe("b", "MSFT")

	assert.Equal(t, []string{"AAPL"}, svc.Release("a"))
	assert.Nil(t, svc.Release("a"))

	_, aaplUnsubs := feed.counts("AAPL")
	_, msftUnsubs := feed.counts("MSFT")
	assert.Equal(t, 1, aaplUnsubs)
	assert.Zero(t, msftUnsubs)
}

func TestDegradedThenEnrichedBroadcast(t *testing.T) {
	fetcher := &gatedFetcher{q: model.Quote{Current: 150.00, High: 151.00, Low: 149.00, Change: 0.5, PercentChange: 0.33}}
	svc, _, cache, pub := newTestService(t, fetcher)

	svc.Subscribe("a", "AAPL")
	require.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	svc.HandleTick(model.Tick{Symbol: "AAPL", Price: 150.25})
	got, n := pub.last()
	require.Equal(t, 1, n)
	assert.Equal(t, "AAPL", got.symbol)
	assert.Equal(t, model.MarketData{
		Type: model.TypeMarketData, Symbol: "AAPL",
		Current: 150.25, High: 150.25, Low: 150.25,
	}, got.data)

	fetcher.ready.Store(true)
	require.Eventually(t, func() bool {
		_, err := svc.Snapshot(t.Context(), "AAPL")
		return err == nil
	}, time.Second, 5*time.Millisecond)
	_, ok := cache.Peek("AAPL")
	require.True(t, ok)

	svc.HandleTick(model.Tick{Symbol: "AAPL", Price: 150.40})
	got, n = pub.last()
	require.Equal(t, 2, n)
	assert.Equal(t, model.MarketData{
		Type: model.TypeMarketData, Symbol: "AAPL",
		Current: 150.40, High: 151.00, Low: 149.00, Change: 0.5, PercentChange: 0.33,
	}, got.data)
}

func TestTickForInactiveSymbolIsDropped(t *testing.T) {
	fetcher := &gatedFetcher{}
	svc, _, _, pub := newTestService(t, fetcher)

	svc.HandleTick(model.Tick{Symbol: "aapl", Price: 1})
	_, n := pub.last()
	assert.Zero(t, n)
	assert.Zero(t, fetcher.calls.Load())
}

func TestSnapshotUnavailable(t *testing.T) {
	svc, _, _, _ := newTestService(t, &gatedFetcher{})
	_, err := svc.Snapshot(t.Context(), "AAPL")
	assert.ErrorIs(t, err, exception.ErrQuoteUnavailable)
}

func TestUnsubscribeForgetsQuote(t *testing.T) {
	fetcher := &gatedFetcher{q: model.Quote{Current: 10, High: 11, Low: 9}}
	fetcher.ready.Store(true)
	svc, _, cache, _ := newTestService(t, fetcher)

	svc.Subscribe("a", "XYZ")
	require.Eventually(t, func() bool {
		_, ok := cache.Peek("XYZ")
		return ok
	}, time.Second, 5*time.Millisecond)

	svc.Unsubscribe("a", "XYZ")
	_, ok := cache.Peek("XYZ")
	assert.False(t, ok)
}
