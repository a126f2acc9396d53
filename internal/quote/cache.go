package quote

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/yanun0323/logs"
	"golang.org/x/sync/singleflight"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	defaultFetchTimeout    = 10 * time.Second
)

// Fetcher loads a point-in-time snapshot of a symbol from the provider.
//
//go:generate mockgen -package=quote_test -destination=mock_fetcher_test.go -source=cache.go Fetcher
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (model.Quote, error)
}

// Mirror is an optional shared store consulted before the provider.
type Mirror interface {
	Load(ctx context.Context, symbol string) (model.Quote, bool, error)
	Store(ctx context.Context, q model.Quote) error
}

// ActiveSet reports whether a symbol still has subscribers.
type ActiveSet interface {
	Active(symbol string) bool
}

// Option configures a Cache.
type Option func(*Cache)

func WithMirror(m Mirror) Option {
	return func(c *Cache) {
		c.mirror = m
	}
}

// WithActiveSet makes each refresh pass drop entries of inactive symbols
// instead of fetching them again.
func WithActiveSet(a ActiveSet) Option {
	return func(c *Cache) {
		c.active = a
	}
}

func WithMetrics(m *obs.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache holds the last known quote per symbol.
//
// A snapshot refresh never moves Current away from a price set by a tick,
// unless the snapshot is stamped strictly later than that tick.
type Cache struct {
	fetcher      Fetcher
	mirror       Mirror
	active       ActiveSet
	metrics      *obs.Metrics
	fetchTimeout time.Duration
	now          func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]model.Quote
	early   map[string]model.Tick
	pending map[string]*fetchTicket
}

// fetchTicket tracks the fetches of one symbol in flight. Forget marks it
// stale so their results are not stored.
type fetchTicket struct {
	refs  int
	stale bool
}

func NewCache(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher:      fetcher,
		fetchTimeout: defaultFetchTimeout,
		now:          time.Now,
		entries:      make(map[string]model.Quote),
		early:        make(map[string]model.Tick),
		pending:      make(map[string]*fetchTicket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Peek returns the cached quote without fetching.
func (c *Cache) Peek(symbol string) (model.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.entries[symbol]
	return q, ok
}

// GetOrFetch returns the cached quote, fetching and storing a snapshot on a miss.
// Concurrent misses for one symbol share a single fetch.
func (c *Cache) GetOrFetch(ctx context.Context, symbol string) (model.Quote, error) {
	if q, ok := c.Peek(symbol); ok {
		return q, nil
	}

	v, err, _ := c.group.Do(symbol, func() (any, error) {
		if q, ok := c.Peek(symbol); ok {
			return q, nil
		}
		ticket := c.begin(symbol)
		defer c.end(symbol, ticket)

		if q, ok := c.loadMirror(ctx, symbol); ok {
			q, _ = c.store(q, ticket)
			return q, nil
		}
		snap, err := c.fetch(ctx, symbol)
		if err != nil {
			return model.Quote{}, err
		}
		q, stored := c.store(snap, ticket)
		if stored {
			c.storeMirror(ctx, q)
		}
		return q, nil
	})
	if err != nil {
		return model.Quote{}, err
	}
	return v.(model.Quote), nil
}

// ApplyTick moves the cached quote of tick.Symbol to the tick price and
// returns it. Without a cached quote it returns the degraded quote and false;
// the degraded quote is not stored.
func (c *Cache) ApplyTick(tick model.Tick) (model.Quote, bool) {
	if tick.Time.IsZero() {
		tick.Time = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.entries[tick.Symbol]
	if !ok {
		c.early[tick.Symbol] = tick
		return model.DegradedQuote(tick), false
	}
	q = q.WithTick(tick)
	c.entries[tick.Symbol] = q
	return q, true
}

// RefreshAll re-fetches every cached symbol and returns how many were refreshed.
// A failed fetch keeps the previous entry. With an ActiveSet, entries of
// inactive symbols are dropped instead.
func (c *Cache) RefreshAll(ctx context.Context) int {
	refreshed := 0
	for _, symbol := range c.Symbols() {
		if ctx.Err() != nil {
			break
		}
		if c.active != nil && !c.active.Active(symbol) {
			c.Forget(symbol)
			continue
		}
		if c.refresh(ctx, symbol) {
			refreshed++
		}
	}
	return refreshed
}

func (c *Cache) refresh(ctx context.Context, symbol string) bool {
	ticket := c.begin(symbol)
	defer c.end(symbol, ticket)

	snap, err := c.fetch(ctx, symbol)
	if err != nil {
		logs.Warnf("refresh quote %s, err: %+v", symbol, err)
		return false
	}
	q, ok := c.merge(snap, ticket)
	if !ok {
		return false
	}
	c.storeMirror(ctx, q)
	return true
}

// Run refreshes on every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := c.RefreshAll(ctx)
			logs.Debugf("refreshed %d quotes", n)
		}
	}
}

// Forget drops everything cached for symbol. Fetches of symbol already in
// flight still answer their callers but leave nothing behind.
func (c *Cache) Forget(symbol string) {
	c.mu.Lock()
	delete(c.entries, symbol)
	delete(c.early, symbol)
	if t, ok := c.pending[symbol]; ok {
		t.stale = true
		delete(c.pending, symbol)
	}
	c.mu.Unlock()
}

func (c *Cache) begin(symbol string) *fetchTicket {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.pending[symbol]
	if !ok {
		t = &fetchTicket{}
		c.pending[symbol] = t
	}
	t.refs++
	return t
}

func (c *Cache) end(symbol string, t *fetchTicket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.refs--
	if t.refs == 0 && c.pending[symbol] == t {
		delete(c.pending, symbol)
	}
}

// Symbols returns the cached symbols, sorted.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for symbol := range c.entries {
		out = append(out, symbol)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (c *Cache) fetch(ctx context.Context, symbol string) (model.Quote, error) {
	if c.fetcher == nil {
		return model.Quote{}, errors.Wrap(exception.ErrQuoteUnavailable, "no snapshot fetcher")
	}
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	start := c.now()
	q, err := c.fetcher.Fetch(ctx, symbol)
	c.metrics.ObserveSnapshot(c.now().Sub(start))
	if err != nil {
		if errors.Is(err, exception.ErrQuoteUnavailable) {
			return model.Quote{}, err
		}
		return model.Quote{}, errors.Wrapf(exception.ErrQuoteUnavailable, "fetch %s: %v", symbol, err)
	}
	q.Symbol = symbol
	if q.RefreshedAt.IsZero() {
		q.RefreshedAt = c.now()
	}
	return q, nil
}

// store seeds an entry, folding in a tick that arrived before the first
// snapshot. It stores nothing and returns false if the symbol was forgotten
// while the fetch was in flight.
func (c *Cache) store(snap model.Quote, t *fetchTicket) (model.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.stale {
		return snap, false
	}
	if q, ok := c.entries[snap.Symbol]; ok {
		return q, true
	}
	q := snap
	if tick, ok := c.early[snap.Symbol]; ok {
		delete(c.early, snap.Symbol)
		if tickWins(tick.Time, snap.AsOf) {
			q = q.WithTick(tick)
			q.Volume = snap.Volume + tick.Volume
		}
	}
	c.entries[q.Symbol] = q
	return q, true
}

// merge applies a refresh to an existing entry. It returns false if the symbol
// was forgotten while the fetch was in flight.
func (c *Cache) merge(snap model.Quote, t *fetchTicket) (model.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[snap.Symbol]
	if !ok || t.stale {
		return model.Quote{}, false
	}
	q := snap
	if snap.Volume == 0 {
		q.Volume = prev.Volume
	}
	if !prev.TickAt.IsZero() && tickWins(prev.TickAt, snap.AsOf) {
		q = q.WithTick(model.Tick{Symbol: prev.Symbol, Price: prev.Current, Time: prev.TickAt})
		q.Volume = prev.Volume
	}
	c.entries[q.Symbol] = q
	return q, true
}

// tickWins reports whether a tick at tickAt should survive a snapshot stamped asOf.
// Snapshots without a timestamp never win.
func tickWins(tickAt, asOf time.Time) bool {
	return asOf.IsZero() || !asOf.After(tickAt)
}

func (c *Cache) loadMirror(ctx context.Context, symbol string) (model.Quote, bool) {
	if c.mirror == nil {
		return model.Quote{}, false
	}
	q, ok, err := c.mirror.Load(ctx, symbol)
	if err != nil {
		logs.Warnf("load mirrored quote %s, err: %+v", symbol, err)
		return model.Quote{}, false
	}
	return q, ok
}

func (c *Cache) storeMirror(ctx context.Context, q model.Quote) {
	if c.mirror == nil {
		return
	}
	if err := c.mirror.Store(ctx, q); err != nil {
		logs.Warnf("mirror quote %s, err: %+v", q.Symbol, err)
	}
}
