package market

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"marketdesk/internal/errors"
	"marketdesk/internal/fanout"
	"marketdesk/internal/model"
	"marketdesk/internal/registry"
)

const defaultSeedRetry = 5 * time.Second

// Feed is the upstream subscription surface.
type Feed interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// Quotes is the quote cache surface used for enrichment and snapshots.
type Quotes interface {
	GetOrFetch(ctx context.Context, symbol string) (model.Quote, error)
	ApplyTick(tick model.Tick) (model.Quote, bool)
	Forget(symbol string)
}

// Publisher delivers an encoded frame to the subscribers of a symbol.
type Publisher interface {
	Publish(symbol string, payload []byte) fanout.Result
}

type Option func(*Service)

// WithSeedRetry bounds how often a failed snapshot seed is retried per symbol.
func WithSeedRetry(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.seedRetry = d
		}
	}
}

// Service ties client interest to the upstream feed and the quote cache.
//
// Membership transitions and the matching upstream calls run under one mutex,
// so the provider sees subscribe and unsubscribe in transition order.
type Service struct {
	ctx       context.Context
	reg       *registry.Registry
	feed      Feed
	quotes    Quotes
	seedRetry time.Duration

	mu sync.Mutex

	pubMu     sync.RWMutex
	publisher Publisher

	seedMu   sync.Mutex
	lastSeed map[string]time.Time
}

// NewService builds a service. Background seeds stop when ctx is done.
func NewService(ctx context.Context, reg *registry.Registry, feed Feed, quotes Quotes, opts ...Option) *Service {
	s := &Service{
		ctx:       ctx,
		reg:       reg,
		feed:      feed,
		quotes:    quotes,
		seedRetry: defaultSeedRetry,
		lastSeed:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Attach sets where enriched ticks are published.
func (s *Service) Attach(p Publisher) {
	s.pubMu.Lock()
	s.publisher = p
	s.pubMu.Unlock()
}

// Subscribe records member's interest. The first subscriber of a symbol opens
// the upstream subscription and seeds a snapshot in the background.
func (s *Service) Subscribe(member, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reg.Subscribe(member, symbol) {
		return false
	}
	if err := s.feed.Subscribe(symbol); err != nil {
		logs.Warnf("upstream subscribe %s, err: %+v", symbol, err)
	}
	s.seed(symbol)
	return true
}

// Unsubscribe removes member's interest. The last subscriber closes the
// upstream subscription and drops the cached quote.
func (s *Service) Unsubscribe(member, symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reg.Unsubscribe(member, symbol) {
		return false
	}
	s.closeSymbol(symbol)
	return true
}

// Release drops every membership of member and closes the symbols left empty.
func (s *Service) Release(member string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	emptied := s.reg.DropUser(member)
	for _, symbol := range emptied {
		s.closeSymbol(symbol)
	}
	return emptied
}

func (s *Service) closeSymbol(symbol string) {
	if err := s.feed.Unsubscribe(symbol); err != nil {
		logs.Warnf("upstream unsubscribe %s, err: %+v", symbol, err)
	}
	s.quotes.Forget(symbol)

	s.seedMu.Lock()
	delete(s.lastSeed, symbol)
	s.seedMu.Unlock()
}

// Snapshot returns the current market data frame of symbol.
func (s *Service) Snapshot(ctx context.Context, symbol string) (model.MarketData, error) {
	q, err := s.quotes.GetOrFetch(ctx, symbol)
	if err != nil {
		return model.MarketData{}, err
	}
	return model.NewMarketData(q), nil
}

// HandleTick enriches tick and publishes it to the symbol's subscribers.
// Without a cached snapshot the degraded quote is published and a seed is
// scheduled. It is called from the single feed receive loop.
func (s *Service) HandleTick(tick model.Tick) {
	tick.Symbol = model.NormalizeSymbol(tick.Symbol)
	if !s.reg.Active(tick.Symbol) {
		logs.Debugf("drop tick for inactive symbol %s", tick.Symbol)
		return
	}

	q, enriched := s.quotes.ApplyTick(tick)
	if !enriched {
		s.seed(tick.Symbol)
	}

	payload, err := sonic.Marshal(model.NewMarketData(q))
	if err != nil {
		logs.Errorf("encode market data %s, err: %+v", tick.Symbol, errors.Wrap(err, "marshal"))
		return
	}

	s.pubMu.RLock()
	p := s.publisher
	s.pubMu.RUnlock()
	if p == nil {
		return
	}
	p.Publish(tick.Symbol, payload)
}

// seed fetches a snapshot in the background, at most once per retry window.
func (s *Service) seed(symbol string) {
	now := time.Now()
	s.seedMu.Lock()
	if last, ok := s.lastSeed[symbol]; ok && now.Sub(last) < s.seedRetry {
		s.seedMu.Unlock()
		return
	}
	s.lastSeed[symbol] = now
	s.seedMu.Unlock()

	go func() {
		if _, err := s.quotes.GetOrFetch(s.ctx, symbol); err != nil {
			logs.Warnf("seed quote %s, broadcasting raw ticks, err: %+v", symbol, err)
		}
	}()
}
