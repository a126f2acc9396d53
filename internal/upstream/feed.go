package upstream

import (
	"context"
	"sync"
	"time"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketdesk/internal/bus"
	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

const defaultWriteQueueSize = 256

// Config defines the feed runtime configuration.
type Config struct {
	Dialer         Dialer
	Codec          Codec
	Symbols        ActiveSymbols
	WriteQueueSize int
	PingInterval   time.Duration
	Backoff        Backoff
	Metrics        *obs.Metrics
}

// Feed owns the single streaming session with the price provider.
//
// Subscribe and Unsubscribe only reach the provider while connected. Every
// new session starts by replaying all symbols reported by Config.Symbols, so
// intents issued while disconnected are never lost.
type Feed struct {
	cfg  Config
	subs *subscriptions

	mu     sync.Mutex
	state  State
	writer *bus.Queue
}

// NewFeed validates config and builds a feed.
func NewFeed(cfg Config) (*Feed, error) {
	if cfg.Dialer == nil {
		return nil, errors.Wrap(exception.ErrBadConfig, "upstream: nil dialer")
	}
	if cfg.Codec == nil {
		return nil, errors.Wrap(exception.ErrBadConfig, "upstream: nil codec")
	}
	if cfg.Symbols == nil {
		return nil, errors.Wrap(exception.ErrBadConfig, "upstream: nil active symbols")
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = defaultWriteQueueSize
	}
	if cfg.Backoff.IsZero() {
		cfg.Backoff = DefaultBackoff()
	}
	return &Feed{
		cfg:   cfg,
		subs:  newSubscriptions(),
		state: StateDisconnected,
	}, nil
}

// State returns the current session state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Run keeps a session open until ctx is done, delivering every decoded tick
// to handler from a single goroutine.
func (f *Feed) Run(ctx context.Context, handler func(model.Tick)) error {
	if handler == nil {
		return errors.Wrap(exception.ErrBadConfig, "upstream: nil tick handler")
	}
	defer f.setState(StateDisconnected)

	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.setState(StateConnecting)
		conn, err := f.cfg.Dialer.Dial(ctx)
		if err != nil {
			f.setState(StateDisconnected)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			wait := f.cfg.Backoff.Next(attempt)
			logs.Warnf("upstream dial failed, attempt: %d, retry in: %s, err: %+v", attempt, wait, err)
			f.sleep(ctx, wait)
			continue
		}

		attempt = 0
		queue := f.connect()
		err = f.runSession(ctx, conn, queue, handler)
		f.disconnect(queue)
		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.cfg.Metrics.IncReconnect()
		attempt++
		wait := f.cfg.Backoff.Next(attempt)
		logs.Warnf("upstream session ended, reconnect in: %s, err: %+v", wait, err)
		f.sleep(ctx, wait)
	}
}

// Subscribe sends a subscribe frame for symbol if connected. It is a no-op
// while disconnected or when symbol was already sent on this session.
func (f *Feed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConnected {
		return nil
	}
	if !f.subs.MarkActive(symbol) {
		return nil
	}
	if err := f.sendLocked(f.cfg.Codec.EncodeSubscribe, symbol); err != nil {
		f.subs.MarkInactive(symbol)
		return err
	}
	return nil
}

// Unsubscribe sends an unsubscribe frame for symbol if connected.
func (f *Feed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateConnected {
		return nil
	}
	if !f.subs.MarkInactive(symbol) {
		return nil
	}
	return f.sendLocked(f.cfg.Codec.EncodeUnsubscribe, symbol)
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// connect enters StateConnected and replays every active symbol.
func (f *Feed) connect() *bus.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()

	symbols := f.cfg.Symbols.Symbols()
	f.writer = bus.NewQueue(f.cfg.WriteQueueSize + len(symbols))
	f.state = StateConnected
	f.subs.ClearActive()

	for _, symbol := range symbols {
		if !f.subs.MarkActive(symbol) {
			continue
		}
		if err := f.sendLocked(f.cfg.Codec.EncodeSubscribe, symbol); err != nil {
			f.subs.MarkInactive(symbol)
			logs.Errorf("replay subscribe %s, err: %+v", symbol, err)
		}
	}
	logs.Infof("upstream connected, replayed %d symbols", len(symbols))
	return f.writer
}

func (f *Feed) disconnect(queue *bus.Queue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateDisconnected
	f.writer = nil
	f.subs.ClearActive()
	queue.Close()
}

func (f *Feed) sendLocked(encode func(string) ([]byte, error), symbol string) error {
	payload, err := encode(symbol)
	if err != nil {
		return errors.Wrapf(err, "encode control frame for %s", symbol)
	}
	if f.writer == nil {
		return exception.ErrNotConnected
	}
	if err := f.writer.TryPublish(payload); err != nil {
		return errors.Wrapf(err, "enqueue control frame for %s", symbol)
	}
	return nil
}

func (f *Feed) runSession(ctx context.Context, conn Conn, queue *bus.Queue, handler func(model.Tick)) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- f.readLoop(sessionCtx, conn, handler)
	}()
	go func() {
		errCh <- queue.Run(sessionCtx, func(payload []byte) error {
			if err := conn.Write(sessionCtx, payload); err != nil {
				return yerrors.Wrap(err, "write control frame").With("payload", string(payload))
			}
			return nil
		})
	}()

	var ping <-chan time.Time
	if f.cfg.PingInterval > 0 {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			if err == nil {
				err = exception.ErrConnectionClose
			}
			return err
		case <-ping:
			if err := conn.Ping(sessionCtx); err != nil {
				return errors.Wrap(err, "ping provider")
			}
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, conn Conn, handler func(model.Tick)) error {
	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		ticks, err := f.cfg.Codec.Decode(payload)
		if err != nil {
			f.cfg.Metrics.IncDroppedFrame()
			logs.Debugf("drop upstream frame, err: %+v, payload: %s", err, payload)
			continue
		}
		if len(ticks) == 0 {
			logs.Debugf("skip upstream frame without ticks, payload: %s", payload)
			continue
		}
		for _, tick := range ticks {
			f.cfg.Metrics.IncTick()
			handler(tick)
		}
	}
}

func (f *Feed) sleep(ctx context.Context, wait time.Duration) {
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
