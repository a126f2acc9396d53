package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"marketdesk/internal/auth"
	"marketdesk/internal/errors"
	"marketdesk/internal/fanout"
	"marketdesk/internal/model"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

const (
	defaultQueueSize      = 256
	defaultWriteTimeout   = 5 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultPingInterval   = 50 * time.Second
	defaultMaxMessageSize = 4 << 10
)

// Market is what the hub needs from the market service.
type Market interface {
	Subscribe(member, symbol string) bool
	Unsubscribe(member, symbol string) bool
	Release(member string) []string
	Snapshot(ctx context.Context, symbol string) (model.MarketData, error)
}

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

type Config struct {
	QueueSize      int
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	Metrics        *obs.Metrics
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
}

// Hub owns every live client connection.
type Hub struct {
	cfg    Config
	market Market
	auth   Authenticator

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
}

func New(market Market, authenticator Authenticator, cfg Config) *Hub {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		market:   market,
		auth:     authenticator,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// ServeHTTP upgrades the request and runs the session until it closes.
// A request without a valid token is closed with a policy violation before
// any command is read.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, authErr := h.auth.Authenticate(auth.TokenFromRequest(r))

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		logs.Warnf("upgrade client connection, err: %+v", err)
		return
	}

	s := newSession(h, uuid.NewString(), conn)
	if authErr != nil {
		h.cfg.Metrics.IncAuthRejected()
		logs.Warnf("reject client %s, err: %+v", conn.RemoteAddr(), authErr)
		_ = s.machine.Transit(ConnClosed)
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
		_ = wsutil.WriteServerMessage(conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusPolicyViolation, "unauthorized"))
		_ = conn.Close()
		return
	}

	s.userID = userID
	_ = s.machine.Transit(ConnAuthenticated)
	if !h.add(s) {
		s.close(ws.StatusGoingAway, "server shutting down", nil)
		return
	}
	_ = s.machine.Transit(ConnActive)
	logs.Infof("client %s connected as session %s", userID, s.id)

	go s.writeLoop()
	go s.readLoop()
}

func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.sessions[s.id] = s
	return true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Lookup returns the sink of a live session.
func (h *Hub) Lookup(member string) (fanout.Sink, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[member]
	if !ok {
		return nil, false
	}
	return s, true
}

// Evict closes a session that failed delivery. A member without a live
// session only has its leftover memberships released.
func (h *Hub) Evict(member string, reason error) {
	h.mu.RLock()
	s, ok := h.sessions[member]
	h.mu.RUnlock()
	if !ok {
		h.market.Release(member)
		return
	}
	s.close(ws.StatusPolicyViolation, "delivery failure", reason)
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close closes every session and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.cancel()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close(ws.StatusGoingAway, "server shutting down", nil)
	}
}

func deliveryError(err error) error {
	return errors.Wrapf(exception.ErrDeliveryFailure, "%v", err)
}
