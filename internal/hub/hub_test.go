package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdesk/internal/model"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

type staticAuth struct{}

func (staticAuth) Authenticate(token string) (string, error) {
	if token != "good" {
		return "", exception.ErrAuthRejected
	}
	return "user-1", nil
}

type fakeMarket struct {
	mu       sync.Mutex
	members  []string
	subs     []string
	unsubs   []string
	releases map[string]int
	snapErr  error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{releases: map[string]int{}}
}

func (m *fakeMarket) Subscribe(member, symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, member)
	m.subs = append(m.subs, symbol)
	return true
}

func (m *fakeMarket) Unsubscribe(member, symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs, symbol)
	return false
}

func (m *fakeMarket) Release(member string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[member]++
	return nil
}

func (m *fakeMarket) Snapshot(_ context.Context, symbol string) (model.MarketData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapErr != nil {
		return model.MarketData{}, m.snapErr
	}
	return model.MarketData{Type: model.TypeMarketData, Symbol: symbol, Current: 150, High: 151, Low: 149, Change: 0.5, PercentChange: 0.33}, nil
}

func (m *fakeMarket) failSnapshots() {
	m.mu.Lock()
	m.snapErr = errors.New("no snapshot")
	m.mu.Unlock()
}

func (m *fakeMarket) member(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.members)
	return m.members[0]
}

func (m *fakeMarket) releaseCount(member string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[member]
}

func (m *fakeMarket) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs) + len(m.unsubs) + len(m.releases)
}

type testEnv struct {
	hub     *Hub
	market  *fakeMarket
	metrics *obs.Metrics
	url     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	market := newFakeMarket()
	metrics := obs.NewMetrics()
	h := New(market, staticAuth{}, Config{Metrics: metrics})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return &testEnv{
		hub:     h,
		market:  market,
		metrics: metrics,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var v map[string]any
	require.NoError(t, conn.ReadJSON(&v))
	return v
}

func readClose(t *testing.T, conn *websocket.Conn) error {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func TestRejectsMissingOrInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	for _, token := range []string{"", "bad"} {
		conn := env.dial(t, token)
		err := readClose(t, conn)
		assert.Truef(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
	}

	assert.Zero(t, env.market.calls())
	assert.Zero(t, env.hub.Count())
	assert.Equal(t, uint64(2), env.metrics.Snapshot().AuthRejected)
}

func TestAcceptsHeaderToken(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer good")
	conn, _, err := websocket.DefaultDialer.Dial(env.url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "unsubscribe", "symbol": "AAPL"}))
	assert.Equal(t, map[string]any{"status": "unsubscribed", "symbol": "AAPL"}, readJSON(t, conn))
}

func TestSubscribeAckThenSnapshot(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "good")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": " aapl "}))

	assert.Equal(t, map[string]any{"status": "subscribed", "symbol": "AAPL"}, readJSON(t, conn))
	assert.Equal(t, map[string]any{
		"type": "market_data", "symbol": "AAPL",
		"current": 150.0, "high": 151.0, "low": 149.0, "change": 0.5, "percent_change": 0.33,
	}, readJSON(t, conn))
	assert.Equal(t, 1, env.hub.Count())
}

func TestUnknownCommands(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "good")

	for _, raw := range []string{
		`{"type":"buy","symbol":"AAPL"}`,
		`not json`,
		`{"type":"subscribe"}`,
		`{"type":"subscribe","symbol":"   "}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
		assert.Equal(t, map[string]any{"type": "error", "message": "unknown command"}, readJSON(t, conn), raw)
	}
	assert.Zero(t, env.market.calls())
}

func TestDisconnectReleasesOnce(t *testing.T) {
	env := newTestEnv(t)
	env.market.failSnapshots()
	conn := env.dial(t, "good")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": "AAPL"}))
	readJSON(t, conn)
	member := env.market.member(t)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	require.Eventually(t, func() bool { return env.market.releaseCount(member) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, env.hub.Count())

	env.hub.Evict(member, errors.New("late"))
	assert.Equal(t, 2, env.market.releaseCount(member), "a late eviction only releases leftovers")
	assert.Zero(t, env.hub.Count())
}

func TestEvictClosesSession(t *testing.T) {
	env := newTestEnv(t)
	env.market.failSnapshots()
	conn := env.dial(t, "good")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": "AAPL"}))
	readJSON(t, conn)
	member := env.market.member(t)

	env.hub.Evict(member, exception.ErrQueueFull)
	err := readClose(t, conn)
	assert.Truef(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected error: %v", err)
	assert.Equal(t, 1, env.market.releaseCount(member))

	_, ok := env.hub.Lookup(member)
	assert.False(t, ok)
}

func TestLookupSendReachesClient(t *testing.T) {
	env := newTestEnv(t)
	env.market.failSnapshots()
	conn := env.dial(t, "good")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": "MSFT"}))
	readJSON(t, conn)

	sink, ok := env.hub.Lookup(env.market.member(t))
	require.True(t, ok)
	require.NoError(t, sink.Send([]byte(`{"type":"market_data","symbol":"MSFT","current":1}`)))
	assert.Equal(t, "MSFT", readJSON(t, conn)["symbol"])
}

func TestCloseShutsEverySession(t *testing.T) {
	env := newTestEnv(t)
	first := env.dial(t, "good")
	second := env.dial(t, "good")
	require.Eventually(t, func() bool { return env.hub.Count() == 2 }, time.Second, 5*time.Millisecond)

	env.hub.Close()
	for _, conn := range []*websocket.Conn{first, second} {
		err := readClose(t, conn)
		assert.Truef(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	}
	assert.Zero(t, env.hub.Count())
}
