package upstream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdesk/pkg/exception"
)

func TestDialWithoutTokenIsUnavailable(t *testing.T) {
	d := NewWebsocketDialer("wss://ws.finnhub.io", "", 0, 0)
	_, err := d.Dial(t.Context())
	assert.ErrorIs(t, err, exception.ErrUpstreamUnavailable)
}

func TestDialUnreachableIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	server.Close()

	d := NewWebsocketDialer(url, "secret", time.Second, 0)
	_, err := d.Dial(t.Context())
	assert.ErrorIs(t, err, exception.ErrUpstreamUnavailable)
}

func TestDialRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	tokens := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens <- r.URL.Query().Get("token")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !strings.Contains(string(msg), `"subscribe"`) {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"trade","data":[{"s":"AAPL","p":150.25,"t":1,"v":1}]}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	d := NewWebsocketDialer("ws"+strings.TrimPrefix(server.URL, "http"), "secret", time.Second, time.Second)
	conn, err := d.Dial(t.Context())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "secret", <-tokens)

	codec := NewFinnhubCodec()
	sub, err := codec.EncodeSubscribe("AAPL")
	require.NoError(t, err)
	require.NoError(t, conn.Write(t.Context(), sub))
	require.NoError(t, conn.Ping(t.Context()))

	payload, err := conn.Read(t.Context())
	require.NoError(t, err)
	ticks, err := codec.Decode(payload)
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, 150.25, ticks[0].Price)
}
