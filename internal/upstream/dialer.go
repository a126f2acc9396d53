package upstream

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"marketdesk/internal/errors"
	"marketdesk/pkg/exception"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	maxProviderFrameSize    = 1 << 20
)

// WebsocketDialer dials the provider stream, passing the API token as a query parameter.
type WebsocketDialer struct {
	url          string
	token        string
	writeTimeout time.Duration
	dialer       *websocket.Dialer
}

func NewWebsocketDialer(rawURL, token string, handshakeTimeout, writeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebsocketDialer{
		url:          rawURL,
		token:        token,
		writeTimeout: writeTimeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	if d.token == "" {
		return nil, errors.Wrap(exception.ErrUpstreamUnavailable, "missing provider token")
	}
	u, err := url.Parse(d.url)
	if err != nil || u.Host == "" {
		return nil, errors.Wrap(exception.ErrUpstreamUnavailable, "invalid provider url")
	}
	query := u.Query()
	query.Set("token", d.token)
	u.RawQuery = query.Encode()

	conn, resp, err := d.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, errors.Wrapf(exception.ErrUpstreamUnavailable, "dial %s (status %d): %v", u.Host, status, err)
	}
	conn.SetReadLimit(maxProviderFrameSize)
	return &wsConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) Read(context.Context) ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsConn) Write(ctx context.Context, payload []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Ping(ctx context.Context) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, c.deadline(ctx))
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *wsConn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
