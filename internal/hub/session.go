package hub

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/yanun0323/logs"

	"marketdesk/internal/bus"
	"marketdesk/internal/errors"
	"marketdesk/internal/model"
)

const (
	commandSubscribe   = "subscribe"
	commandUnsubscribe = "unsubscribe"

	closeFrameTimeout = time.Second
)

type command struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type ack struct {
	Status string `json:"status"`
	Symbol string `json:"symbol"`
}

type errorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var unknownCommandReply, _ = sonic.Marshal(errorReply{Type: "error", Message: "unknown command"})

type session struct {
	hub     *Hub
	id      string
	userID  string
	conn    net.Conn
	queue   *bus.Queue
	machine *stateMachine

	ctx    context.Context
	cancel context.CancelFunc

	// memberMu orders membership changes against close, so no symbol is
	// recorded for a session that has already released its memberships.
	memberMu sync.Mutex
	writeMu  sync.Mutex
	once     sync.Once
	done    chan struct{}
}

func newSession(h *Hub, id string, conn net.Conn) *session {
	ctx, cancel := context.WithCancel(h.ctx)
	return &session{
		hub:     h,
		id:      id,
		conn:    conn,
		queue:   bus.NewQueue(h.cfg.QueueSize),
		machine: newStateMachine(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Send enqueues payload without blocking.
func (s *session) Send(payload []byte) error {
	return s.queue.TryPublish(payload)
}

func (s *session) reply(v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		logs.Errorf("encode reply for session %s, err: %+v", s.id, err)
		return
	}
	s.send(payload)
}

func (s *session) send(payload []byte) {
	if err := s.Send(payload); err != nil {
		s.close(ws.StatusPolicyViolation, "delivery failure", deliveryError(err))
	}
}

func (s *session) write(op ws.OpCode, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.cfg.WriteTimeout)); err != nil {
		return err
	}
	return wsutil.WriteServerMessage(s.conn, op, payload)
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(s.hub.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload, ok := <-s.queue.C():
			if !ok {
				return
			}
			if err := s.write(ws.OpText, payload); err != nil {
				s.close(ws.StatusAbnormalClosure, "", deliveryError(err))
				return
			}
		case <-ticker.C:
			if err := s.write(ws.OpPing, nil); err != nil {
				s.close(ws.StatusAbnormalClosure, "", deliveryError(err))
				return
			}
		}
	}
}

func (s *session) readLoop() {
	maxSize := s.hub.cfg.MaxMessageSize
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.hub.cfg.ReadTimeout)); err != nil {
			s.close(ws.StatusAbnormalClosure, "", err)
			return
		}
		header, err := ws.ReadHeader(s.conn)
		if err != nil {
			s.close(ws.StatusAbnormalClosure, "", err)
			return
		}
		if header.Length > maxSize {
			s.close(ws.StatusMessageTooBig, "message too big", nil)
			return
		}
		if !header.Fin {
			s.close(ws.StatusUnsupportedData, "fragmented messages are not supported", nil)
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(s.conn, payload); err != nil {
			s.close(ws.StatusAbnormalClosure, "", err)
			return
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			s.close(ws.StatusNormalClosure, "", nil)
			return
		case ws.OpPing:
			if err := s.write(ws.OpPong, payload); err != nil {
				s.close(ws.StatusAbnormalClosure, "", err)
				return
			}
		case ws.OpPong:
		case ws.OpText, ws.OpBinary:
			s.handle(payload)
		}
	}
}

func (s *session) handle(payload []byte) {
	var cmd command
	if err := sonic.Unmarshal(payload, &cmd); err != nil {
		logs.Debugf("session %s sent malformed command, err: %+v", s.id, err)
		s.send(unknownCommandReply)
		return
	}

	symbol := model.NormalizeSymbol(cmd.Symbol)
	if symbol == "" {
		s.send(unknownCommandReply)
		return
	}

	switch cmd.Type {
	case commandSubscribe:
		if !s.whileActive(func() { s.hub.market.Subscribe(s.id, symbol) }) {
			return
		}
		s.reply(ack{Status: "subscribed", Symbol: symbol})
		go s.sendSnapshot(symbol)
	case commandUnsubscribe:
		if !s.whileActive(func() { s.hub.market.Unsubscribe(s.id, symbol) }) {
			return
		}
		s.reply(ack{Status: "unsubscribed", Symbol: symbol})
	default:
		logs.Debugf("session %s sent unknown command %q", s.id, cmd.Type)
		s.send(unknownCommandReply)
	}
}

// whileActive runs fn unless the session is closing and reports whether it ran.
func (s *session) whileActive(fn func()) bool {
	s.memberMu.Lock()
	defer s.memberMu.Unlock()
	if s.machine.Current() != ConnActive {
		return false
	}
	fn()
	return true
}

func (s *session) sendSnapshot(symbol string) {
	md, err := s.hub.market.Snapshot(s.ctx, symbol)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logs.Debugf("no snapshot for %s, err: %+v", symbol, err)
		}
		return
	}
	if s.machine.Current() != ConnActive {
		return
	}
	s.reply(md)
}

// close runs the teardown once: leave the hub, release every membership,
// then hand the transport to shutdown. It never waits on the socket, so it is
// safe to call from the fan-out path.
func (s *session) close(code ws.StatusCode, reason string, cause error) {
	s.once.Do(func() {
		s.memberMu.Lock()
		_ = s.machine.Transit(ConnClosed)
		s.memberMu.Unlock()

		s.cancel()
		s.hub.remove(s.id)
		emptied := s.hub.market.Release(s.id)
		s.queue.Close()
		close(s.done)

		go s.shutdown(code, reason)

		if cause != nil && !errors.Is(cause, io.EOF) {
			logs.Warnf("session %s closed, released %d symbols, err: %+v", s.id, len(emptied), cause)
			return
		}
		logs.Infof("session %s closed, released %d symbols", s.id, len(emptied))
	})
}

// shutdown sends a best-effort close frame and closes the transport. When the
// writer is stuck on a slow client the frame is skipped and closing the
// transport unblocks it.
func (s *session) shutdown(code ws.StatusCode, reason string) {
	defer s.conn.Close()
	if code == ws.StatusAbnormalClosure || !s.writeMu.TryLock() {
		return
	}
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(min(s.hub.cfg.WriteTimeout, closeFrameTimeout)))
	_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(code, reason))
}
