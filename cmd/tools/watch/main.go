package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

type command struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// watch subscribes to symbols on a running server and prints every frame
// together with the time since the previous one.
func main() {
	addr := flag.String("url", "ws://localhost:8080/ws", "Stream URL")
	token := flag.String("token", "", "Bearer token")
	symbols := flag.String("symbols", "AAPL", "Comma separated symbols")
	flag.Parse()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.DefaultDialer.Dial(*addr, header)
	if err != nil {
		if resp != nil {
			logs.Errorf("dial failed, status: %s, err: %+v", resp.Status, err)
		} else {
			logs.Errorf("dial failed, err: %+v", err)
		}
		os.Exit(1)
	}
	defer conn.Close()

	for _, s := range strings.Split(*symbols, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		b, _ := sonic.Marshal(command{Type: "subscribe", Symbol: s})
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			logs.Errorf("subscribe %s failed, err: %+v", s, err)
			os.Exit(1)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	last := time.Now()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				logs.Infof("closed by server, code: %d, reason: %s", ce.Code, ce.Text)
				return
			}
			logs.Infof("read stopped, err: %+v", err)
			return
		}
		now := time.Now()
		fmt.Printf("%s +%s\n", msg, now.Sub(last))
		last = now
	}
}
