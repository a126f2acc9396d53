package upstream

import (
	"time"

	"github.com/bytedance/sonic"
	yerrors "github.com/yanun0323/errors"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/pkg/exception"
	"marketdesk/pkg/scanner"
)

const (
	_finnhubTypeTrade       = "trade"
	_finnhubTypePing        = "ping"
	_finnhubTypeError       = "error"
	_finnhubTypeSubscribe   = "subscribe"
	_finnhubTypeUnsubscribe = "unsubscribe"
)

type finnhubControl struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type finnhubTrade struct {
	Symbol    string  `json:"s"`
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"` // unix milli
	Volume    float64 `json:"v"`
}

type finnhubMessage struct {
	Type string         `json:"type"`
	Data []finnhubTrade `json:"data"`
	Msg  string         `json:"msg"`
}

// FinnhubCodec speaks the Finnhub trade stream protocol.
type FinnhubCodec struct{}

func NewFinnhubCodec() FinnhubCodec {
	return FinnhubCodec{}
}

func (FinnhubCodec) EncodeSubscribe(symbol string) ([]byte, error) {
	return sonic.Marshal(finnhubControl{Type: _finnhubTypeSubscribe, Symbol: symbol})
}

func (FinnhubCodec) EncodeUnsubscribe(symbol string) ([]byte, error) {
	return sonic.Marshal(finnhubControl{Type: _finnhubTypeUnsubscribe, Symbol: symbol})
}

// Decode turns a trade frame into ticks. Trades of the same symbol within
// one frame collapse into one tick carrying the last price and the summed volume.
func (FinnhubCodec) Decode(payload []byte) ([]model.Tick, error) {
	if scanner.HasStringField(payload, "type", _finnhubTypePing) {
		return nil, nil
	}

	var msg finnhubMessage
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return nil, errors.Wrapf(exception.ErrMalformedFrame, "decode payload: %v", err)
	}

	switch msg.Type {
	case _finnhubTypeTrade:
	case _finnhubTypePing:
		return nil, nil
	case _finnhubTypeError:
		return nil, yerrors.Errorf("provider error: %s", msg.Msg)
	default:
		return nil, errors.Wrapf(exception.ErrMalformedFrame, "unknown type %q", msg.Type)
	}

	ticks := make([]model.Tick, 0, len(msg.Data))
	index := make(map[string]int, len(msg.Data))
	for _, trade := range msg.Data {
		symbol := model.NormalizeSymbol(trade.Symbol)
		if symbol == "" || trade.Price <= 0 {
			continue
		}
		tick := model.Tick{
			Symbol: symbol,
			Price:  trade.Price,
			Volume: trade.Volume,
		}
		if trade.Timestamp > 0 {
			tick.Time = time.UnixMilli(trade.Timestamp)
		}
		if i, ok := index[symbol]; ok {
			tick.Volume += ticks[i].Volume
			ticks[i] = tick
			continue
		}
		index[symbol] = len(ticks)
		ticks = append(ticks, tick)
	}
	return ticks, nil
}
