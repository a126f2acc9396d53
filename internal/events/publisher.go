package events

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/segmentio/kafka-go"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
	"marketdesk/internal/model/enum"
	"marketdesk/internal/trade"
)

const TypeTradeExecuted = "trade_executed"

var _ trade.Publisher = (*Publisher)(nil)

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradeExecuted is the event emitted after a trade commits.
type TradeExecuted struct {
	Type        string           `json:"type"`
	TradeID     uint             `json:"trade_id"`
	PortfolioID uint             `json:"portfolio_id"`
	Symbol      string           `json:"symbol"`
	Side        enum.Side        `json:"side"`
	Quantity    int64            `json:"quantity"`
	Price       string           `json:"price"`
	Status      enum.TradeStatus `json:"status"`
	ExecutedAt  time.Time        `json:"executed_at"`
}

// Publisher writes trade events keyed by portfolio, so one portfolio's
// events stay ordered within a partition.
type Publisher struct {
	w Writer
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{w: w}
}

// NewKafkaPublisher builds a publisher on a kafka writer for topic.
func NewKafkaPublisher(brokers []string, topic string) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	})
}

func (p *Publisher) PublishTrade(ctx context.Context, t model.Trade) error {
	executedAt := t.CreatedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	payload, err := sonic.Marshal(TradeExecuted{
		Type:        TypeTradeExecuted,
		TradeID:     t.ID,
		PortfolioID: t.PortfolioID,
		Symbol:      t.Symbol,
		Side:        t.Side,
		Quantity:    t.Quantity,
		Price:       t.Price.String(),
		Status:      t.Status,
		ExecutedAt:  executedAt.UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "encode trade event")
	}

	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(t.PortfolioID), 10)),
		Value: payload,
	})
	return errors.Wrapf(err, "write trade event %d", t.ID)
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
