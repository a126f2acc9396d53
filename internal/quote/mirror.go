package quote

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"marketdesk/internal/errors"
	"marketdesk/internal/model"
)

const (
	keyPrefix        = "quote:"
	defaultMirrorTTL = time.Minute
)

var _ Mirror = (*RedisMirror)(nil)

// RedisMirror shares quote snapshots between processes through redis keys
// that expire after ttl.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMirror(client *redis.Client, ttl time.Duration) *RedisMirror {
	if ttl <= 0 {
		ttl = defaultMirrorTTL
	}
	return &RedisMirror{client: client, ttl: ttl}
}

func (m *RedisMirror) Load(ctx context.Context, symbol string) (model.Quote, bool, error) {
	b, err := m.client.Get(ctx, keyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Quote{}, false, nil
	}
	if err != nil {
		return model.Quote{}, false, errors.Wrap(err, "redis get")
	}
	var q model.Quote
	if err := sonic.Unmarshal(b, &q); err != nil {
		return model.Quote{}, false, errors.Wrap(err, "decode mirrored quote")
	}
	return q, true, nil
}

func (m *RedisMirror) Store(ctx context.Context, q model.Quote) error {
	b, err := sonic.Marshal(q)
	if err != nil {
		return errors.Wrap(err, "encode quote")
	}
	if err := m.client.Set(ctx, keyPrefix+q.Symbol, b, m.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}
