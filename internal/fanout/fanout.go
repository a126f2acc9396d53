package fanout

import (
	"time"

	"github.com/yanun0323/logs"

	"marketdesk/internal/errors"
	"marketdesk/internal/obs"
	"marketdesk/pkg/exception"
)

var errNoSession = errors.New("no live session")

// Sink accepts an encoded frame for one member without blocking.
type Sink interface {
	Send(payload []byte) error
}

// Directory resolves members to their sinks.
type Directory interface {
	Lookup(member string) (Sink, bool)
	Evict(member string, reason error)
}

// Subscribers lists the members holding a symbol.
type Subscribers interface {
	Subscribers(symbol string) []string
}

// Result counts one publish pass.
type Result struct {
	Delivered int
	Failed    int
}

// Broadcaster delivers a frame to every subscriber of a symbol.
//
// A failed delivery never blocks the other members. Members that failed, or
// that no longer have a live sink, are evicted after the pass completes.
type Broadcaster struct {
	subs    Subscribers
	dir     Directory
	metrics *obs.Metrics
}

func New(subs Subscribers, dir Directory, metrics *obs.Metrics) *Broadcaster {
	return &Broadcaster{subs: subs, dir: dir, metrics: metrics}
}

func (b *Broadcaster) Publish(symbol string, payload []byte) Result {
	start := time.Now()
	members := b.subs.Subscribers(symbol)

	var (
		res    Result
		failed map[string]error
	)
	fail := func(member string, err error) {
		if failed == nil {
			failed = make(map[string]error)
		}
		failed[member] = errors.Wrapf(exception.ErrDeliveryFailure, "%s: %v", symbol, err)
		res.Failed++
	}
	for _, member := range members {
		sink, ok := b.dir.Lookup(member)
		if !ok {
			fail(member, errNoSession)
			continue
		}
		if err := sink.Send(payload); err != nil {
			fail(member, err)
			continue
		}
		res.Delivered++
	}

	for member, reason := range failed {
		logs.Warnf("evict %s, err: %+v", member, reason)
		b.dir.Evict(member, reason)
		b.metrics.IncEviction()
	}

	b.metrics.ObserveFanout(res.Delivered, res.Failed, time.Since(start))
	return res
}
