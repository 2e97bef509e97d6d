package broker

import (
	"slices"
	"sync"

	"github.com/gian-ai/recommendations/wire"
)

// topic owns the subscriber list, sequence counter and replay cache of one
// name. Every operation below is one atomic step under mu.
type topic struct {
	name string

	mu          sync.Mutex
	subscribers []*conn
	next        int64
	cache       *replayCache
}

func newTopic(name string, cacheLength int) *topic {
	return &topic{
		name:  name,
		cache: newReplayCache(cacheLength),
	}
}

// recipient is a connection together with the write slot reserved for it
// while the topic was locked.
type recipient struct {
	conn *conn
	slot uint64
}

// subscribe registers c and returns the frames it must be replayed, pruning
// consumed "one" frames from the cache. The replay is bound to a write slot
// reserved before any later send can pick c. ok is false when c is closing.
func (t *topic) subscribe(c *conn, lastSeen int64) (replay []wire.Frame, slot uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c.isClosed() {
		return nil, 0, false
	}
	if !slices.Contains(t.subscribers, c) {
		t.subscribers = append(t.subscribers, c)
	}
	return t.cache.replay(lastSeen), c.reserve(), true
}

// send stamps f with the next index and returns it together with the
// recipients captured at this instant. pick chooses among n subscribers for
// single delivery. Slots are reserved in index order, so a recipient shared by
// concurrent sends receives them in that order.
func (t *topic) send(f wire.Frame, pick func(n int) int) (wire.Frame, []recipient) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f = f.WithIndex(t.next)
	t.next++

	if f.Delivery == wire.DeliveryAll {
		t.cache.push(f)
		out := make([]recipient, len(t.subscribers))
		for i, c := range t.subscribers {
			out[i] = recipient{conn: c, slot: c.reserve()}
		}
		return f, out
	}

	if len(t.subscribers) == 0 {
		t.cache.push(f)
		return f, nil
	}
	c := t.subscribers[pick(len(t.subscribers))]
	return f, []recipient{{conn: c, slot: c.reserve()}}
}

func (t *topic) unsubscribe(c *conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = slices.DeleteFunc(t.subscribers, func(s *conn) bool { return s == c })
}

func (t *topic) stats() TopicStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TopicStats{
		Name:        t.name,
		Subscribers: len(t.subscribers),
		NextIndex:   t.next,
		Buffered:    t.cache.len(),
	}
}

// buffered returns a copy of the cache, oldest first.
func (t *topic) buffered() []wire.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Frame, 0, t.cache.len())
	t.cache.each(func(f wire.Frame) { out = append(out, f) })
	return out
}
