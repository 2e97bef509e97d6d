package broker

import (
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gian-ai/recommendations/pkg/uuidx"
)

// conn is one accepted client connection.
type conn struct {
	id           string
	raw          net.Conn
	writeTimeout time.Duration

	// Write slots. A slot is reserved under a topic lock and written later;
	// writes run strictly in reservation order.
	smu     sync.Mutex
	turn    *sync.Cond
	issued  uint64
	serving uint64

	mu     sync.Mutex
	topics []string

	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(raw net.Conn, writeTimeout time.Duration) *conn {
	c := &conn{
		id:           uuidx.NewString(),
		raw:          raw,
		writeTimeout: writeTimeout,
	}
	c.turn = sync.NewCond(&c.smu)
	return c
}

func (c *conn) peer() net.Addr {
	if c.raw == nil {
		return nil
	}
	return c.raw.RemoteAddr()
}

// reserve takes the next write slot. Every reserved slot must be passed to
// writeAt exactly once, with or without lines.
func (c *conn) reserve() uint64 {
	c.smu.Lock()
	defer c.smu.Unlock()
	slot := c.issued
	c.issued++
	return slot
}

// writeAt waits for slot's turn and transmits lines back to back. No other
// write reaches the connection in between.
func (c *conn) writeAt(slot uint64, lines ...[]byte) error {
	c.smu.Lock()
	for c.serving != slot && !c.closed.Load() {
		c.turn.Wait()
	}
	c.smu.Unlock()

	defer func() {
		c.smu.Lock()
		if c.serving == slot {
			c.serving++
		}
		c.turn.Broadcast()
		c.smu.Unlock()
	}()

	for _, line := range lines {
		if c.closed.Load() {
			return net.ErrClosed
		}
		if c.writeTimeout > 0 {
			if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return err
			}
		}
		if _, err := c.raw.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// write transmits one encoded line after every write reserved before it.
func (c *conn) write(line []byte) error {
	return c.writeAt(c.reserve(), line)
}

// join records that the connection subscribed to topic.
func (c *conn) join(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.topics, topic) {
		c.topics = append(c.topics, topic)
	}
}

// leaveAll forgets and returns every topic the connection joined.
func (c *conn) leaveAll() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := c.topics
	c.topics = nil
	return topics
}

func (c *conn) joined() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.topics)
}

// markClosed flags the connection as closing. Topics refuse to add a closing
// connection as a subscriber, and writers waiting for a slot give up.
func (c *conn) markClosed() {
	c.closed.Store(true)
	c.smu.Lock()
	c.turn.Broadcast()
	c.smu.Unlock()
}

func (c *conn) isClosed() bool {
	return c.closed.Load()
}

func (c *conn) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.markClosed()
		if c.raw != nil {
			err = c.raw.Close()
		}
	})
	return err
}
