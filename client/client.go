package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/pkg/slogx"
	"github.com/gian-ai/recommendations/task"
	"github.com/gian-ai/recommendations/wire"
	"github.com/tidwall/gjson"
)

var (
	// ErrConnect is returned once every dial attempt has failed.
	ErrConnect = errors.New("client: connect failed")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: closed")
)

type Client struct {
	host         string
	port         int
	attempts     int
	baseDelay    time.Duration
	factor       int
	queryTopic   string
	solveTopic   string
	observeTopic string
	logger       *slog.Logger

	dial  Dialer
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	// dialMu serializes dialing and backoff. mu guards the fields below and
	// is never held across a dial or a sleep.
	dialMu sync.Mutex

	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	closed      bool
	cursors     map[string]int64
	subscribed  []string
	outstanding map[string]map[string]struct{}

	errMu sync.Mutex
	err   error
}

// New creates a client for the broker at host:port. It does not dial until
// the first operation or Connect.
func New(host string, port int, options ...opts.Option[Client]) (*Client, error) {
	c := &Client{
		host:         host,
		port:         port,
		attempts:     DefaultAttempts,
		baseDelay:    DefaultBaseDelay,
		factor:       DefaultBackoffFactor,
		queryTopic:   task.DefaultQueryTopic,
		solveTopic:   task.DefaultSolveTopic,
		observeTopic: task.DefaultObserveTopic,
		dial:         (&net.Dialer{}).DialContext,
		sleep:        sleep,
		now:          time.Now,
		cursors:      make(map[string]int64),
		outstanding:  make(map[string]map[string]struct{}),
	}
	if err := opts.Apply(c, options); err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if c.attempts < 1 {
		return nil, fmt.Errorf("client: attempts must be positive, got %d", c.attempts)
	}
	if c.logger == nil {
		c.logger = slogx.Component("mq.client")
	}
	return c, nil
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, host string, port int, options ...opts.Option[Client]) (*Client, error) {
	c, err := New(host, port, options...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connect dials the broker unless a connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.baseDelay
	for range attempt {
		d *= time.Duration(c.factor)
	}
	return d
}

// connect opens the connection when there is none and re-subscribes every
// remembered topic on it.
func (c *Client) connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	closed, open := c.closed, c.conn != nil
	c.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case open:
		return nil
	}

	conn, err := c.dialWithBackoff(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return c.resubscribeLocked()
}

func (c *Client) dialWithBackoff(ctx context.Context) (net.Conn, error) {
	addr := c.addr()

	var lastErr error
	for attempt := range c.attempts {
		conn, err := c.dial(ctx, "tcp", addr)
		if err == nil {
			c.logger.Info("connected", slog.String("addr", addr), slog.Int("attempt", attempt+1))
			return conn, nil
		}

		lastErr = err
		c.logger.Warn("connect attempt failed",
			slog.String("addr", addr),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", c.attempts),
			slogx.Error(err),
		)
		if attempt == c.attempts-1 {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrConnect, addr, c.attempts, lastErr)
}

func (c *Client) resubscribeLocked() error {
	for _, topic := range c.subscribed {
		if err := c.writeFrameLocked(wire.Subscribe(topic, c.cursorLocked(topic), c.now())); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) writeFrameLocked(f wire.Frame) error {
	line, err := wire.Encode(f)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(line); err != nil {
		c.dropLocked()
		return fmt.Errorf("client: write: %w", err)
	}
	return nil
}

// dropLocked forgets a broken connection so the next operation redials.
func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
}

func (c *Client) write(ctx context.Context, f wire.Frame) error {
	for {
		if err := c.connect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		switch {
		case c.closed:
			c.mu.Unlock()
			return ErrClosed
		case c.conn != nil:
			err := c.writeFrameLocked(f)
			c.mu.Unlock()
			return err
		}
		// dropped by a concurrent read failure; redial
		c.mu.Unlock()
	}
}

func (c *Client) cursorLocked(topic string) int64 {
	if cursor, ok := c.cursors[topic]; ok {
		return cursor
	}
	return DefaultCursor
}

// Cursor returns the replay cursor sent when subscribing to topic.
func (c *Client) Cursor(topic string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursorLocked(topic)
}

// SetCursor moves the replay cursor of topic. It takes effect on the next
// subscribe, including the automatic one after a reconnect.
func (c *Client) SetCursor(topic string, lastSeen int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[topic] = lastSeen
}

// Subscribe asks the broker for frames on topic, replaying from the
// remembered cursor. The cursor itself is not advanced.
func (c *Client) Subscribe(ctx context.Context, topic string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}

	c.cursors[topic] = c.cursorLocked(topic)
	if !slices.Contains(c.subscribed, topic) {
		c.subscribed = append(c.subscribed, topic)
	}
	if c.conn != nil {
		err := c.writeFrameLocked(wire.Subscribe(topic, c.cursors[topic], c.now()))
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	// connecting re-subscribes every remembered topic
	return c.connect(ctx)
}

// Subscribed returns the topics re-subscribed after a reconnect.
func (c *Client) Subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.subscribed)
}

// Send publishes message on topic.
func (c *Client) Send(ctx context.Context, topic, message string, delivery wire.Delivery) error {
	return c.write(ctx, wire.Send(topic, message, delivery, c.now()))
}

// Query sends one single-delivery frame per choice-group of q and records
// q.ID as outstanding on the query topic. An empty q.Topic is set to the
// client's query topic.
func (c *Client) Query(ctx context.Context, q *task.Query) error {
	if q.Topic == "" {
		q.Topic = c.queryTopic
	}
	if err := q.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	c.track(q.Topic, q.ID)
	for _, t := range q.Tasks() {
		if err := c.Send(ctx, q.Topic, t.Line(), wire.DeliveryOne); err != nil {
			return err
		}
	}
	return nil
}

// Solve broadcasts s on its topic, the client's solve topic when empty.
func (c *Client) Solve(ctx context.Context, s task.Solution) error {
	if s.Topic == "" {
		s.Topic = c.solveTopic
	}
	if s.Datetime == "" {
		s.Datetime = wire.FormatTime(c.now())
	}
	msg, err := s.Encode()
	if err != nil {
		return err
	}
	return c.Send(ctx, s.Topic, msg, wire.DeliveryAll)
}

// Observe hands o to one consumer of its topic, the client's observe topic
// when empty.
func (c *Client) Observe(ctx context.Context, o *task.Observation) error {
	if o.Topic == "" {
		o.Topic = c.observeTopic
	}
	if o.Datetime == "" {
		o.Datetime = wire.FormatTime(c.now())
	}
	msg, err := o.Encode()
	if err != nil {
		return err
	}
	return c.Send(ctx, o.Topic, msg, wire.DeliveryOne)
}

func (c *Client) track(topic, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids, ok := c.outstanding[topic]
	if !ok {
		ids = make(map[string]struct{})
		c.outstanding[topic] = ids
	}
	ids[id] = struct{}{}
}

// Forget stops accepting answers for id on topic.
func (c *Client) Forget(topic, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outstanding[topic], id)
	if len(c.outstanding[topic]) == 0 {
		delete(c.outstanding, topic)
	}
}

// Outstanding returns the ids awaiting answers on topic, sorted.
func (c *Client) Outstanding(topic string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.outstanding[topic]))
	for id := range c.outstanding[topic] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// accept is the correlation filter. line is the frame as received, so an id
// carried next to the frame fields wins over one inside the message. A frame
// with an id is kept only when that id is outstanding on the message's origin
// topic, or on the frame topic when the message names none.
func (c *Client) accept(line []byte, f wire.Frame) bool {
	var id, msg gjson.Result
	if gjson.ValidBytes(line) {
		id = gjson.GetBytes(line, "id")
	}
	if gjson.Valid(f.Message) {
		msg = gjson.Parse(f.Message)
	}
	if !id.Exists() && msg.IsObject() {
		id = msg.Get("id")
	}
	if !id.Exists() {
		return true
	}
	topic := msg.Get("origin_topic").String()
	if topic == "" {
		topic = f.Topic
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outstanding[topic][id.String()]
	return ok
}

func (c *Client) transport(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	for {
		if err := c.connect(ctx); err != nil {
			return nil, nil, err
		}
		c.mu.Lock()
		closed, conn, reader := c.closed, c.conn, c.reader
		c.mu.Unlock()
		switch {
		case closed:
			return nil, nil, ErrClosed
		case conn != nil:
			return conn, reader, nil
		}
	}
}

func (c *Client) drop(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.dropLocked()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	c.err = err
}

// Err returns the error that ended the last Receive sequence. It is nil when
// the consumer stopped ranging.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Receive yields inbound frames that pass the correlation filter until ctx is
// done, the connection breaks or the consumer stops. Malformed lines are
// logged and skipped.
func (c *Client) Receive(ctx context.Context) iter.Seq[wire.Frame] {
	return func(yield func(wire.Frame) bool) {
		c.setErr(nil)
		for {
			if err := ctx.Err(); err != nil {
				c.setErr(err)
				return
			}
			conn, reader, err := c.transport(ctx)
			if err != nil {
				c.setErr(err)
				return
			}

			_ = conn.SetReadDeadline(time.Time{})
			stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
			line, err := reader.ReadBytes('\n')
			stop()

			if err != nil {
				switch {
				case ctx.Err() != nil:
					c.setErr(ctx.Err())
				case c.isClosed():
					c.setErr(ErrClosed)
				default:
					c.drop(conn)
					if errors.Is(err, io.EOF) {
						err = io.ErrUnexpectedEOF
					}
					c.setErr(fmt.Errorf("client: read: %w", err))
				}
				return
			}

			f, err := wire.Decode(line)
			if err != nil {
				if !errors.Is(err, wire.ErrQuit) {
					c.logger.Warn("discarding frame", slogx.Error(err))
				}
				continue
			}
			if !c.accept(line, f) {
				continue
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Ask issues q and collects one correlated solution per choice-group. The
// answer topic is subscribed first if it is not already.
func (c *Client) Ask(ctx context.Context, q *task.Query) ([]task.Solution, error) {
	if !slices.Contains(c.Subscribed(), c.solveTopic) {
		if err := c.Subscribe(ctx, c.solveTopic); err != nil {
			return nil, err
		}
	}
	if err := c.Query(ctx, q); err != nil {
		return nil, err
	}
	defer c.Forget(q.Topic, q.ID)

	want := q.Count()
	seen := make(map[string]struct{}, want)
	solutions := make([]task.Solution, 0, want)
	for f := range c.Receive(ctx) {
		if f.Topic != c.solveTopic {
			continue
		}
		s, err := task.DecodeSolution(f.Message)
		if err != nil || s.ID != q.ID {
			continue
		}
		if _, dup := seen[s.OriginString]; dup {
			continue
		}
		seen[s.OriginString] = struct{}{}
		solutions = append(solutions, s)
		if len(solutions) == want {
			return solutions, nil
		}
	}

	err := c.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return solutions, fmt.Errorf("client: ask %s: %d of %d solutions: %w", q.ID, len(solutions), want, err)
}

// Close sends the termination token and releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, werr := c.conn.Write(wire.Quit())
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	if werr != nil && !errors.Is(werr, net.ErrClosed) {
		return errors.Join(werr, err)
	}
	return err
}
