package broker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/internal/registry"
	"github.com/gian-ai/recommendations/pkg/slogx"
	"github.com/gian-ai/recommendations/wire"
)

const defaultWriteTimeout = 10 * time.Second

var (
	// Host sets the interface the broker listens on.
	Host = opts.ForName[Server, string]("host")
	// Port sets the TCP port. Zero picks a free port.
	Port = opts.ForName[Server, int]("port")
	// CacheLength sets the replay buffer capacity of every topic.
	CacheLength = opts.ForName[Server, int]("cacheLength")
	// WriteTimeout bounds a single write to a recipient. Zero disables it.
	WriteTimeout = opts.ForName[Server, time.Duration]("writeTimeout")
	// Logger replaces the component logger.
	Logger = opts.ForName[Server, *slog.Logger]("logger")
)

// WithSink forwards every sent frame to the given sinks, in order.
func WithSink(sink Sink, extra ...Sink) opts.Option[Server] {
	return opts.Type[Server](func(s *Server) error {
		s.sinks = append(s.sinks, sink)
		s.sinks = append(s.sinks, extra...)
		return nil
	})
}

// WithPicker replaces the uniform random choice used for single delivery.
// pick receives the subscriber count and returns an index below it.
func WithPicker(pick func(n int) int) opts.Option[Server] {
	return opts.Type[Server](func(s *Server) error {
		if pick == nil {
			return errors.New("picker is required")
		}
		s.pick = pick
		return nil
	})
}

// Server accepts client connections and routes their frames.
type Server struct {
	host         string
	port         int
	cacheLength  int
	writeTimeout time.Duration
	logger       *slog.Logger
	sinks        []Sink
	pick         func(n int) int

	sink   Sink
	topics registry.Registry[*topic]
	conns  registry.Registry[*conn]

	mu       sync.Mutex
	listener net.Listener
	handlers sync.WaitGroup
	closed   atomic.Bool
}

// New creates a broker. It does not listen until Listen or Serve is called.
func New(options ...opts.Option[Server]) (*Server, error) {
	s := &Server{
		host:         "localhost",
		port:         7777,
		cacheLength:  DefaultCacheLength,
		writeTimeout: defaultWriteTimeout,
		pick:         rand.IntN,
		topics:       registry.New[*topic](),
		conns:        registry.New[*conn](),
	}
	if err := opts.Apply(s, options); err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	if s.cacheLength < 1 {
		return nil, fmt.Errorf("broker: cache length must be positive, got %d", s.cacheLength)
	}
	if s.logger == nil {
		s.logger = slogx.Component("mq.broker")
	}
	switch len(s.sinks) {
	case 0:
		s.sink = nopSink{}
	case 1:
		s.sink = s.sinks[0]
	default:
		s.sink = multiSink(s.sinks)
	}
	return s, nil
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds and serves until ctx is done or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is done or Close is called, running one
// goroutine per connection.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("broker: serve before listen")
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		raw, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				s.handlers.Wait()
				return nil
			}
			return fmt.Errorf("broker: accept: %w", err)
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.handle(ctx, raw)
		}()
	}
}

// Close stops accepting, disconnects every client and waits for their read
// loops to finish.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.conns.Each(func(_ string, c *conn) bool {
		s.disconnect(c)
		return true
	})
	s.handlers.Wait()
	return err
}

// Stats returns a snapshot of every topic, sorted by name.
func (s *Server) Stats() []TopicStats {
	names := s.topics.Names()
	out := make([]TopicStats, 0, len(names))
	for _, name := range names {
		if t, ok := s.topics.Lookup(name); ok {
			out = append(out, t.stats())
		}
	}
	return out
}

// Subscribers returns the number of connections subscribed to name.
func (s *Server) Subscribers(name string) int {
	t, ok := s.topics.Lookup(name)
	if !ok {
		return 0
	}
	return t.stats().Subscribers
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	return s.conns.Len()
}

func (s *Server) topic(name string) *topic {
	t, _ := s.topics.Ensure(name, func() *topic {
		return newTopic(name, s.cacheLength)
	})
	return t
}

func (s *Server) handle(ctx context.Context, raw net.Conn) {
	c := newConn(raw, s.writeTimeout)
	s.conns.Add(c.id, c)
	if s.closed.Load() {
		s.disconnect(c)
		return
	}

	logger := s.logger.With(slog.String("conn", c.id), slogx.Peer(c.peer()))
	logger.Debug("client connected")

	defer func() {
		s.disconnect(c)
		logger.Debug("client disconnected")
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("read loop panicked", slog.Any("panic", r))
		}
	}()

	reader := bufio.NewReader(raw)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && !s.dispatch(ctx, c, line, logger) {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Warn("read failed", slogx.Error(err))
			}
			return
		}
	}
}

// dispatch handles one line and reports whether the read loop should go on.
func (s *Server) dispatch(ctx context.Context, c *conn, line []byte, logger *slog.Logger) bool {
	frame, err := wire.Decode(line)
	switch {
	case errors.Is(err, wire.ErrQuit):
		return false
	case err != nil:
		logger.Warn("discarding frame", slogx.Error(err))
		return true
	}

	switch frame.Command {
	case wire.CommandSubscribe:
		s.subscribe(c, frame)
	case wire.CommandSend:
		s.send(ctx, frame)
	}
	return true
}

func (s *Server) subscribe(c *conn, f wire.Frame) {
	t := s.topic(f.Topic)
	c.join(t.name)

	replay, slot, ok := t.subscribe(c, f.Cursor())
	if !ok {
		return
	}
	lines := make([][]byte, 0, len(replay))
	for _, cached := range replay {
		line, err := wire.Encode(cached)
		if err != nil {
			s.logger.Error("encode replay frame", slogx.Error(err), slog.String("topic", t.name))
			continue
		}
		lines = append(lines, line)
	}
	if err := c.writeAt(slot, lines...); err != nil {
		s.logger.Warn("replay failed", slogx.Error(err), slogx.Peer(c.peer()), slog.String("topic", t.name))
		s.disconnect(c)
	}
}

func (s *Server) send(ctx context.Context, f wire.Frame) {
	stamped, recipients := s.topic(f.Topic).send(f, s.pick)

	line, err := wire.Encode(stamped)
	if err != nil {
		s.logger.Error("encode frame", slogx.Error(err), slog.String("topic", f.Topic))
		for _, r := range recipients {
			_ = r.conn.writeAt(r.slot)
		}
		return
	}

	for _, r := range recipients {
		if err := r.conn.writeAt(r.slot, line); err != nil {
			s.logger.Warn("transmission failed", slogx.Error(err), slogx.Peer(r.conn.peer()), slog.String("topic", f.Topic))
			s.disconnect(r.conn)
		}
	}

	s.sink.Record(ctx, line)
}

// disconnect removes c from every topic it joined and releases its transport.
// It is safe to call more than once and from any goroutine.
func (s *Server) disconnect(c *conn) {
	c.markClosed()
	for _, name := range c.leaveAll() {
		if t, ok := s.topics.Lookup(name); ok {
			t.unsubscribe(c)
		}
	}
	s.conns.Remove(c.id)
	if err := c.close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("close connection", slogx.Error(err))
	}
}

// buffered exposes a topic's replay cache to tests.
func (s *Server) buffered(name string) []wire.Frame {
	t, ok := s.topics.Lookup(name)
	if !ok {
		return nil
	}
	return slices.Clone(t.buffered())
}
