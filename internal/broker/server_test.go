package broker

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fogfish/opts"
	"github.com/gian-ai/recommendations/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var zeroTime = time.Time{}

func quiet() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func startServer(t *testing.T, options ...opts.Option[Server]) *Server {
	t.Helper()
	base := []opts.Option[Server]{Host("127.0.0.1"), Port(0), Logger(quiet())}
	srv, err := New(append(base, options...)...)
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	t.Cleanup(func() {
		assert.NoError(t, srv.Close())
		assert.NoError(t, <-done)
	})
	return srv
}

type peer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *peer {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &peer{t: t, conn: c, r: bufio.NewReader(c)}
}

func (p *peer) send(f wire.Frame) {
	p.t.Helper()
	line, err := wire.Encode(f)
	require.NoError(p.t, err)
	p.raw(string(line))
}

func (p *peer) raw(line string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(line))
	require.NoError(p.t, err)
}

func (p *peer) subscribe(topic string, lastSeen int64) {
	p.t.Helper()
	p.send(wire.Subscribe(topic, lastSeen, time.Now()))
}

func (p *peer) tryNext(wait time.Duration) (wire.Frame, bool) {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(wait)))
	line, err := p.r.ReadBytes('\n')
	if err != nil {
		var ne net.Error
		require.True(p.t, errors.As(err, &ne) && ne.Timeout(), "unexpected read error: %v", err)
		return wire.Frame{}, false
	}
	f, err := wire.Decode(line)
	require.NoError(p.t, err)
	return f, true
}

func (p *peer) next() wire.Frame {
	p.t.Helper()
	f, ok := p.tryNext(2 * time.Second)
	require.True(p.t, ok, "expected a frame")
	return f
}

func (p *peer) silent() {
	p.t.Helper()
	f, ok := p.tryNext(150 * time.Millisecond)
	require.False(p.t, ok, "unexpected frame %+v", f)
}

func waitSubscribers(t *testing.T, srv *Server, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Subscribers(topic) == n }, 2*time.Second, 5*time.Millisecond)
}

func waitBuffered(t *testing.T, srv *Server, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(srv.buffered(topic)) == n }, 2*time.Second, 5*time.Millisecond)
}

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) Record(_ context.Context, line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, string(line))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestNew_Options(t *testing.T) {
	_, err := New(CacheLength(0))
	require.Error(t, err)

	_, err = New(WithPicker(nil))
	require.Error(t, err)

	srv, err := New(Host("127.0.0.1"), Port(0), CacheLength(5))
	require.NoError(t, err)
	assert.Equal(t, 5, srv.cacheLength)
	assert.Equal(t, defaultWriteTimeout, srv.writeTimeout)
	assert.Nil(t, srv.Addr())
}

func TestServer_QueuedWhenIdle(t *testing.T) {
	srv := startServer(t)
	sender := dial(t, srv)

	sender.send(wire.Send("t", "A", wire.DeliveryOne, zeroTime))
	waitBuffered(t, srv, "t", 1)

	s1 := dial(t, srv)
	s1.subscribe("t", -1)
	got := s1.next()
	assert.Equal(t, "A", got.Message)
	assert.Equal(t, int64(0), got.IndexValue())
	assert.Empty(t, srv.buffered("t"))

	s2 := dial(t, srv)
	s2.subscribe("t", -1)
	waitSubscribers(t, srv, "t", 2)
	s2.silent()
}

func TestServer_CursorAtIndexIsNotReplayed(t *testing.T) {
	srv := startServer(t)
	sender := dial(t, srv)
	sender.send(wire.Send("t", "A", wire.DeliveryOne, zeroTime))
	waitBuffered(t, srv, "t", 1)

	s := dial(t, srv)
	s.subscribe("t", 0)
	waitSubscribers(t, srv, "t", 1)
	s.silent()
	assert.Len(t, srv.buffered("t"), 1)
}

func TestServer_ExactlyOneDelivery(t *testing.T) {
	srv := startServer(t)

	subs := []*peer{dial(t, srv), dial(t, srv), dial(t, srv)}
	for _, s := range subs {
		s.subscribe("work", 1)
	}
	waitSubscribers(t, srv, "work", len(subs))

	dial(t, srv).send(wire.Send("work", "job", wire.DeliveryOne, zeroTime))

	received := 0
	for _, s := range subs {
		if f, ok := s.tryNext(300 * time.Millisecond); ok {
			received++
			assert.Equal(t, "job", f.Message)
		}
	}
	assert.Equal(t, 1, received)
	assert.Empty(t, srv.buffered("work"))
}

func TestServer_PickerChoosesRecipient(t *testing.T) {
	srv := startServer(t, WithPicker(func(n int) int { return n - 1 }))

	a, b := dial(t, srv), dial(t, srv)
	a.subscribe("work", 1)
	waitSubscribers(t, srv, "work", 1)
	b.subscribe("work", 1)
	waitSubscribers(t, srv, "work", 2)

	dial(t, srv).send(wire.Send("work", "job", wire.DeliveryOne, zeroTime))
	assert.Equal(t, "job", b.next().Message)
	a.silent()
}

func TestServer_BroadcastDurability(t *testing.T) {
	srv := startServer(t)

	a, b := dial(t, srv), dial(t, srv)
	a.subscribe("solve", 1)
	b.subscribe("solve", 1)
	waitSubscribers(t, srv, "solve", 2)

	sender := dial(t, srv)
	sender.send(wire.Send("solve", "s0", wire.DeliveryAll, zeroTime))
	sender.send(wire.Send("solve", "s1", wire.DeliveryAll, zeroTime))

	for _, p := range []*peer{a, b} {
		assert.Equal(t, "s0", p.next().Message)
		assert.Equal(t, "s1", p.next().Message)
	}

	late := dial(t, srv)
	late.subscribe("solve", -1)
	assert.Equal(t, int64(0), late.next().IndexValue())
	assert.Equal(t, int64(1), late.next().IndexValue())

	caughtUp := dial(t, srv)
	caughtUp.subscribe("solve", 0)
	assert.Equal(t, "s1", caughtUp.next().Message)
	caughtUp.silent()

	assert.Len(t, srv.buffered("solve"), 2)
}

func TestServer_OrderingAndCapacity(t *testing.T) {
	srv := startServer(t)

	sub := dial(t, srv)
	sub.subscribe("t", 1)
	waitSubscribers(t, srv, "t", 1)

	sender := dial(t, srv)
	const n = 130
	for i := 0; i < n; i++ {
		sender.send(wire.Send("t", "m", wire.DeliveryAll, zeroTime))
	}
	for i := 0; i < n; i++ {
		require.Equal(t, int64(i), sub.next().IndexValue())
	}

	buf := srv.buffered("t")
	require.Len(t, buf, DefaultCacheLength)
	assert.Equal(t, int64(n-DefaultCacheLength), buf[0].IndexValue())
}

func TestServer_MalformedLinesKeepConnection(t *testing.T) {
	srv := startServer(t)
	p := dial(t, srv)

	p.raw("not a frame\n")
	p.raw(`{"command":"launch","topic":"t","datetime":"x"}` + "\n")
	p.raw(`{"command":"subscribe","topic":"t","datetime":"x"}` + "\n")
	p.raw("\n")
	p.raw("{'command': 'subscribe', 'topic': 'lit', 'last_seen': '1', 'datetime': 'x',}\n")

	waitSubscribers(t, srv, "lit", 1)
	assert.Zero(t, srv.Subscribers("t"))
	assert.Equal(t, 1, srv.Connections())
}

func TestServer_TeardownOnQuitAndEOF(t *testing.T) {
	srv := startServer(t)

	quitter := dial(t, srv)
	quitter.subscribe("a", 1)
	quitter.subscribe("b", 1)
	leaver := dial(t, srv)
	leaver.subscribe("a", 1)
	waitSubscribers(t, srv, "a", 2)
	waitSubscribers(t, srv, "b", 1)

	quitter.raw("quit\n")
	waitSubscribers(t, srv, "a", 1)
	waitSubscribers(t, srv, "b", 0)

	require.NoError(t, quitter.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := quitter.r.ReadByte()
	require.Error(t, err)

	require.NoError(t, leaver.conn.Close())
	waitSubscribers(t, srv, "a", 0)
	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_SinkReceivesEverySend(t *testing.T) {
	rec := &recorder{}
	srv := startServer(t, WithSink(rec))

	p := dial(t, srv)
	p.send(wire.Send("query", "q", wire.DeliveryOne, zeroTime))
	p.send(wire.Send("solve", "s", wire.DeliveryAll, zeroTime))
	p.subscribe("query", 1)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	lines := rec.snapshot()
	assert.Contains(t, lines[0], `"index":0`)
	assert.Contains(t, lines[0], `"topic":"query"`)
	assert.True(t, strings.HasSuffix(lines[1], "\n"))
}

func TestServer_TransmissionFailureDisconnectsRecipient(t *testing.T) {
	srv, err := New(Logger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	brokenA, brokenB := net.Pipe()
	require.NoError(t, brokenB.Close())
	broken := newConn(brokenA, 0)

	goodA, goodB := net.Pipe()
	good := newConn(goodA, time.Second)
	lines := make(chan string, 1)
	go func() {
		defer close(lines)
		line, err := bufio.NewReader(goodB).ReadString('\n')
		if err == nil {
			lines <- line
		}
		_ = goodB.Close()
	}()

	for _, c := range []*conn{broken, good} {
		srv.conns.Add(c.id, c)
		srv.subscribe(c, wire.Subscribe("t", 1, zeroTime))
	}
	require.Equal(t, 2, srv.Subscribers("t"))

	srv.send(context.Background(), wire.Send("t", "m", wire.DeliveryAll, zeroTime))

	assert.Equal(t, 1, srv.Subscribers("t"))
	assert.True(t, broken.isClosed())
	assert.False(t, good.isClosed())
	assert.Contains(t, <-lines, `"message":"m"`)
}

func TestServer_LiveSendsQueueBehindReplay(t *testing.T) {
	srv, err := New(Logger(quiet()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	const buffered, live = 20, 5
	for i := 0; i < buffered; i++ {
		srv.send(context.Background(), wire.Send("t", "old", wire.DeliveryAll, zeroTime))
	}

	local, remote := net.Pipe()
	t.Cleanup(func() { _ = remote.Close() })
	c := newConn(local, 2*time.Second)
	srv.conns.Add(c.id, c)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.subscribe(c, wire.Subscribe("t", -1, zeroTime))
	}()

	r := bufio.NewReader(remote)
	read := func() int64 {
		line, err := r.ReadBytes('\n')
		require.NoError(t, err)
		f, err := wire.Decode(line)
		require.NoError(t, err)
		return f.IndexValue()
	}

	seen := []int64{read()}
	for i := 0; i < live; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.send(context.Background(), wire.Send("t", "new", wire.DeliveryAll, zeroTime))
		}()
	}
	for len(seen) < buffered+live {
		time.Sleep(3 * time.Millisecond)
		seen = append(seen, read())
	}
	wg.Wait()

	for i, idx := range seen {
		require.Equal(t, int64(i), idx, "observed order %v", seen)
	}
}

func TestServer_Stats(t *testing.T) {
	srv := startServer(t)
	p := dial(t, srv)
	p.subscribe("b", 1)
	p.send(wire.Send("a", "x", wire.DeliveryOne, zeroTime))
	p.send(wire.Send("a", "y", wire.DeliveryOne, zeroTime))

	require.Eventually(t, func() bool {
		stats := srv.Stats()
		return len(stats) == 2 && stats[0].NextIndex == 2
	}, 2*time.Second, 5*time.Millisecond)

	stats := srv.Stats()
	assert.Equal(t, TopicStats{Name: "a", NextIndex: 2, Buffered: 2}, stats[0])
	assert.Equal(t, TopicStats{Name: "b", Subscribers: 1}, stats[1])
}

func TestServer_StopsOnContextCancel(t *testing.T) {
	srv, err := New(Host("127.0.0.1"), Port(0), Logger(quiet()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	p := dial(t, srv)
	p.subscribe("t", 1)
	waitSubscribers(t, srv, "t", 1)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Zero(t, srv.Connections())
}
