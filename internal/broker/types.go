package broker

import "context"

// DefaultCacheLength is the replay buffer capacity of a topic.
const DefaultCacheLength = 100

// Sink receives every encoded frame the broker sends, whatever its delivery
// outcome. A sink never reports failures back to the broker.
type Sink interface {
	Record(ctx context.Context, line []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, line []byte)

func (f SinkFunc) Record(ctx context.Context, line []byte) {
	f(ctx, line)
}

type multiSink []Sink

func (m multiSink) Record(ctx context.Context, line []byte) {
	for _, s := range m {
		s.Record(ctx, line)
	}
}

type nopSink struct{}

func (nopSink) Record(context.Context, []byte) {}

// TopicStats is a point in time view of one topic.
type TopicStats struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
	NextIndex   int64  `json:"next_index"`
	Buffered    int    `json:"buffered"`
}
