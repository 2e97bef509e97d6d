package sink

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gian-ai/recommendations/pkg/slogx"
	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultSubjectPrefix prefixes the subjects mirrored frames are published on.
const DefaultSubjectPrefix = "mq"

// Publisher is the part of a NATS connection the mirror uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Mirror republishes every frame line on NATS at <prefix>.<topic>, stamped
// with the mirroring broker name and time.
type Mirror struct {
	pub    Publisher
	prefix string
	name   string
	now    func() time.Time
	logger *slog.Logger
}

// NewMirror publishes through pub. name identifies this broker in the stamp.
func NewMirror(pub Publisher, prefix, name string) *Mirror {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Mirror{
		pub:    pub,
		prefix: prefix,
		name:   name,
		now:    time.Now,
		logger: slogx.Component("mq.sink.mirror"),
	}
}

// Subject returns the subject a frame on topic is published on.
func (m *Mirror) Subject(topic string) string {
	return m.prefix + "." + subjectToken(topic)
}

func (m *Mirror) Record(_ context.Context, line []byte) {
	line = []byte(strings.TrimRight(string(line), "\n"))
	topic := gjson.GetBytes(line, "topic").String()

	stamped, err := sjson.SetBytes(line, "mirrored_by", m.name)
	if err == nil {
		stamped, err = sjson.SetBytes(stamped, "mirrored_at", m.now().UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		m.logger.Warn("stamp frame", slogx.Error(err), slogx.ByteString("line", line))
		return
	}

	if err := m.pub.Publish(m.Subject(topic), stamped); err != nil {
		m.logger.Warn("publish frame", slogx.Error(err), slog.String("topic", topic))
	}
}

// subjectToken maps a topic onto a single NATS subject token.
func subjectToken(topic string) string {
	if topic == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, topic)
}
