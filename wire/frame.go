package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DatetimeLayout is the layout of the datetime field written by clients.
const DatetimeLayout = "02/01/2006, 15:04:05"

// Command identifies what a frame asks the broker to do.
type Command string

const (
	CommandSubscribe Command = "subscribe"
	CommandSend      Command = "send"
)

// Delivery selects how a send frame is routed.
type Delivery string

const (
	// DeliveryOne hands the frame to exactly one current subscriber, or queues
	// it for the next one when nobody is listening.
	DeliveryOne Delivery = "one"
	// DeliveryAll broadcasts the frame and keeps it in the replay history.
	DeliveryAll Delivery = "all"
)

// Valid reports whether d is a known delivery mode.
func (d Delivery) Valid() bool {
	return d == DeliveryOne || d == DeliveryAll
}

// Cursor is a replay position. It decodes from a JSON number or a numeric string.
type Cursor int64

func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid cursor %q: %w", data, err)
	}
	*c = Cursor(v)
	return nil
}

// Frame is the unit transmitted on the wire.
type Frame struct {
	Command  Command  `json:"command"`
	Topic    string   `json:"topic"`
	Index    *int64   `json:"index,omitempty"`
	Delivery Delivery `json:"delivery,omitempty"`
	LastSeen *Cursor  `json:"last_seen,omitempty"`
	Message  string   `json:"message,omitempty"`
	Datetime string   `json:"datetime"`
}

// Subscribe builds a subscribe frame for topic with the given replay cursor.
func Subscribe(topic string, lastSeen int64, at time.Time) Frame {
	cursor := Cursor(lastSeen)
	return Frame{
		Command:  CommandSubscribe,
		Topic:    topic,
		LastSeen: &cursor,
		Datetime: FormatTime(at),
	}
}

// Send builds a send frame. The broker assigns the index.
func Send(topic, message string, delivery Delivery, at time.Time) Frame {
	return Frame{
		Command:  CommandSend,
		Topic:    topic,
		Delivery: delivery,
		Message:  message,
		Datetime: FormatTime(at),
	}
}

// FormatTime renders t with DatetimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(DatetimeLayout)
}

// IndexValue returns the broker assigned index, or -1 when the frame has none.
func (f Frame) IndexValue() int64 {
	if f.Index == nil {
		return -1
	}
	return *f.Index
}

// Cursor returns the subscribe cursor, or 0 when the frame has none.
func (f Frame) Cursor() int64 {
	if f.LastSeen == nil {
		return 0
	}
	return int64(*f.LastSeen)
}

// WithIndex returns a copy of f stamped with idx.
func (f Frame) WithIndex(idx int64) Frame {
	f.Index = &idx
	return f
}

var (
	errMissingTopic    = errors.New("missing topic")
	errMissingLastSeen = errors.New("subscribe without last_seen")
)

// Validate checks that f carries the fields its command requires.
func (f Frame) Validate() error {
	switch f.Command {
	case CommandSubscribe:
		if f.Topic == "" {
			return errMissingTopic
		}
		if f.LastSeen == nil {
			return errMissingLastSeen
		}
	case CommandSend:
		if f.Topic == "" {
			return errMissingTopic
		}
		if !f.Delivery.Valid() {
			return fmt.Errorf("unknown delivery %q", f.Delivery)
		}
	default:
		return fmt.Errorf("unknown command %q", f.Command)
	}
	return nil
}
