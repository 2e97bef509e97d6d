package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/fogfish/opts"
)

const (
	DefaultAttempts      = 3
	DefaultBaseDelay     = time.Second
	DefaultBackoffFactor = 2

	// DefaultCursor is the replay cursor of a topic that was never given one.
	DefaultCursor int64 = 1
)

var (
	// Attempts bounds the number of dial attempts per connect.
	Attempts = opts.ForName[Client, int]("attempts")
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay = opts.ForName[Client, time.Duration]("baseDelay")
	// BackoffFactor multiplies the wait after every further failed attempt.
	BackoffFactor = opts.ForName[Client, int]("factor")

	QueryTopic   = opts.ForName[Client, string]("queryTopic")
	SolveTopic   = opts.ForName[Client, string]("solveTopic")
	ObserveTopic = opts.ForName[Client, string]("observeTopic")

	Logger = opts.ForName[Client, *slog.Logger]("logger")
)

// Dialer opens the transport to the broker.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// WithDialer replaces net.Dialer.
func WithDialer(dial Dialer) opts.Option[Client] {
	return opts.Type[Client](func(c *Client) error {
		if dial == nil {
			return errors.New("dialer is required")
		}
		c.dial = dial
		return nil
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
