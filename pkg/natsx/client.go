// Package natsx connects to the NATS server that receives mirrored broker traffic.
package natsx

import (
	"os"

	"github.com/nats-io/nats.go"
)

// DefaultName is the connection name reported to the NATS server.
const DefaultName = "mq-broker"

// URL resolves the server address to connect to.
//
// Parameters:
//   - url: An explicit address. It wins when set.
//
// Returns:
//   - string: url, else the NATS_URL environment variable, else nats.DefaultURL.
func URL(url string) string {
	if url != "" {
		return url
	}
	if env := os.Getenv("NATS_URL"); env != "" {
		return env
	}
	return nats.DefaultURL
}

// NewClient opens a connection to the server resolved by URL. Without options
// the connection is named DefaultName and has compression enabled.
//
// Returns:
//   - *nats.Conn: The established connection.
//   - error: An error if the connection could not be established.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name(DefaultName), nats.Compression(true))
	}
	return nats.Connect(URL(url), opts...)
}
