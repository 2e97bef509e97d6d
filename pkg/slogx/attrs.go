// Package slogx holds slog attribute helpers shared by the broker, the client
// and the sinks.
package slogx

import (
	"log/slog"
	"net"
)

const (
	// KeyLoggerName is the attribute key naming the component that logs.
	KeyLoggerName = "logger"
)

// Error converts err into a slog.Attr under the key "error", holding the
// error's message.
//
// Parameters:
//   - err: The error to log. It must not be nil.
//
// Returns:
//   - slog.Attr: An attribute with the key "error" and err.Error() as the value.
func Error(err error) slog.Attr {
	return slog.String("error", err.Error())
}

// ByteString creates a slog.Attr whose value is the byte slice rendered as a
// string. The broker uses it to log raw frame lines.
//
// Parameters:
//   - key: The key for the attribute.
//   - value: The bytes to render.
//
// Returns:
//
//	A slog.Attr containing key and the string form of value.
func ByteString(key string, value []byte) slog.Attr {
	return slog.String(key, string(value))
}

// LoggerName creates the attribute that names a component logger.
// The attribute key is KeyLoggerName.
//
// Parameters:
//   - name: The component name, for example "mq.broker".
//
// Returns:
//
//	A slog.Attr containing the component name.
func LoggerName(name string) slog.Attr {
	return slog.String(KeyLoggerName, name)
}

// Peer creates a "peer" attribute for the remote end of a connection.
//
// Parameters:
//   - addr: The remote address. A nil address renders as "unknown".
//
// Returns:
//   - slog.Attr: An attribute with the key "peer" and the address as the value.
func Peer(addr net.Addr) slog.Attr {
	if addr == nil {
		return slog.String("peer", "unknown")
	}
	return slog.String("peer", addr.String())
}

// Component returns slog.Default scoped to the named component. The default
// logger is read on every call, so a logger installed after startup is picked
// up by components created later.
func Component(name string) *slog.Logger {
	return slog.Default().With(LoggerName(name))
}
