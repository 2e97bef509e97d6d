// Package wire defines the frames exchanged between the broker and its clients
// and the line codec that carries them over a TCP stream.
//
// Design decisions:
//   - Line framing: one UTF-8 frame per line, newline terminated
//   - Structured first: lines are parsed as JSON, with a permissive literal-syntax
//     fallback for peers that emit single-quoted dictionaries
//   - Opaque payloads: the broker never looks inside Frame.Message
//   - Termination: the bare token "quit" closes a connection gracefully and is
//     reported as ErrQuit, in the same spirit as io.EOF
//
// Frame kinds:
//   - subscribe: {command, topic, last_seen, datetime}
//   - send:      {command, topic, message, delivery, datetime} plus the broker assigned index
//
// Example usage:
//
//	line, err := wire.Encode(wire.Send("query", "q1\ta;b\tcolor\tred;blue\n", wire.DeliveryOne, time.Now()))
//	if err != nil {
//	    return err
//	}
//	frame, err := wire.Decode(line)
//	switch {
//	case errors.Is(err, wire.ErrQuit):
//	    // peer is done
//	case err != nil:
//	    // malformed line, skip it
//	}
package wire
