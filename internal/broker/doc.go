// Package broker implements the topic based message broker that hands query
// fragments to a pool of agent connections and broadcasts their solutions back
// to requesters. It runs as a single process over plain TCP.
//
// Design decisions:
//   - Per-topic serialization: every subscribe or send applies its mutations to
//     one topic under that topic's lock; different topics proceed in parallel
//   - Explicit creation: topics are created on first reference through a single
//     registry entry point
//   - Snapshot delivery: recipients are captured inside the atomic step and
//     written to after the lock is released
//   - Ordered writes: the atomic step also reserves a write slot on every
//     recipient. A connection transmits slots in reservation order, so a replay
//     batch is never split by a live send and shared recipients see indexes
//     in order
//   - Failure isolation: a failed write disconnects that recipient only; a
//     panicking read loop tears down its own connection only
//
// Delivery modes:
//   - one: a uniformly random current subscriber receives the frame; with no
//     subscribers the frame is buffered for the next one
//   - all: every current subscriber receives the frame and it stays in the
//     bounded replay buffer for later subscribers
//
// Replay happens on subscribe: buffered frames with an index above the
// subscriber's last_seen are written to it, oldest first, and buffered "one"
// frames above that cursor are then dropped because they have been consumed.
//
// Example usage:
//
//	srv, err := broker.New(
//	    broker.Host("localhost"),
//	    broker.Port(7777),
//	    broker.WithSink(bookkeeper),
//	)
//	if err != nil {
//	    return err
//	}
//	defer srv.Close()
//	return srv.ListenAndServe(ctx)
package broker
