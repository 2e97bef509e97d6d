// Package client speaks the broker line protocol from the requester or
// worker side.
//
// A Client dials with bounded retries, remembers a replay cursor per
// subscribed topic, fragments queries into sub-task frames and filters the
// shared answer topic down to the request ids it issued itself.
//
// Design decisions:
//   - Cursors start at 1 and are only moved by SetCursor. Subscribing again
//     re-requests replay from the same point.
//   - Outstanding ids are recorded before the first fragment is written, so an
//     answer cannot arrive ahead of its bookkeeping.
//   - A broken connection ends the current Receive sequence. The next
//     operation redials with backoff and re-subscribes remembered topics.
//     Cursors, outstanding ids and the filter stay usable while it retries.
//   - The correlation id is read from the frame first, then from the
//     embedded message.
//   - Only one Receive sequence may be consumed at a time; writes are safe
//     from any goroutine.
//
// Example:
//
//	c, err := client.Dial(ctx, "localhost", 7777)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	q := task.NewQuery("").WithTarget("age", "30").WithChoices("color", "red", "blue")
//	solutions, err := c.Ask(ctx, q)
package client
