package broker

import "github.com/gian-ai/recommendations/wire"

// replayCache is a fixed capacity FIFO of sent frames. Pushing onto a full
// cache evicts the oldest frame.
type replayCache struct {
	frames []wire.Frame
	head   int
	size   int
}

func newReplayCache(capacity int) *replayCache {
	if capacity < 1 {
		capacity = 1
	}
	return &replayCache{frames: make([]wire.Frame, capacity)}
}

func (c *replayCache) capacity() int {
	return len(c.frames)
}

func (c *replayCache) len() int {
	return c.size
}

func (c *replayCache) push(f wire.Frame) {
	tail := (c.head + c.size) % len(c.frames)
	c.frames[tail] = f
	if c.size == len(c.frames) {
		c.head = (c.head + 1) % len(c.frames)
		return
	}
	c.size++
}

// each visits frames oldest first.
func (c *replayCache) each(fn func(wire.Frame)) {
	for i := 0; i < c.size; i++ {
		fn(c.frames[(c.head+i)%len(c.frames)])
	}
}

// replay returns the frames with an index above lastSeen, oldest first, and
// rebuilds the cache: frames at or below the cursor are kept, frames above it
// are kept only when they were broadcast.
func (c *replayCache) replay(lastSeen int64) []wire.Frame {
	var (
		out  []wire.Frame
		kept = newReplayCache(c.capacity())
	)
	c.each(func(f wire.Frame) {
		if f.IndexValue() <= lastSeen {
			kept.push(f)
			return
		}
		out = append(out, f)
		if f.Delivery == wire.DeliveryAll {
			kept.push(f)
		}
	})
	*c = *kept
	return out
}
