package port

import "time"

// SystemClock is a Clock backed by the host's wall clock. It is the Clock a
// production host plugs in; tests typically use FixedClock instead so
// timestamps are deterministic.
type SystemClock struct{}

// NowSeconds implements Clock.
func (SystemClock) NowSeconds() uint32 {
	return uint32(time.Now().Unix())
}

// NowMillis implements Clock.
func (SystemClock) NowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}

// FixedClock is a Clock that always reports the same instant, or advances
// only when explicitly told to. Used by tests that assert exact timestamp
// values and by power-loss simulations that need reproducible traces.
type FixedClock struct {
	Seconds uint32
	Millis  uint64
}

// NowSeconds implements Clock.
func (c *FixedClock) NowSeconds() uint32 { return c.Seconds }

// NowMillis implements Clock.
func (c *FixedClock) NowMillis() uint64 { return c.Millis }

// Advance moves the clock forward by d, keeping Seconds and Millis in sync.
func (c *FixedClock) Advance(d uint32) {
	c.Seconds += d
	c.Millis += uint64(d) * 1000
}

var (
	_ Clock = SystemClock{}
	_ Clock = (*FixedClock)(nil)
)
