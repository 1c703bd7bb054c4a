// Package chaosport wraps a port.Port and injects random or directed faults,
// for driving the power-loss simulation properties in spec.md §8: a crash
// after an arbitrary storage write, followed by re-Init against the same
// bytes.
//
// The fault model is deliberately narrow compared to a real filesystem fault
// injector (see internal/fs.Chaos in the teacher repo, which this package is
// grounded on): a byte-addressable medium has exactly two failure shapes
// that matter to the engine's commit discipline — a write that doesn't
// happen at all, and a write that happens partially (a torn write).
package chaosport

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/tlvfram/tlvfram/port"
)

// Config controls fault injection probabilities. Each rate is in [0, 1].
// The zero value disables all injection.
type Config struct {
	// WriteFailRate is the probability that a WriteAt fails outright,
	// leaving the medium exactly as it was before the call.
	WriteFailRate float64

	// TornWriteRate is the probability that a WriteAt applies only a random
	// prefix of buf before "losing power", simulating a write interrupted
	// mid-flight. The call still returns an error.
	TornWriteRate float64

	// ReadFailRate is the probability that a ReadAt fails outright.
	ReadFailRate float64
}

// Stats counts faults actually injected, for tests asserting fault coverage.
type Stats struct {
	WriteFails  atomic.Int64
	TornWrites  atomic.Int64
	ReadFails   atomic.Int64
	WritesSeen  atomic.Int64
	BytesLost   atomic.Int64
}

// InjectedError marks an error as intentionally produced by Chaos, so tests
// can distinguish it from a genuine backing-medium failure via errors.As.
type InjectedError struct {
	Err error
}

func (e *InjectedError) Error() string { return "chaosport: " + e.Err.Error() }
func (e *InjectedError) Unwrap() error { return e.Err }

// IsInjected reports whether err was produced by a Chaos port.
func IsInjected(err error) bool {
	var ie *InjectedError

	return errors.As(err, &ie)
}

var errInjectedFault = errors.New("injected fault")

// Chaos wraps an underlying port.Port, forwarding every call through a
// fault-injection decision. It is safe to use from a single goroutine only,
// matching the engine's own non-reentrant contract; Stats uses atomics
// purely so a concurrent observer (e.g. a test harness printing progress)
// can read them without racing.
type Chaos struct {
	mu     sync.Mutex
	under  port.Port
	rng    *rand.Rand
	cfg    Config
	active bool
	Stats  Stats

	// crashAfterWrite, when >= 0, forces the Nth WriteAt call (1-indexed) to
	// tear after applying tornAtByte bytes (or fail outright if tornAtByte
	// is negative), regardless of the probabilistic rates. Used to drive the
	// deterministic "crash after an arbitrary write" scenarios in spec.md §8.
	crashAfterWrite int64
	tornAtByte      int64
	writeCount      int64
}

// New wraps under with seeded, probability-driven fault injection.
func New(under port.Port, seed int64, cfg Config) *Chaos {
	return &Chaos{
		under:           under,
		rng:             rand.New(rand.NewSource(seed)), //nolint:gosec // test/sim determinism, not crypto
		cfg:             cfg,
		active:          true,
		crashAfterWrite: -1,
	}
}

// SetActive toggles fault injection on or off without discarding Stats or
// the deterministic crash schedule.
func (c *Chaos) SetActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.active = active
}

// CrashOnWrite arranges for the writeN'th WriteAt call (1-indexed across the
// lifetime of this Chaos) to tear after tornAtByte bytes have been applied.
// tornAtByte < 0 means the write fails before touching the medium at all;
// tornAtByte >= len(buf) behaves like a normal, fully-applied write that
// still returns an error (useful for exercising "write succeeded on the
// medium but the port reported failure" races).
func (c *Chaos) CrashOnWrite(writeN int64, tornAtByte int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.crashAfterWrite = writeN
	c.tornAtByte = tornAtByte
}

// Init passes through to the underlying port.
func (c *Chaos) Init() error {
	return c.under.Init()
}

// ReadAt implements port.Port, occasionally failing outright.
func (c *Chaos) ReadAt(addr uint32, buf []byte) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active && c.roll(c.cfg.ReadFailRate) {
		c.Stats.ReadFails.Add(1)

		return &InjectedError{Err: fmt.Errorf("read at %d: %w", addr, errInjectedFault)}
	}

	return c.under.ReadAt(addr, buf)
}

// WriteAt implements port.Port. On a normal pass-through it forwards to the
// underlying port; on an injected or scheduled fault it applies a prefix of
// buf (possibly empty) and returns an error, leaving the medium in a state a
// real power loss could have produced.
func (c *Chaos) WriteAt(addr uint32, buf []byte) error {
	c.mu.Lock()
	n := c.writeCount + 1
	c.writeCount = n
	scheduled := c.crashAfterWrite == n
	tornAt := c.tornAtByte
	active := c.active
	c.mu.Unlock()

	c.Stats.WritesSeen.Add(1)

	if scheduled {
		return c.tornWrite(addr, buf, tornAt)
	}

	if !active {
		return c.under.WriteAt(addr, buf)
	}

	if c.roll(c.cfg.WriteFailRate) {
		c.Stats.WriteFails.Add(1)

		return &InjectedError{Err: fmt.Errorf("write at %d: %w", addr, errInjectedFault)}
	}

	if c.roll(c.cfg.TornWriteRate) {
		cut := c.rng.Int63n(int64(len(buf)) + 1)

		return c.tornWrite(addr, buf, cut)
	}

	return c.under.WriteAt(addr, buf)
}

// tornWrite applies min(tornAt, len(buf)) bytes of buf (0 if tornAt < 0) and
// reports an injected failure.
func (c *Chaos) tornWrite(addr uint32, buf []byte, tornAt int64) error {
	applied := tornAt
	if applied < 0 {
		applied = 0
	}

	if applied > int64(len(buf)) {
		applied = int64(len(buf))
	}

	if applied > 0 {
		if err := c.under.WriteAt(addr, buf[:applied]); err != nil {
			return fmt.Errorf("chaosport: torn write underlying failure: %w", err)
		}
	}

	c.Stats.TornWrites.Add(1)
	c.Stats.BytesLost.Add(int64(len(buf)) - applied)

	return &InjectedError{Err: fmt.Errorf("write at %d torn after %d/%d bytes: %w", addr, applied, len(buf), errInjectedFault)}
}

func (c *Chaos) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}

	return c.rng.Float64() < rate
}

var _ port.Port = (*Chaos)(nil)
