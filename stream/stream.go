// Package stream implements the bounded pool of chunked-I/O state machines
// backing engine.WriteBegin/Chunk/End/Abort and ReadBegin/Chunk/End/Abort
// (spec.md §3, §4.8, §4.9).
//
// Handles are identified externally by a Token that bundles a generation
// counter with the slot index, replacing the original firmware's
// magic||slot-index encoding (spec.md §9 REDESIGN FLAG: "an engine-issued
// token type that bundles a generation counter with the slot index so stale
// tokens are rejected; the magic scheme is one implementation of this
// idea").
package stream

import (
	"errors"

	"github.com/tlvfram/tlvfram/txn"
)

// DefaultCapacity is the default pool size, matching spec.md §3's "small
// fixed N, e.g. 4".
const DefaultCapacity = 4

// State is the lifecycle state of a handle.
type State uint8

const (
	Idle State = iota
	Writing
	Reading
)

// ErrInvalidHandle is returned by any Pool method given a Token that does
// not currently identify a live handle (wrong generation, out-of-range
// slot, or a slot that is Idle).
var ErrInvalidHandle = errors.New("stream: invalid handle")

// ErrPoolExhausted is returned by Begin when every slot is in use.
var ErrPoolExhausted = errors.New("stream: no free handle")

// Token externally identifies a handle. The zero Token never identifies a
// live handle (generation 0 is never issued).
type Token struct {
	Slot       int
	Generation uint32
}

// Displaced describes an old index entry a stream write displaced, carried
// so WriteEnd/WriteAbort can finish the same bookkeeping engine.Write does
// inline (spec.md §4.8).
type Displaced struct {
	Present   bool
	Slot      int
	FrameSize uint32
}

// Handle is one chunked-I/O state machine.
type Handle struct {
	token Token
	state State

	Tag          uint16
	Addr         uint32
	Offset       uint32 // current byte offset within the frame
	Total        uint32 // total declared payload length
	Processed    uint32 // bytes processed so far
	CRC          uint16 // running CRC accumulator's current value
	Displaced    Displaced
	NewFrameSize uint32 // total frame size of the write in progress, for abort accounting
	Snapshot     txn.Snapshot
}

// Token returns the handle's current external identifier.
func (h *Handle) Token() Token { return h.token }

// State returns the handle's current lifecycle state.
func (h *Handle) State() State { return h.state }

// Pool is a fixed-capacity set of Handles.
type Pool struct {
	handles    []Handle
	generation []uint32
}

// NewPool creates a Pool with the given capacity (DefaultCapacity if cap<=0).
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Pool{
		handles:    make([]Handle, capacity),
		generation: make([]uint32, capacity),
	}
}

// Cap returns the pool's total capacity.
func (p *Pool) Cap() int { return len(p.handles) }

// InUse reports how many handles are currently not Idle.
func (p *Pool) InUse() int {
	n := 0

	for i := range p.handles {
		if p.handles[i].state != Idle {
			n++
		}
	}

	return n
}

// Begin reserves a free handle, stamping it with a fresh generation and the
// given initial state, and returns it plus its Token.
func (p *Pool) Begin(state State) (*Handle, Token, error) {
	for i := range p.handles {
		if p.handles[i].state == Idle {
			p.generation[i]++

			if p.generation[i] == 0 { // wrapped past 2^32-1, skip the reserved zero value
				p.generation[i] = 1
			}

			p.handles[i] = Handle{
				token: Token{Slot: i, Generation: p.generation[i]},
				state: state,
			}

			return &p.handles[i], p.handles[i].token, nil
		}
	}

	return nil, Token{}, ErrPoolExhausted
}

// Lookup resolves a Token to its live Handle. It fails if the token's
// generation doesn't match the slot's current generation (stale handle) or
// the slot is Idle.
func (p *Pool) Lookup(t Token) (*Handle, error) {
	if t.Slot < 0 || t.Slot >= len(p.handles) {
		return nil, ErrInvalidHandle
	}

	h := &p.handles[t.Slot]
	if h.state == Idle || h.token.Generation != t.Generation || t.Generation == 0 {
		return nil, ErrInvalidHandle
	}

	return h, nil
}

// Release returns a handle to Idle, invalidating its current Token (the
// generation only advances on the next Begin of that slot, so a Lookup of
// the just-released Token still correctly fails because state is Idle).
func (p *Pool) Release(h *Handle) {
	*h = Handle{token: Token{Slot: h.token.Slot}}
}
