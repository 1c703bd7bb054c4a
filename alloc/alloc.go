// Package alloc implements the bump allocator over the data region. There is
// no free list and no reclamation: freed bytes become "waste" tracked as
// fragmentation until package defrag compacts them away (spec.md §4.3,
// and the REDESIGN FLAG in spec.md §9 explicitly keeping this design).
package alloc

// Allocator is a bump pointer bounded by [start, end).
type Allocator struct {
	next uint32
	end  uint32
}

// New creates an Allocator starting at next with the given exclusive end.
func New(next, end uint32) *Allocator {
	return &Allocator{next: next, end: end}
}

// Next returns the current bump pointer without advancing it.
func (a *Allocator) Next() uint32 { return a.next }

// SetNext forces the bump pointer to addr, used when restoring a
// txn.Snapshot or after defragment recomputes it.
func (a *Allocator) SetNext(addr uint32) { a.next = addr }

// SetEnd updates the exclusive end bound, used when the header's data
// region geometry changes (format/reformat).
func (a *Allocator) SetEnd(end uint32) { a.end = end }

// Alloc reserves n bytes starting at the current bump pointer and advances
// it. Returns (0, false) if the region is exhausted — 0 is the sentinel for
// allocation failure per spec.md §4.3 (valid data addresses are always
// beyond the index region, so 0 can never be a legitimate allocation).
func (a *Allocator) Alloc(n uint32) (addr uint32, ok bool) {
	if a.next+n > a.end || a.next+n < a.next { // overflow-safe bound check
		return 0, false
	}

	addr = a.next
	a.next += n

	return addr, true
}
