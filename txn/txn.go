// Package txn implements the in-memory transaction snapshot: a save/restore
// point over the mutable header accounting fields, taken before every
// mutating core operation so a failure midway can roll back cleanly
// (spec.md §3, §4.5 step 2).
package txn

import "github.com/tlvfram/tlvfram/header"

// Snapshot captures the mutable accounting fields of a header.SystemHeader
// before a mutating operation begins.
type Snapshot struct {
	NextFreeAddr  uint32
	FreeBytes     uint32
	UsedBytes     uint32
	FragmentCount uint32
	FragmentWaste uint32
	TagCount      uint16
}

// Take returns a Snapshot of h's current accounting fields.
func Take(h *header.SystemHeader) Snapshot {
	return Snapshot{
		NextFreeAddr:  h.NextFreeAddr,
		FreeBytes:     h.FreeBytes,
		UsedBytes:     h.UsedBytes,
		FragmentCount: h.FragmentCount,
		FragmentWaste: h.FragmentWaste,
		TagCount:      h.TagCount,
	}
}

// Restore writes the snapshot's fields back into h, discarding whatever
// mutations happened since Take.
func (s Snapshot) Restore(h *header.SystemHeader) {
	h.NextFreeAddr = s.NextFreeAddr
	h.FreeBytes = s.FreeBytes
	h.UsedBytes = s.UsedBytes
	h.FragmentCount = s.FragmentCount
	h.FragmentWaste = s.FragmentWaste
	h.TagCount = s.TagCount
}
