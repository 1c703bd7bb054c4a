// Package crc16 implements the CRC-16/CCITT-FALSE checksum used end-to-end
// by every on-medium structure: the header, the index table, and each
// record frame. It exposes both a streaming init/update/final interface
// (for the chunked stream handles in package stream) and a one-shot
// convenience wrapper for callers that already have the whole buffer.
package crc16

// polynomial and initial value for CRC-16/CCITT-FALSE (poly 0x1021, init
// 0xFFFF, no reflection, no final xor). This is the variant the original
// firmware's CRC table was generated from.
const (
	poly    = 0x1021
	crcInit = 0xFFFF
)

var table [256]uint16

func init() { //nolint:gochecknoinits // one-time table generation, mirrors a ROM table on the original firmware
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8

		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}

		table[i] = crc
	}
}

// Digest is a streaming CRC-16 accumulator. The zero value is not usable;
// construct one with New.
type Digest struct {
	crc uint16
}

// New returns a Digest primed with the algorithm's initial value.
func New() *Digest {
	return &Digest{crc: crcInit}
}

// Resume reconstructs a Digest from a previously observed running value, for
// callers (the stream package) that carry a CRC accumulator across calls
// without keeping the Digest itself alive.
func Resume(crc uint16) *Digest {
	return &Digest{crc: crc}
}

// Update folds p into the running checksum and returns the Digest for
// chaining.
func (d *Digest) Update(p []byte) *Digest {
	crc := d.crc

	for _, b := range p {
		crc = crc<<8 ^ table[byte(crc>>8)^b]
	}

	d.crc = crc

	return d
}

// Final returns the checksum accumulated so far. It does not reset the
// Digest; callers that want a fresh accumulator should call New again.
func (d *Digest) Final() uint16 {
	return d.crc
}

// Checksum is the one-shot convenience wrapper: init, update with p, final.
func Checksum(p []byte) uint16 {
	return New().Update(p).Final()
}
