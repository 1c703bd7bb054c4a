// Package port defines the storage-driver and clock abstractions the engine
// is built on. Everything in this package is a named interface; concrete
// adapters live in the sibling port/memport, port/fileport, port/mmapport,
// and port/chaosport packages.
package port

import "errors"

// ErrOutOfRange is returned by an adapter when addr+len exceeds the backing
// medium's size.
var ErrOutOfRange = errors.New("port: address range out of bounds")

// Port is the low-level random-access storage driver the engine is built on.
// Implementations are not required to be safe for concurrent use; the
// engine never calls a Port concurrently with itself.
type Port interface {
	// Init prepares the underlying medium for access (opening a file,
	// mapping memory, probing hardware). Called once before any Read/Write.
	Init() error

	// ReadAt reads len(buf) bytes starting at addr into buf.
	ReadAt(addr uint32, buf []byte) error

	// WriteAt writes all of buf starting at addr.
	WriteAt(addr uint32, buf []byte) error
}

// Clock is the monotonic/wall time source the engine consumes for
// record and header timestamps.
type Clock interface {
	// NowSeconds returns the current time as a Unix-style second count,
	// truncated to fit the header/record timestamp fields.
	NowSeconds() uint32

	// NowMillis returns the current time in milliseconds, for callers that
	// need finer-grained timestamps than NowSeconds (e.g. diagnostics).
	NowMillis() uint64
}
