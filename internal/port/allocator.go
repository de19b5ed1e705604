// Package port implements port availability probing and the bounded
// fallback scan used when a requested listener port is already taken.
package port

import (
	"net"
	"strconv"
)

// maxPort is the highest valid TCP port number.
const maxPort = 65535

// DefaultScanLimit is the number of ports probed by FindAvailable when no
// explicit scan window is configured.
const DefaultScanLimit = 1000

// Allocator probes the OS for bindable TCP ports. It asks the network stack
// directly via net.Listen rather than parsing /proc/net/*, which needs no
// elevated permissions and cannot go stale.
type Allocator struct {
	limit int
}

// NewAllocator creates an Allocator scanning at most scanLimit ports.
// A non-positive scanLimit falls back to DefaultScanLimit.
func NewAllocator(scanLimit int) *Allocator {
	if scanLimit <= 0 {
		scanLimit = DefaultScanLimit
	}
	return &Allocator{limit: scanLimit}
}

// IsAvailable reports whether a TCP listener can be bound on BOTH the
// loopback and the wildcard address. A single-interface probe produces
// false positives when a process is bound to only one of the two. Each
// probe listener is closed immediately.
func (a *Allocator) IsAvailable(port int) bool {
	for _, host := range []string{"127.0.0.1", "0.0.0.0"} {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return false
		}
		_ = ln.Close()
	}
	return true
}

// FindAvailable scans start, start+1, ... in increasing order and returns
// the first available port. The window covers at most the configured scan
// limit and is clamped at port 65535 rather than wrapping. The second
// return value is false when every port in the window is taken; the caller
// decides whether that is fatal.
func (a *Allocator) FindAvailable(start int) (int, bool) {
	end := start + a.limit - 1
	if end > maxPort {
		end = maxPort
	}
	for p := start; p <= end; p++ {
		if a.IsAvailable(p) {
			return p, true
		}
	}
	return 0, false
}
