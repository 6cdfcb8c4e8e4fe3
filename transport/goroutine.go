package transport

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's numeric id from its stack
// trace header ("goroutine 123 [running]: ..."). Go deliberately exposes no
// supported API for this; parsing the trace is the standard workaround used
// where a library must detect same-goroutine re-entrancy, so that
// re-entering begin_read/begin_write from the owning goroutine is a
// reported error rather than a wait-then-deadlock. It is only called on the
// Begin* slow path, never per-byte, so the cost is acceptable.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		// Should not happen with the standard runtime trace format; fall
		// back to a sentinel that can never equal a real goroutine id's
		// zero-value-means-unlocked encoding used by the owner fields.
		return 0
	}
	return id
}
