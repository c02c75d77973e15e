package transport

import (
	"fmt"
	"os"

	"github.com/quince-project/quic/internal/varint"
)

// debugEnabled turns on verbose per-packet/per-frame tracing to stderr.
// It is off by default; set QUIC_DEBUG=1 to enable it while chasing a
// protocol bug. Structured events for applications go through LogEvent
// instead (see log.go) — this is strictly a development aid.
var debugEnabled = os.Getenv("QUIC_DEBUG") != ""

func debug(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "quic: "+format+"\n", args...)
}

// sprint concatenates args the way fmt.Sprint does; used to build one-off
// error messages without a format string.
func sprint(args ...interface{}) string {
	return fmt.Sprint(args...)
}

// getVarint decodes a variable-length integer at the start of b into v,
// returning the number of bytes consumed, or 0 if b does not hold a
// complete encoding.
func getVarint(b []byte, v *uint64) int {
	n, err := varint.Get(b, v)
	if err != nil {
		return 0
	}
	return n
}
