package quic

import (
	"crypto/tls"
	"time"

	"github.com/quince-project/quic/transport"
)

// Config bundles everything needed to stand up a Client or Server: the
// wire-level transport.Config plus the socket-facing knobs the veneer
// owns (worker count, partition affinity hints, idle sweep interval).
type Config struct {
	TLS    *tls.Config
	Params transport.Parameters

	// WorkerCount is how many worker goroutines partition the connection
	// table. Zero selects runtime.GOMAXPROCS(0).
	WorkerCount int

	// PartitionAffinity optionally names a CPU index per worker, used only
	// to label each worker's goroutine for profiling (pprof.Labels); this
	// implementation has no syscall-level CPU pinning, which is a
	// datapath/platform concern out of scope for the core.
	PartitionAffinity []int

	// IdleCheckInterval is how often each worker sweeps its partition for
	// connections past their idle timeout.
	IdleCheckInterval time.Duration

	// RetryRequired makes a Server answer every new 4-tuple's first
	// Initial with a stateless Retry (spec §4.7, §8 test 5) instead of
	// accepting it directly, and validate the returned token before
	// creating a connection. Ignored by Client.
	RetryRequired bool
}

// NewConfig returns a Config with the transport defaults and a 1 second
// idle sweep.
func NewConfig() *Config {
	return &Config{
		TLS:               &tls.Config{},
		Params:            transport.DefaultParameters(),
		IdleCheckInterval: 1 * time.Second,
	}
}

func (c *Config) transportConfig() *transport.Config {
	return &transport.Config{
		Version: transport.Version1,
		Params:  c.Params,
		TLS:     c.TLS,
	}
}
