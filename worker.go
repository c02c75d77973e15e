package quic

import (
	"context"
	"net"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/quince-project/quic/internal/timerwheel"
	"github.com/quince-project/quic/transport"
)

// operationKind identifies what a queued operation asks a worker to do.
type operationKind int

const (
	opRecv operationKind = iota
	opTick
	opConnect
	opUnreachable
)

// operation is one unit of work handed to a worker. This plays the role of
// msquic's platform_worker.c queue entries ("a list of connections that
// need to be processed"), folded down to a single queue of operations
// guarded by a mutex — the pack carries no lock-free MPSC queue, so a
// condition-variable-backed slice is the idiomatic substitute.
type operation struct {
	kind operationKind
	addr net.Addr
	data []byte
	conn *remoteConn // for opConnect: the freshly dialed connection
}

type opQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ops    []operation
	closed bool
}

func newOpQueue() *opQueue {
	q := &opQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *opQueue) push(op operation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
	q.cond.Signal()
}

// drain blocks until at least one operation is queued (or the queue is
// closed), then returns and clears the whole backlog at once so a worker
// processes a batch per wakeup instead of one operation per wakeup.
func (q *opQueue) drain() ([]operation, bool) {
	q.mu.Lock()
	for len(q.ops) == 0 && !q.closed {
		q.cond.Wait()
	}
	ops := q.ops
	q.ops = nil
	closed := q.closed
	q.mu.Unlock()
	return ops, closed
}

func (q *opQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// worker owns one partition of the connection lookup table and drains its
// own operation queue on a dedicated goroutine, the same per-partition
// ownership msquic's QUIC_WORKER gives each NUMA-affine worker thread in
// platform_worker.c. affinity only labels the goroutine for pprof; there
// is no real CPU pinning here (a datapath/platform concern kept out of
// core scope per spec §1).
type worker struct {
	id       int
	queue    *opQueue
	engine   *engine
	affinity int // -1 if unset

	// timers is this worker's timer wheel (spec §4.8): every connection
	// this worker owns is scheduled here by its own next-expiration time,
	// so handleTick only inspects connections that are actually due
	// instead of scanning the whole partition.
	timers *timerwheel.Wheel[*remoteConn]

	eventBuf []transport.Event
}

func newWorker(id int, e *engine, affinity int) *worker {
	return &worker{
		id:       id,
		queue:    newOpQueue(),
		engine:   e,
		affinity: affinity,
		timers:   timerwheel.New[*remoteConn](),
	}
}

// rescheduleTimer reads rc's connection-level Timeout() and reflects it
// into the worker's timer wheel, arming, rearming, or disarming rc's entry
// as needed. Called after every operation that might change a connection's
// next expiration (a received datagram, a flush, a fired timer).
func (w *worker) rescheduleTimer(rc *remoteConn, now time.Time) {
	d := rc.conn.Timeout()
	if d < 0 {
		w.timers.Remove(rc)
		return
	}
	w.timers.Update(rc, now.Add(d))
}

// run is the worker's event loop (spec §4.9): drain the operation queue,
// process each recv/tick, and repeat until closed with nothing left. The
// whole loop runs inside pprof.Do so every CPU sample this goroutine takes
// is attributed to its worker and affinity (spec's "worker affinity" —
// labeling only, since this implementation has no real CPU pinning).
func (w *worker) run() {
	labels := pprof.Labels("quic_worker", strconv.Itoa(w.id), "quic_affinity", strconv.Itoa(w.affinity))
	pprof.Do(context.Background(), labels, func(context.Context) {
		for {
			ops, closed := w.queue.drain()
			for _, op := range ops {
				switch op.kind {
				case opRecv:
					w.handleRecv(op.addr, op.data)
				case opTick:
					w.handleTick()
				case opConnect:
					w.handleConnect(op.conn)
				case opUnreachable:
					w.handleUnreachable(op.addr)
				}
			}
			if closed && len(ops) == 0 {
				return
			}
		}
	})
}

func (w *worker) handleRecv(addr net.Addr, b []byte) {
	now := time.Now()
	defer w.engine.buffers.put(b)

	e := w.engine
	cid, ok := dstConnIDForDatagram(b, localCIDLen)
	if !ok {
		return
	}
	rc := e.lookup.get(cid)
	if rc == nil {
		var err error
		rc, err = e.acceptOrRetry(w.id, addr, b, now)
		if err != nil {
			e.log.log(levelError, "%s accept failed: %v", addr, err)
			return
		}
		if rc == nil {
			// Not a connectable Initial: a Retry challenge was sent, or the
			// datagram references a connection this endpoint no longer (or
			// never) had — the stateless-reset case of spec §4.7.
			e.maybeStatelessReset(b, addr)
			return
		}
	}
	rc.observe(addr, len(b), now)
	if _, err := rc.conn.Write(b); err != nil {
		e.log.log(levelDebug, "%s recv error: %v", addr, err)
		var code uint64
		if te, ok := err.(*transport.Error); ok {
			code = te.Code()
		}
		rc.conn.Close(false, code, err.Error())
	}
	e.recordStats(rc)
	w.flush(rc, now)
	w.drainEvents(rc)
	w.rescheduleTimer(rc, now)
}

// handleConnect drives the first flight of a locally-initiated connection
// (the client-side Initial packet), which has no inbound datagram to piggy
// back on the way handleRecv's flush does.
func (w *worker) handleConnect(rc *remoteConn) {
	now := time.Now()
	w.flush(rc, now)
	w.drainEvents(rc)
	w.rescheduleTimer(rc, now)
}

// handleUnreachable silently abandons every connection in this worker's
// partition whose remote address matches addr: a CONNECTION_CLOSE could
// never reach the peer, so none is sent (spec §4.7's unreachable
// notification, §7's local-only datapath-unreachable close).
func (w *worker) handleUnreachable(addr net.Addr) {
	key := addr.String()
	e := w.engine
	e.lookup.eachInPartition(w.id, func(rc *remoteConn) {
		if rc.addr.String() != key {
			return
		}
		rc.conn.Abandon()
		w.timers.Remove(rc)
		e.removeConn(rc)
	})
}

// handleTick pulls every connection whose timer wheel entry has expired
// (spec §4.9 step 3, "post TimerExpired operations") and drives just
// those, instead of scanning every connection this worker owns. A
// newly-accepted connection that hasn't armed a timer yet (no entry in
// the wheel) is still found on the first recv that arms one, so nothing
// goes unobserved; eachInPartition below only covers the one bookkeeping
// case the wheel itself can't: a connection the application closed
// locally between flushes, with no armed timer left to expire it.
func (w *worker) handleTick() {
	now := time.Now()
	e := w.engine
	for _, rc := range w.timers.Expired(now) {
		rc.conn.OnTimeout(now)
		e.recordStats(rc)
		w.flush(rc, now)
		w.drainEvents(rc)
		if !rc.conn.IsClosed() {
			w.rescheduleTimer(rc, now)
		}
	}
	e.lookup.eachInPartition(w.id, func(rc *remoteConn) {
		if rc.conn.IsClosed() {
			w.timers.Remove(rc)
			e.removeConn(rc)
		}
	})
}

// flush writes as many outgoing datagrams as the connection has pending,
// up to the per-flush datagram budget, mirroring spec §4.12's
// process_flush_send loop. The per-call iteration count is just this
// worker's own loop counter (the worker is single-threaded, so nothing
// else contends for it); e.sendBudget is the real shared resource this
// loop contends for, since every worker goroutine's flush writes to the
// same e.datapath concurrently.
func (w *worker) flush(rc *remoteConn, now time.Time) {
	e := w.engine
	for i := 0; i < e.maxDatagramsPerFlush; i++ {
		buf := e.buffers.get()
		n, err := rc.conn.Read(buf)
		if err != nil {
			e.buffers.put(buf)
			e.log.log(levelDebug, "%s send error: %v", rc.addr, err)
			return
		}
		if n == 0 {
			e.buffers.put(buf)
			return
		}
		rc.conn.RecordPathSent(rc.addr.String(), n)
		if err := e.sendBudget.Acquire(context.Background(), 1); err != nil {
			e.buffers.put(buf)
			return
		}
		if _, err := e.datapath.WriteTo(buf[:n], rc.addr); err != nil {
			e.log.log(levelError, "%s write failed: %v", rc.addr, err)
		}
		e.sendBudget.Release(1)
		e.buffers.put(buf)
	}
}

// drainEvents forwards whatever transport.Conn.Events produced to the
// handler, prefixed with a synthetic EventConnAccept the one time it's due.
// A server-accepted connection fires it on the very first drain, the same
// moment the teacher's own client.go expects a fresh accept to surface. A
// client-dialed connection instead waits for the handshake to actually
// finish (rc.conn.IsEstablished) before firing it, since cmd/quince's own
// clientHandler uses EventConnAccept as its cue to open a stream and write
// — which would otherwise race the handshake on every locally-dialed
// connection.
func (w *worker) drainEvents(rc *remoteConn) {
	e := w.engine
	events := rc.conn.Events(w.eventBuf[:0])
	if rc.justAccepted && (e.isServer || rc.conn.IsEstablished()) {
		rc.justAccepted = false
		events = append([]transport.Event{{Type: EventConnAccept}}, events...)
	}
	w.eventBuf = events[:0]
	if len(events) == 0 {
		if rc.conn.IsClosed() {
			w.timers.Remove(rc)
			e.removeConn(rc)
		}
		return
	}
	e.handler.Serve(rc, events)
	if rc.conn.IsClosed() {
		e.handler.Serve(rc, []transport.Event{{Type: EventConnClose}})
		w.timers.Remove(rc)
		e.removeConn(rc)
	}
}
