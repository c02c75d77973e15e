package quic

import (
	"crypto/rand"
	"net"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/quince-project/quic/metrics"
	"github.com/quince-project/quic/transport"
)

// localCIDLen is the length of every source CID this endpoint issues. Byte
// 0 always carries the owning worker's partition affinity (spec §4.6,
// §8 test 3); the remaining bytes are random.
const localCIDLen = 8

// engine is the socket-facing core shared by Client and Server: one
// datapath, one partitioned connection lookup, and a pool of workers each
// of which owns its partition's connections exclusively. This is the
// veneer's analogue of msquic's QUIC_WORKER_POOL plus QUIC_BINDING,
// generalized to the Datapath interface spec §6 carves out.
type engine struct {
	config          *Config
	transportConfig *transport.Config

	lookup   *connLookup
	datapath Datapath
	buffers  *bufferPool
	handler  Handler
	log      *logger
	metrics  *metrics.Metrics

	// zlog is the process-level operational logger (engine lifecycle,
	// datapath failures) — distinct from log, which emits the teacher's
	// per-transaction qlog-shaped wire trace. Grounded on the ambient
	// zerolog usage the rest of the retrieval pack reaches for.
	zlog zerolog.Logger

	workers              []*worker
	maxDatagramsPerFlush int
	isServer             bool
	nextAffinity         uint32

	// sendBudget bounds how many datagram writes to the shared datapath may
	// be in flight at once across every worker goroutine simultaneously
	// (each worker runs its own goroutine, per spec §4.9's one-goroutine-
	// per-partition model, but they all call the same e.datapath.WriteTo).
	// Sized to two in-flight writes per worker so one slow Datapath.WriteTo
	// call can't let every worker pile up behind it unboundedly.
	sendBudget *semaphore.Weighted

	// resetSecret keys the per-binding stateless reset tokens; resetBudget
	// rate-limits how many resets go out between idle ticks so an
	// unroutable-packet flood can't turn this endpoint into an amplifier.
	resetSecret [32]byte
	resetBudget atomic.Int32

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeCh   chan struct{}
}

func newEngine(config *Config, datapath Datapath, isServer bool) *engine {
	if config == nil {
		config = NewConfig()
	}
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if workerCount < 1 {
		workerCount = 1
	}
	tc := config.transportConfig()
	e := &engine{
		config:               config,
		transportConfig:      tc,
		lookup:               newConnLookup(workerCount),
		datapath:             datapath,
		buffers:              newBufferPool(),
		handler:              HandlerFunc(func(Conn, []transport.Event) {}),
		log:                  &logger{},
		zlog:                 zerolog.New(os.Stderr).With().Timestamp().Str("component", "quic").Logger(),
		metrics:              metrics.New(),
		isServer:             isServer,
		maxDatagramsPerFlush: maxDatagramsPerFlush(tc),
		closeCh:              make(chan struct{}),
	}
	e.buffers.setGauge(e.metrics.PooledBuffers)
	if isServer && config.RetryRequired {
		ensureRetryTokenSecret()
	}
	if _, err := rand.Read(e.resetSecret[:]); err != nil {
		panic("quic: failed to seed stateless reset secret: " + err.Error())
	}
	e.resetBudget.Store(statelessResetsPerTick)
	e.sendBudget = semaphore.NewWeighted(int64(workerCount) * 2)
	e.workers = make([]*worker, workerCount)
	for i := range e.workers {
		affinity := -1
		if i < len(config.PartitionAffinity) {
			affinity = config.PartitionAffinity[i]
		}
		e.workers[i] = newWorker(i, e, affinity)
	}
	return e
}

// maxDatagramsPerFlush mirrors transport.Config's unexported default
// (spec §4.12 step 3, "per-flush max ≈ 10"): the field is exported but its
// defaulting helper is not, so the veneer applies the same default here.
func maxDatagramsPerFlush(c *transport.Config) int {
	if c.MaxDatagramsPerFlush > 0 {
		return c.MaxDatagramsPerFlush
	}
	return 10
}

func (e *engine) setHandler(h Handler) {
	if h == nil {
		h = HandlerFunc(func(Conn, []transport.Event) {})
	}
	e.handler = h
}

// start launches one goroutine per worker plus the datapath read loop and
// the idle-sweep ticker.
func (e *engine) start() {
	e.zlog.Info().Int("workers", len(e.workers)).Str("local_addr", e.datapath.LocalAddr().String()).Msg("engine starting")
	for _, w := range e.workers {
		w := w
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			w.run()
		}()
	}
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.readLoop()
	}()
	go func() {
		defer e.wg.Done()
		e.tickLoop()
	}()
}

// readLoop is the single point of entry for inbound datagrams (spec §4.6's
// "route by destination connection ID"): extract the DCID, compute which
// partition owns it, and hand the datagram to that partition's worker.
// Nothing here touches connection state directly — only the worker that
// owns the partition does.
func (e *engine) readLoop() {
	for {
		buf := e.buffers.get()
		n, addr, err := e.datapath.ReadFrom(buf)
		if err != nil {
			e.buffers.put(buf)
			select {
			case <-e.closeCh:
				return
			default:
			}
			e.zlog.Error().Err(err).Msg("datapath read failed, read loop exiting")
			return
		}
		if n == 0 {
			e.buffers.put(buf)
			continue
		}
		data := buf[:n]
		cid, ok := dstConnIDForDatagram(data, localCIDLen)
		if !ok {
			e.buffers.put(buf)
			continue
		}
		idx := e.lookup.partitionIndex(cid)
		e.workers[idx].queue.push(operation{kind: opRecv, addr: addr, data: data})
	}
}

func (e *engine) tickLoop() {
	interval := e.config.IdleCheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.closeCh:
			return
		case <-ticker.C:
			e.resetBudget.Store(statelessResetsPerTick)
			for _, w := range e.workers {
				w.queue.push(operation{kind: opTick})
			}
		}
	}
}

func (e *engine) close() {
	e.closeOnce.Do(func() {
		e.zlog.Info().Msg("engine stopping")
		close(e.closeCh)
		e.datapath.Close()
		for _, w := range e.workers {
			w.queue.close()
		}
	})
	e.wg.Wait()
}

// retryTokenSecretOnce installs the random retry-token signing key exactly
// once per process, per spec §6 ("process-global, set once on library
// init"): every engine with RetryRequired set shares the same secret, so a
// client's token from one Server value still validates if load-balanced
// to a different engine instance within the same process.
var retryTokenSecretOnce sync.Once

func ensureRetryTokenSecret() {
	retryTokenSecretOnce.Do(func() {
		var secret [32]byte
		if _, err := rand.Read(secret[:]); err != nil {
			panic("quic: failed to seed retry token secret: " + err.Error())
		}
		transport.SetRetryTokenSecret(secret)
	})
}

// newSourceCID issues a fresh connection ID whose byte 0 is workerID, so
// every future datagram that carries it as a destination CID routes back
// to the same worker via connLookup.partitionIndex (spec §4.6: "the
// partition a CID was issued under owns that CID for its lifetime").
func (e *engine) newSourceCID(workerID int) ([]byte, error) {
	cid := make([]byte, localCIDLen)
	cid[0] = byte(workerID)
	if _, err := rand.Read(cid[1:]); err != nil {
		return nil, err
	}
	return cid, nil
}

// acceptConn handles the first datagram of a new connection: it only runs
// on the worker that the datapath's routing already settled on (spec
// §4.9, "new connections are accepted by whichever worker's partition the
// first packet happened to land in"). odcid is nil for a direct accept
// (no Retry), or the client's original destination CID recovered from a
// validated retry token — it becomes transport.Conn's OriginalDestinationCID
// / RetrySourceCID bookkeeping, per conn.go's Accept contract. The CID
// this endpoint issues in return carries real partition affinity for
// every packet after.
func (e *engine) acceptConn(workerID int, odcid []byte, addr net.Addr, now time.Time) (*remoteConn, error) {
	if !e.isServer {
		return nil, nil
	}
	scid, err := e.newSourceCID(workerID)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Accept(scid, odcid, e.transportConfig)
	if err != nil {
		return nil, err
	}
	rc := newRemoteConn(addr, scid, conn, now)
	e.lookup.add(scid, rc)
	e.log.attachLogger(rc)
	e.metrics.AcceptedConnections.Inc()
	e.metrics.ActiveConnections.Set(float64(e.lookup.count()))
	return rc, nil
}

// acceptOrRetry is the server-side entry point for a datagram whose DCID
// matched no existing connection (spec §4.7 "receive", §8 test 5). When
// RetryRequired is off, it accepts directly (the pre-retry behavior).
// Otherwise it runs msquic's stateless-retry decision: a first Initial
// with no token gets a signed Retry challenge and no connection is
// created; an Initial with a valid token (matching this 4-tuple and not
// expired) is accepted, restoring the client's original DCID; an
// invalid/forged/expired token gets a fresh Retry, the same as a missing
// one, rather than being treated as an attack signal; a datagram whose
// Initial header cannot be parsed is silently dropped.
func (e *engine) acceptOrRetry(workerID int, addr net.Addr, data []byte, now time.Time) (*remoteConn, error) {
	if !e.isServer {
		return nil, nil
	}
	// An unsupported version gets a Version Negotiation answer instead of
	// a connection (spec §4.3, RFC 9000 §6); version 0 is itself a VN
	// packet and is never answered.
	if version, cdcid, cscid, ok := transport.PeekLongHeader(data); ok &&
		version != 0 && !transport.IsVersionSupported(version) {
		pkt := transport.AppendVersionNegotiation(nil, cscid, cdcid, transport.Version1)
		_, err := e.datapath.WriteTo(pkt, addr)
		return nil, err
	}
	if !e.config.RetryRequired {
		return e.acceptConn(workerID, nil, addr, now)
	}
	dcid, scid, token, ok := transport.PeekInitial(data)
	if !ok {
		return nil, nil
	}
	key := addrBytes(addr)
	if len(token) > 0 {
		if odcid, valid := transport.ValidateRetryToken(token, key, now.Unix()); valid {
			return e.acceptConn(workerID, odcid, addr, now)
		}
	}
	if err := e.sendRetry(dcid, scid, key, addr, now); err != nil {
		return nil, err
	}
	return nil, nil
}

// sendRetry emits a bare Retry packet (no transport.Conn involved) in
// answer to a client's token-less or invalid-token Initial. odcid is the
// client's original DCID (becomes the token's bound value and the AEAD
// AAD, per RFC 9001 §5.8); clientSCID is the client's chosen SCID, which
// becomes the Retry packet's DCID field so the client can validate it
// against the SCID it sent (conn.go's recvPacketRetry checks exactly this).
func (e *engine) sendRetry(odcid, clientSCID, addrKey []byte, addr net.Addr, now time.Time) error {
	rcid := make([]byte, localCIDLen)
	if _, err := rand.Read(rcid); err != nil {
		return err
	}
	token := transport.AppendRetryToken(nil, odcid, addrKey, now.Unix())
	pkt, err := transport.AppendRetry(nil, odcid, clientSCID, rcid, token)
	if err != nil {
		return err
	}
	_, err = e.datapath.WriteTo(pkt, addr)
	return err
}

// statelessResetsPerTick caps how many stateless resets one engine emits
// per idle-check interval.
const statelessResetsPerTick = 16

// maybeStatelessReset answers an unroutable 1-RTT-shaped datagram with a
// stateless reset (RFC 9000 Section 10.3, spec §4.7): random bytes shaped
// like a short-header packet ending in the token derived from the
// binding's reset secret and the datagram's DCID. The response is kept
// strictly smaller than the trigger so two confused endpoints can't ping
// resets back and forth forever, and a token-bucket budget bounds the
// aggregate rate.
func (e *engine) maybeStatelessReset(b []byte, addr net.Addr) {
	if len(b) <= transport.MinStatelessResetSize || b[0]&0x80 != 0 {
		return
	}
	if e.resetBudget.Add(-1) < 0 {
		return
	}
	cid := b[1 : 1+localCIDLen]
	token := transport.StatelessResetToken(e.resetSecret[:], cid)
	n := len(b) - 1
	if n > 64 {
		n = 64
	}
	random := make([]byte, n-16)
	if _, err := rand.Read(random); err != nil {
		return
	}
	pkt := transport.AppendStatelessReset(nil, random, token)
	if len(pkt) == 0 {
		return
	}
	if _, err := e.datapath.WriteTo(pkt, addr); err != nil {
		e.zlog.Debug().Err(err).Msg("stateless reset write failed")
	}
}

// connect starts a client-initiated connection, picking a worker by
// round-robin affinity since there is no inbound datagram yet to route by.
func (e *engine) connect(addr net.Addr) (*remoteConn, error) {
	workerID := int(atomic.AddUint32(&e.nextAffinity, 1)-1) % len(e.workers)
	scid, err := e.newSourceCID(workerID)
	if err != nil {
		return nil, err
	}
	conn, err := transport.Connect(scid, e.transportConfig)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	rc := newRemoteConn(addr, scid, conn, now)
	e.lookup.add(scid, rc)
	e.log.attachLogger(rc)
	e.workers[workerID].queue.push(operation{kind: opConnect, conn: rc})
	return rc, nil
}

// unreachable notifies every worker that addr can no longer be reached;
// each abandons its matching connections without a close frame. Datapath
// implementations that surface ICMP unreachable notifications feed them in
// through Client.Unreachable/Server.Unreachable.
func (e *engine) unreachable(addr net.Addr) {
	for _, w := range e.workers {
		w.queue.push(operation{kind: opUnreachable, addr: addr})
	}
}

// removeConn drops a closed connection from the lookup table. Called from
// the worker owning its partition once transport.Conn.IsClosed is true.
func (e *engine) removeConn(rc *remoteConn) {
	e.recordStats(rc)
	e.lookup.remove(rc.scid)
	e.log.detachLogger(rc)
	e.metrics.ActiveConnections.Set(float64(e.lookup.count()))
}

// recordStats adds whatever transport.Conn.Stats() has accumulated since
// the last call to the engine's cumulative Prometheus counters (spec
// §4.12/§4.13's decrypt-failure, duplicate, and loss-detection counters).
func (e *engine) recordStats(rc *remoteConn) {
	cur := rc.conn.Stats()
	prev := rc.lastStats
	if d := cur.DecryptionFailures - prev.DecryptionFailures; d > 0 {
		e.metrics.DecryptionFailures.Add(float64(d))
	}
	if d := cur.DuplicatePackets - prev.DuplicatePackets; d > 0 {
		e.metrics.DuplicatePackets.Add(float64(d))
	}
	if d := cur.SuspectedLostPackets - prev.SuspectedLostPackets; d > 0 {
		e.metrics.SuspectedLostPackets.Add(float64(d))
	}
	if d := cur.SpuriousLostPackets - prev.SpuriousLostPackets; d > 0 {
		e.metrics.SpuriousLostPackets.Add(float64(d))
	}
	rc.lastStats = cur
}
