package transport

import (
	"context"
	"crypto/tls"
)

// tlsHandshake drives the TLS 1.3 handshake embedded in QUIC (RFC 9001)
// using the standard library's QUIC-TLS glue (crypto/tls's QUICConn),
// feeding it CRYPTO data reassembled into the owning connection's
// packet-number spaces and installing the secrets it produces back into
// those spaces' AEAD suites.
type tlsHandshake struct {
	conn      *Conn
	tlsConfig *tls.Config
	quicConn  *tls.QUICConn

	started    bool
	complete   bool
	peerParams *Parameters

	// writeLevel is the packet-number space doHandshake last wrote CRYPTO
	// data into, as reported by writeSpace. Conn.writeSpace does not consult
	// it and chooses a space from its own per-space state.
	writeLevel packetSpace
}

func (h *tlsHandshake) init(conn *Conn, config *tls.Config) {
	h.conn = conn
	h.tlsConfig = config
	h.writeLevel = packetSpaceInitial
}

func (h *tlsHandshake) ensureQUICConn() {
	if h.quicConn != nil {
		return
	}
	tlsConfig := h.tlsConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	// crypto/tls's QUIC glue requires TLS 1.3, and ALPN is mandatory in
	// QUIC (RFC 9001 Section 8.1); fix both up on a clone so the caller's
	// config is left untouched.
	tlsConfig = tlsConfig.Clone()
	if tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig.MinVersion = tls.VersionTLS13
	}
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"quince"}
	}
	cfg := &tls.QUICConfig{TLSConfig: tlsConfig}
	if h.conn.isClient {
		h.quicConn = tls.QUICClient(cfg)
	} else {
		h.quicConn = tls.QUICServer(cfg)
	}
}

// setTransportParams hands our local transport parameters to the
// handshake engine, which carries them to the peer inside the
// quic_transport_parameters TLS extension (RFC 9001 Section 8.2).
func (h *tlsHandshake) setTransportParams(p *Parameters) {
	h.ensureQUICConn()
	h.quicConn.SetTransportParameters(p.marshal())
}

// reset discards all handshake progress, used when a Retry or Version
// Negotiation packet restarts the connection attempt with a fresh Initial.
func (h *tlsHandshake) reset() {
	h.quicConn = nil
	h.started = false
	h.complete = false
	h.peerParams = nil
	h.writeLevel = packetSpaceInitial
}

func (h *tlsHandshake) HandshakeComplete() bool { return h.complete }

func (h *tlsHandshake) peerTransportParams() *Parameters { return h.peerParams }

// writeSpace reports which packet-number space doHandshake most recently
// produced CRYPTO data or keys for.
func (h *tlsHandshake) writeSpace() packetSpace { return h.writeLevel }

func quicLevelToSpace(level tls.QUICEncryptionLevel) packetSpace {
	switch level {
	case tls.QUICEncryptionLevelInitial:
		return packetSpaceInitial
	case tls.QUICEncryptionLevelHandshake:
		return packetSpaceHandshake
	default: // tls.QUICEncryptionLevelApplication, tls.QUICEncryptionLevelEarly
		return packetSpaceApplication
	}
}

func quicSpaceToLevel(space packetSpace) tls.QUICEncryptionLevel {
	switch space {
	case packetSpaceInitial:
		return tls.QUICEncryptionLevelInitial
	case packetSpaceHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

// doHandshake feeds any newly reassembled CRYPTO data to the TLS engine
// and drains the events it produces: new keys to install, CRYPTO data to
// send, and (eventually) the peer's transport parameters.
func (h *tlsHandshake) doHandshake() error {
	h.ensureQUICConn()
	if !h.started {
		if err := h.quicConn.Start(context.Background()); err != nil {
			return newError(CryptoError, sprint(err))
		}
		h.started = true
	}
	for space := packetSpaceInitial; space < packetSpaceCount; space++ {
		cs := &h.conn.packetNumberSpaces[space].cryptoStream
		buf := make([]byte, 4096)
		for {
			n, err := cs.recv.read(buf)
			if n == 0 {
				break
			}
			if herr := h.quicConn.HandleData(quicSpaceToLevel(space), buf[:n]); herr != nil {
				return newError(CryptoError, sprint(herr))
			}
			if err != nil {
				break
			}
		}
	}
	return h.drainEvents()
}

func (h *tlsHandshake) drainEvents() error {
	for {
		ev := h.quicConn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return nil
		case tls.QUICSetReadSecret:
			space := quicLevelToSpace(ev.Level)
			suite, err := deriveAEADSuiteForCipherSuite(ev.Data, ev.Suite)
			if err != nil {
				return err
			}
			sp := &h.conn.packetNumberSpaces[space]
			sp.opener = suite
			if space == packetSpaceApplication {
				// Retain the traffic secret so key updates can derive the
				// next generation (RFC 9001 Section 6).
				sp.readSecret = append([]byte(nil), ev.Data...)
				sp.cipherSuite = ev.Suite
			}
		case tls.QUICSetWriteSecret:
			space := quicLevelToSpace(ev.Level)
			suite, err := deriveAEADSuiteForCipherSuite(ev.Data, ev.Suite)
			if err != nil {
				return err
			}
			sp := &h.conn.packetNumberSpaces[space]
			sp.sealer = suite
			if space == packetSpaceApplication {
				sp.writeSecret = append([]byte(nil), ev.Data...)
				sp.cipherSuite = ev.Suite
			}
		case tls.QUICWriteData:
			space := quicLevelToSpace(ev.Level)
			h.conn.packetNumberSpaces[space].cryptoStream.send.write(ev.Data)
			h.writeLevel = space
		case tls.QUICTransportParameters:
			params := &Parameters{}
			if err := params.unmarshal(ev.Data); err != nil {
				return err
			}
			h.peerParams = params
		case tls.QUICTransportParametersRequired:
			h.quicConn.SetTransportParameters(h.conn.localParams.marshal())
		case tls.QUICHandshakeDone:
			h.complete = true
		case tls.QUICRejectedEarlyData:
			// 0-RTT is not attempted by this implementation, so there is
			// nothing to roll back.
		}
	}
}
