package transport

import (
	"crypto/tls"
	"time"

	"github.com/quince-project/quic/internal/varint"
)

// Transport parameter identifiers, RFC 9000 Section 18.2.
const (
	paramOriginalDestinationCID         = 0x00
	paramMaxIdleTimeout                 = 0x01
	paramStatelessResetToken            = 0x02
	paramMaxUDPPayloadSize              = 0x03
	paramInitialMaxData                 = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni        = 0x07
	paramInitialMaxStreamsBidi          = 0x08
	paramInitialMaxStreamsUni           = 0x09
	paramAckDelayExponent               = 0x0a
	paramMaxAckDelay                    = 0x0b
	paramDisableActiveMigration         = 0x0c
	paramPreferredAddress               = 0x0d
	paramActiveConnectionIDLimit        = 0x0e
	paramInitialSourceCID               = 0x0f
	paramRetrySourceCID                 = 0x10
	// paramQAHooks is a vendor-private transport parameter (type 77) used
	// to smuggle opaque QA-hook data through the handshake. Never
	// interpreted, only round-tripped.
	paramQAHooks = 77
	// maxQAHooksLength bounds the opaque payload carried by paramQAHooks.
	maxQAHooksLength = 2345
)

const defaultAckDelayExponent = 3

// Parameters holds one endpoint's QUIC transport parameters, carried
// inside the TLS handshake (spec §6). The wire encoding omits nil byte
// slices, a zero MaxIdleTimeout, MaxUDPPayloadSize or MaxAckDelay, an
// AckDelayExponent of 3, a false DisableActiveMigration and empty QAHooks;
// the flow-control, stream-count and ActiveConnectionIDLimit fields are
// always encoded.
type Parameters struct {
	OriginalDestinationCID []byte
	MaxIdleTimeout         time.Duration
	StatelessResetToken    []byte
	MaxUDPPayloadSize      uint64
	InitialMaxData         uint64

	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64

	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64

	AckDelayExponent uint64
	MaxAckDelay      time.Duration

	DisableActiveMigration bool

	ActiveConnectionIDLimit uint64
	InitialSourceCID        []byte
	RetrySourceCID          []byte

	// QAHooks is opaque vendor-private data (transport parameter 77),
	// round-tripped but never interpreted by the core.
	QAHooks []byte
}

// DefaultParameters returns this implementation's default local
// parameters. Apart from AckDelayExponent and MaxAckDelay, these are not
// the values RFC 9000 assigns to a parameter the peer leaves out.
func DefaultParameters() Parameters {
	return Parameters{
		MaxIdleTimeout:           30 * time.Second,
		MaxUDPPayloadSize:        1452,
		InitialMaxData:           1 << 20,
		InitialMaxStreamDataBidiLocal:  256 * 1024,
		InitialMaxStreamDataBidiRemote: 256 * 1024,
		InitialMaxStreamDataUni:        256 * 1024,
		InitialMaxStreamsBidi:    100,
		InitialMaxStreamsUni:     100,
		AckDelayExponent:         defaultAckDelayExponent,
		MaxAckDelay:              25 * time.Millisecond,
		ActiveConnectionIDLimit:  4,
	}
}

func (p *Parameters) marshal() []byte {
	b := make([]byte, 0, 256)
	b = appendBytesParam(b, paramOriginalDestinationCID, p.OriginalDestinationCID)
	if p.MaxIdleTimeout > 0 {
		b = appendVarintParam(b, paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	b = appendBytesParam(b, paramStatelessResetToken, p.StatelessResetToken)
	if p.MaxUDPPayloadSize > 0 {
		b = appendVarintParam(b, paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	b = appendVarintParam(b, paramInitialMaxData, p.InitialMaxData)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	b = appendVarintParam(b, paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	b = appendVarintParam(b, paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	b = appendVarintParam(b, paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	b = appendVarintParam(b, paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	if p.AckDelayExponent != defaultAckDelayExponent {
		b = appendVarintParam(b, paramAckDelayExponent, p.AckDelayExponent)
	}
	if p.MaxAckDelay > 0 {
		b = appendVarintParam(b, paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	}
	if p.DisableActiveMigration {
		b = appendFlagParam(b, paramDisableActiveMigration)
	}
	b = appendVarintParam(b, paramActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	b = appendBytesParam(b, paramInitialSourceCID, p.InitialSourceCID)
	b = appendBytesParam(b, paramRetrySourceCID, p.RetrySourceCID)
	if len(p.QAHooks) > 0 {
		b = appendBytesParam(b, paramQAHooks, p.QAHooks)
	}
	return b
}

func (p *Parameters) unmarshal(b []byte) error {
	seen := map[uint64]bool{}
	for len(b) > 0 {
		var id, length uint64
		n, err := varint.Get(b, &id)
		if err != nil {
			return newError(TransportParameterError, "param id")
		}
		b = b[n:]
		n, err = varint.Get(b, &length)
		if err != nil {
			return newError(TransportParameterError, "param length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return newError(TransportParameterError, "param value truncated")
		}
		val := b[:length]
		b = b[length:]
		if seen[id] {
			return newError(TransportParameterError, "duplicate param")
		}
		seen[id] = true
		if err := p.setParam(id, val); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parameters) setParam(id uint64, val []byte) error {
	switch id {
	case paramOriginalDestinationCID:
		p.OriginalDestinationCID = append([]byte(nil), val...)
	case paramMaxIdleTimeout:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.MaxIdleTimeout = time.Duration(v) * time.Millisecond
	case paramStatelessResetToken:
		if len(val) != 16 {
			return newError(TransportParameterError, "reset token length")
		}
		p.StatelessResetToken = append([]byte(nil), val...)
	case paramMaxUDPPayloadSize:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.MaxUDPPayloadSize = v
	case paramInitialMaxData:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxData = v
	case paramInitialMaxStreamDataBidiLocal:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiLocal = v
	case paramInitialMaxStreamDataBidiRemote:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataBidiRemote = v
	case paramInitialMaxStreamDataUni:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxStreamDataUni = v
	case paramInitialMaxStreamsBidi:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxStreamsBidi = v
	case paramInitialMaxStreamsUni:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.InitialMaxStreamsUni = v
	case paramAckDelayExponent:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.AckDelayExponent = v
	case paramMaxAckDelay:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.MaxAckDelay = time.Duration(v) * time.Millisecond
	case paramDisableActiveMigration:
		p.DisableActiveMigration = true
	case paramActiveConnectionIDLimit:
		v, err := decodeVarintExact(val)
		if err != nil {
			return err
		}
		p.ActiveConnectionIDLimit = v
	case paramInitialSourceCID:
		p.InitialSourceCID = append([]byte(nil), val...)
	case paramRetrySourceCID:
		p.RetrySourceCID = append([]byte(nil), val...)
	case paramQAHooks:
		if len(val) > maxQAHooksLength {
			return newError(TransportParameterError, "qa hooks too large")
		}
		p.QAHooks = append([]byte(nil), val...)
	default:
		// Unknown parameters are ignored per RFC 9000 Section 7.4.1.
	}
	return nil
}

func decodeVarintExact(b []byte) (uint64, error) {
	var v uint64
	n, err := varint.Get(b, &v)
	if err != nil || n != len(b) {
		return 0, newError(TransportParameterError, "malformed integer param")
	}
	return v, nil
}

func appendVarintParam(b []byte, id uint64, v uint64) []byte {
	b = varint.Put(b, id)
	b = varint.Put(b, uint64(varint.Len(v)))
	return varint.Put(b, v)
}

func appendFlagParam(b []byte, id uint64) []byte {
	b = varint.Put(b, id)
	return varint.Put(b, 0)
}

func appendBytesParam(b []byte, id uint64, v []byte) []byte {
	if v == nil {
		return b
	}
	b = varint.Put(b, id)
	b = varint.Put(b, uint64(len(v)))
	return append(b, v...)
}

// Config bundles the knobs needed to create a connection: the local
// transport parameters and a TLS configuration used to drive the
// handshake engine (the external TLS collaborator of spec §6).
type Config struct {
	Version uint32
	Params  Parameters
	TLS     *tls.Config

	// MaxDatagramsPerFlush bounds how many UDP payloads a single
	// process_flush_send call will build (spec §4.12 step 3, "per-flush
	// max ≈ 10"). Zero selects the default.
	MaxDatagramsPerFlush int
}

func (c *Config) maxDatagramsPerFlush() int {
	if c.MaxDatagramsPerFlush > 0 {
		return c.MaxDatagramsPerFlush
	}
	return 10
}
