package transport

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a connection failed, and determines the wire
// error code (if any) sent in a CONNECTION_CLOSE frame.
type ErrorKind int

// Error kinds, per spec §7.
const (
	NoError ErrorKind = iota
	ProtocolViolation
	FrameEncodingError
	StreamLimitError
	FlowControlError
	TransportParameterError
	CryptoError
	InternalError
	ApplicationError
	IdleTimeout        // local only, silent close
	DatapathUnreachable // local only
	StreamStateError
)

// transportErrorCode values from RFC 9000 Section 20.1.
const (
	wireNoError                  = 0x00
	wireInternalError            = 0x01
	wireConnectionRefused        = 0x02
	wireFlowControlError         = 0x03
	wireStreamLimitError         = 0x04
	wireStreamStateError         = 0x05
	wireFinalSizeError           = 0x06
	wireFrameEncodingError       = 0x07
	wireTransportParameterError  = 0x08
	wireConnectionIDLimitError   = 0x09
	wireProtocolViolation        = 0x0a
	wireInvalidToken             = 0x0b
	wireApplicationError         = 0x0c
	wireCryptoBufferExceeded     = 0x0d
	wireKeyUpdateError           = 0x0e
	wireAEADLimitReached         = 0x0f
	wireNoViablePath             = 0x10
	wireCryptoErrorBase          = 0x100
)

func (k ErrorKind) wireCode() uint64 {
	switch k {
	case NoError:
		return wireNoError
	case ProtocolViolation:
		return wireProtocolViolation
	case FrameEncodingError:
		return wireFrameEncodingError
	case StreamLimitError:
		return wireStreamLimitError
	case FlowControlError:
		return wireFlowControlError
	case TransportParameterError:
		return wireTransportParameterError
	case CryptoError:
		return wireCryptoErrorBase
	case StreamStateError:
		return wireStreamStateError
	case ApplicationError:
		return wireApplicationError
	default:
		return wireInternalError
	}
}

// Error is a typed transport-level failure. It wraps github.com/pkg/errors
// to retain a stack trace for InternalError (invariant violation) paths,
// where operators need more than a message to diagnose a bug report.
type Error struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transport: %s", e.kindString())
	}
	return fmt.Sprintf("transport: %s: %s", e.kindString(), e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Code returns the RFC 9000 transport error code for this error.
func (e *Error) Code() uint64 { return e.Kind.wireCode() }

func (e *Error) kindString() string {
	switch e.Kind {
	case NoError:
		return "no_error"
	case ProtocolViolation:
		return "protocol_violation"
	case FrameEncodingError:
		return "frame_encoding_error"
	case StreamLimitError:
		return "stream_limit_error"
	case FlowControlError:
		return "flow_control_error"
	case TransportParameterError:
		return "transport_parameter_error"
	case CryptoError:
		return "crypto_error"
	case InternalError:
		return "internal_error"
	case ApplicationError:
		return "application_error"
	case IdleTimeout:
		return "idle_timeout"
	case DatapathUnreachable:
		return "datapath_unreachable"
	case StreamStateError:
		return "stream_state_error"
	default:
		return "unknown_error"
	}
}

// newError constructs an *Error. Internal errors capture a stack via
// pkg/errors so a bug report carries more than a one-line message.
func newError(kind ErrorKind, msg string) error {
	e := &Error{Kind: kind, Message: msg}
	if kind == InternalError {
		e.cause = errors.New(msg)
	}
	return e
}

func errorCodeString(code uint64) string {
	switch {
	case code >= wireCryptoErrorBase && code <= wireCryptoErrorBase+0xff:
		return fmt.Sprintf("crypto_error_%d", code-wireCryptoErrorBase)
	}
	switch code {
	case wireNoError:
		return "no_error"
	case wireInternalError:
		return "internal_error"
	case wireConnectionRefused:
		return "connection_refused"
	case wireFlowControlError:
		return "flow_control_error"
	case wireStreamLimitError:
		return "stream_limit_error"
	case wireStreamStateError:
		return "stream_state_error"
	case wireFinalSizeError:
		return "final_size_error"
	case wireFrameEncodingError:
		return "frame_encoding_error"
	case wireTransportParameterError:
		return "transport_parameter_error"
	case wireConnectionIDLimitError:
		return "connection_id_limit_error"
	case wireProtocolViolation:
		return "protocol_violation"
	case wireInvalidToken:
		return "invalid_token"
	case wireApplicationError:
		return "application_error"
	case wireCryptoBufferExceeded:
		return "crypto_buffer_exceeded"
	case wireKeyUpdateError:
		return "key_update_error"
	case wireAEADLimitReached:
		return "aead_limit_reached"
	case wireNoViablePath:
		return "no_viable_path"
	default:
		return fmt.Sprintf("unknown_error_%d", code)
	}
}

// Sentinel errors used internally; each is already a *Error of the Kind
// shown and is returned to callers as is.
var (
	errInvalidToken = newError(ProtocolViolation, "invalid retry token")
	errFlowControl  = newError(FlowControlError, "flow control violation")
	errShortBuffer  = newError(InternalError, "short buffer")
)
