package elm327

import "fmt"

// Kind classifies the error taxonomy exported by this package. Callers
// match on Kind via errors.Is against the Err* sentinels, the same way
// goserial callers matched against ErrClosed.
type Kind int

const (
	// KindTransportOpen indicates the underlying byte transport could
	// not be established.
	KindTransportOpen Kind = iota + 1
	// KindTransportRead indicates a media-level read failure.
	KindTransportRead
	// KindTransportWrite indicates a media-level write failure.
	KindTransportWrite
	// KindTransportTimeout indicates a read or write deadline elapsed.
	KindTransportTimeout
	// KindAdapterInit indicates the ELM327 AT configuration sequence failed.
	KindAdapterInit
	// KindNotReady indicates send_message was called before initialize.
	KindNotReady
	// KindNoResponse indicates a classified ELM327 error/status token or
	// a timeout waiting for the prompt.
	KindNoResponse
	// KindResponseMalformed indicates the reply had no recognizable
	// frames and the fallback hex decode also failed, or that ISO-TP
	// reassembly of the reply's frames failed.
	KindResponseMalformed
	// KindIsoTpProtocol indicates an ISO-TP assembler invariant violation.
	KindIsoTpProtocol
	// KindUdsMalformed indicates a too-short UDS payload for its service class.
	KindUdsMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransportOpen:
		return "transport_open"
	case KindTransportRead:
		return "transport_read"
	case KindTransportWrite:
		return "transport_write"
	case KindTransportTimeout:
		return "transport_timeout"
	case KindAdapterInit:
		return "adapter_init"
	case KindNotReady:
		return "not_ready"
	case KindNoResponse:
		return "no_response"
	case KindResponseMalformed:
		return "response_malformed"
	case KindIsoTpProtocol:
		return "isotp_protocol"
	case KindUdsMalformed:
		return "uds_malformed"
	default:
		return "unknown"
	}
}

// Error is the single error type exported across the transport, ISO-TP,
// UDS and controller layers. It carries a Kind for errors.Is matching,
// an optional message, an optional wrapped cause, and optional raw
// diagnostic context (e.g. the ELM327 reply that triggered NoResponse).
type Error struct {
	Kind Kind
	msg  string
	err  error
	Raw  string
}

func (e *Error) Error() string {
	msg := e.msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	if e.Raw != "" {
		msg += fmt.Sprintf(" (raw=%q)", e.Raw)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, elm327.ErrNoResponse) against the
// sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapErr(kind Kind, msg string, cause error) *Error {
	if cause == nil && msg == "" {
		return newErr(kind, "")
	}
	return &Error{Kind: kind, msg: msg, err: cause}
}

func newErrRaw(kind Kind, msg string, raw string) *Error {
	return &Error{Kind: kind, msg: msg, Raw: raw}
}

// WrapTransportOpen, WrapTransportWrite and WrapTransportRead let
// out-of-package transports (elm327/ble, and callers' own transports)
// construct the same *Error shape the core package uses internally.
func WrapTransportOpen(msg string, cause error) error {
	return wrapErr(KindTransportOpen, msg, cause)
}

func WrapTransportWrite(msg string, cause error) error {
	return wrapErr(KindTransportWrite, msg, cause)
}

func WrapTransportRead(msg string, cause error) error {
	return wrapErr(KindTransportRead, msg, cause)
}

// Sentinels for errors.Is matching. Only Kind is compared, so these can
// be constructed with no message or cause.
var (
	ErrTransportOpen     = newErr(KindTransportOpen, "")
	ErrTransportRead     = newErr(KindTransportRead, "")
	ErrTransportWrite    = newErr(KindTransportWrite, "")
	ErrTransportTimeout  = newErr(KindTransportTimeout, "")
	ErrAdapterInit       = newErr(KindAdapterInit, "")
	ErrNotReady          = newErr(KindNotReady, "")
	ErrNoResponse        = newErr(KindNoResponse, "")
	ErrResponseMalformed = newErr(KindResponseMalformed, "")
	ErrIsoTpProtocol     = newErr(KindIsoTpProtocol, "")
	ErrUdsMalformed      = newErr(KindUdsMalformed, "")
)
