// Copyright (c) nbsocket authors.
// SPDX-License-Identifier: BSD-3-Clause

package nbsocket

import "fmt"

// Kind classifies an *OpError the way spec §7 enumerates the error
// taxonomy: a small closed set of kinds, not a set of concrete exception
// types, so callers can switch on Kind without type-asserting a dozen
// sentinel error variables.
type Kind int

const (
	// KindNotOpen covers operations invoked after close, or racing with
	// a concurrent close.
	KindNotOpen Kind = iota
	// KindNotConnected covers I/O attempted before a successful connect/accept.
	KindNotConnected
	// KindAlreadyConnected covers a second connect on an already-connected endpoint.
	KindAlreadyConnected
	// KindConnectionInProgress covers a connect while one is already in flight.
	KindConnectionInProgress
	// KindNotBound covers listen/accept before bind.
	KindNotBound
	// KindNotStream covers accept on a datagram endpoint.
	KindNotStream
	// KindUnresolvedHost covers a connect target that failed the pre-flight
	// address resolution check.
	KindUnresolvedHost
	// KindBadAddress covers a structurally invalid address.
	KindBadAddress
	// KindTimeout covers a configured SO_TIMEOUT/millis deadline elapsing.
	KindTimeout
	// KindConnectionReset is sticky: once observed, a read-stream reports it
	// on every subsequent call without a further syscall.
	KindConnectionReset
	// KindIO wraps any other kernel error, preserving its message.
	KindIO
	// KindBadArgument covers option type/value validation failures.
	KindBadArgument
	// KindUnsupported covers options or operations absent on this platform.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNotOpen:
		return "socket closed"
	case KindNotConnected:
		return "not connected"
	case KindAlreadyConnected:
		return "already connected"
	case KindConnectionInProgress:
		return "connection already in progress"
	case KindNotBound:
		return "not bound"
	case KindNotStream:
		return "not a stream socket"
	case KindUnresolvedHost:
		return "unresolved host"
	case KindBadAddress:
		return "bad address"
	case KindTimeout:
		return "timeout"
	case KindConnectionReset:
		return "connection reset"
	case KindIO:
		return "io error"
	case KindBadArgument:
		return "bad argument"
	case KindUnsupported:
		return "unsupported operation"
	default:
		return "unknown error"
	}
}

// OpError is the concrete error type raised by every Endpoint operation. It
// implements net.Error (Timeout/Temporary) the way smux's timeoutError does
// (session.go) so that code built against the standard library's error
// interfaces (e.g. http.Server swallowing net.Error.Timeout() errors) keeps
// working against an Endpoint-backed net.Conn without special-casing it.
type OpError struct {
	Op      string
	Kind    Kind
	Addr    string
	Message string
	Err     error
}

func (e *OpError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	s := "nbsocket"
	if e.Op != "" {
		s += ": " + e.Op
	}
	s += ": " + msg
	if e.Addr != "" {
		s += " (" + e.Addr + ")"
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() error { return e.Err }

// Timeout implements net.Error.
func (e *OpError) Timeout() bool { return e.Kind == KindTimeout }

// Temporary implements net.Error. Only timeouts are modeled as temporary;
// every other kind reflects a terminal condition for the operation that
// raised it.
func (e *OpError) Temporary() bool { return e.Kind == KindTimeout }

func newErr(op string, kind Kind) *OpError {
	return &OpError{Op: op, Kind: kind}
}

func newErrf(op string, kind Kind, format string, args ...any) *OpError {
	return &OpError{Op: op, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapIOErr(op string, err error) *OpError {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if asOpError(err, &opErr) {
		return opErr
	}
	return &OpError{Op: op, Kind: KindIO, Message: err.Error(), Err: err}
}

// asOpError is a tiny errors.As specialization kept local to avoid importing
// errors just for this one call site used by wrapIOErr's fast path.
func asOpError(err error, target **OpError) bool {
	for err != nil {
		if oe, ok := err.(*OpError); ok {
			*target = oe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ErrNotImplemented is returned by SendUrgentData when the underlying
// syscall would block, preserving the documented gap noted in spec §4.4/§9
// rather than silently extending it into a proper wait loop (Open Question
// (a), resolved: preserve the gap).
var ErrNotImplemented = &OpError{Op: "sendUrgentData", Kind: KindUnsupported, Message: "not implemented yet: urgent data would block"}
