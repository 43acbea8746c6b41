package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies bridge failures so callers can pick a response
// without matching on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindDiscovery: no reader, or the card service is unreachable.
	KindDiscovery
	// KindConnect: no card in the reader, or the reader refused the session.
	KindConnect
	// KindTransport: the physical exchange did not complete.
	KindTransport
	// KindProtocol: the card answered with a non-success status word.
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindConnect:
		return "connect"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

var (
	// ErrNoReader is returned when enumeration finds no reader.
	ErrNoReader = errors.New("no reader detected")
	// ErrConnectionClosed is returned by Transmit after Disconnect.
	ErrConnectionClosed = errors.New("card connection closed")
)

// Error is the error type returned by every bridge operation.
type Error struct {
	Kind ErrorKind
	// Op is the step that failed: "list readers", "connect", "verify", "write", ...
	Op string
	// Status is the card's status word, set for KindProtocol.
	Status StatusWord
	// Msg is the user-facing description. When empty, Err's message is used.
	Msg string
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s failed", e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a bridge error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func protocolError(op string, sw StatusWord, format string, args ...any) *Error {
	return &Error{
		Kind:   KindProtocol,
		Op:     op,
		Status: sw,
		Msg:    fmt.Sprintf(format, args...),
	}
}
