package httperr

import (
	"errors"
	"fmt"
	"io"
)

// Kind classifies where a request-time error came from.
type Kind int

const (
	// KindTransport is a failure of the underlying connection, such as the
	// peer resetting the stream.
	KindTransport Kind = iota + 1
	// KindProtocol is a malformed or unexpected message from the peer.
	KindProtocol
	// KindBody is a failure producing or consuming a message body.
	KindBody
	// KindClosed indicates the connection has shut down and can no longer
	// send requests.
	KindClosed
	// KindNotReady indicates a call was made without a successful readiness
	// check.
	KindNotReady
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindBody:
		return "body"
	case KindClosed:
		return "closed"
	case KindNotReady:
		return "not ready"
	default:
		return "unknown"
	}
}

// Error is the single error shape returned by requests and bodies, regardless
// of which protocol implementation produced the underlying error.
type Error struct {
	Kind Kind
	// Op describes the operation that failed, such as 'send' or 'read body'.
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// From converts err into an *Error of the given kind.
//
// nil and io.EOF are returned unchanged as they are not failures. Errors that
// have already been converted are also returned unchanged so From can be
// applied at every layer.
func From(kind Kind, op string, err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// New returns an *Error with no underlying cause.
func New(kind Kind, op string) error {
	return &Error{
		Kind: kind,
		Op:   op,
	}
}

// IsKind returns whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
