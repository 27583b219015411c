package client

import (
	"fmt"
)

// ConnectErrorKind is the stage of connecting that failed.
type ConnectErrorKind int

const (
	// ConnectErrorConnect means the transport could not be acquired.
	ConnectErrorConnect ConnectErrorKind = iota + 1
	// ConnectErrorHandshake means the protocol handshake failed.
	ConnectErrorHandshake
	// ConnectErrorSpawn means the connection's background task could not be
	// started.
	ConnectErrorSpawn
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectErrorConnect:
		return "connect"
	case ConnectErrorHandshake:
		return "handshake"
	case ConnectErrorSpawn:
		return "spawn"
	default:
		return "unknown"
	}
}

// ConnectError is returned when establishing a connection fails.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
