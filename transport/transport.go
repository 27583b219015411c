// Package transport acquires the byte streams that connections are
// established over.
//
// A Maker turns a target, such as a Destination, into a connected stream.
// Makers may report the application protocol negotiated while connecting,
// such as with TLS ALPN, which the connection uses to select the protocol to
// speak.
package transport

import (
	"net"

	"github.com/andydunstall/tether/service"
)

// Application protocols that may be negotiated by a transport.
const (
	ProtoHTTP1 = "http/1.1"
	ProtoHTTP2 = "h2"
	ProtoMux   = "mux"
)

// MuxSubprotocol is the WebSocket subprotocol used to request the multiplexed
// protocol.
const MuxSubprotocol = "tether-mux"

// Negotiator is implemented by connections that negotiate an application
// protocol while connecting.
type Negotiator interface {
	// NegotiatedProtocol returns the negotiated protocol, or an empty string
	// if none was negotiated.
	NegotiatedProtocol() string
}

// Maker connects to a target of type T.
type Maker[T any] interface {
	service.Service[T, net.Conn]
}

// NegotiatedProtocol returns the protocol negotiated by conn, or an empty
// string if conn doesn't support negotiation.
func NegotiatedProtocol(conn net.Conn) string {
	if n, ok := conn.(Negotiator); ok {
		return n.NegotiatedProtocol()
	}
	return ""
}
