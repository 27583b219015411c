// Package protocol performs the HTTP handshake over an established transport
// and drives the resulting connection.
//
// A handshake returns a Sender, used to submit requests, and a Driver, which
// must be run in the background for the lifetime of the connection. The
// Driver owns the transport: it processes frames or responses read from the
// peer, and once it returns the Sender can no longer be used.
package protocol

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/transport"
)

// Protocol is the HTTP protocol spoken over a connection.
type Protocol int

const (
	// HTTP1 sends a single request at a time using HTTP/1.1.
	HTTP1 Protocol = iota
	// HTTP2 multiplexes requests using HTTP/2 with prior knowledge.
	HTTP2
	// Mux multiplexes HTTP/1.1 exchanges over yamux streams.
	Mux
)

func (p Protocol) String() string {
	switch p {
	case HTTP1:
		return "http1"
	case HTTP2:
		return "http2"
	case Mux:
		return "mux"
	default:
		return "unknown"
	}
}

// ParseProtocol parses a protocol name, either 'http1', 'http2' or 'mux'.
func ParseProtocol(s string) (Protocol, error) {
	switch s {
	case "http1":
		return HTTP1, nil
	case "http2":
		return HTTP2, nil
	case "mux":
		return Mux, nil
	default:
		return 0, fmt.Errorf("unsupported protocol: %s", s)
	}
}

// Sender submits requests over a connection.
type Sender interface {
	// Ready blocks until the connection can accept another request, or
	// returns an error if it never will, such as the connection closed.
	Ready(ctx context.Context) error
	// Send sends the request and waits for the response headers. The
	// response body is streamed from the connection as it is read.
	Send(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Driver processes a connection in the background.
type Driver interface {
	// Run blocks until the connection terminates. It returns nil if the
	// connection was closed cleanly.
	Run() error
	// Close closes the connection, causing Run to return.
	Close() error
}

type HTTP2Config struct {
	// MaxHeaderListSize is the maximum size of response headers to accept.
	MaxHeaderListSize uint32 `json:"max_header_list_size" yaml:"max_header_list_size"`

	// MaxReadFrameSize is the largest frame the peer may send.
	MaxReadFrameSize uint32 `json:"max_read_frame_size" yaml:"max_read_frame_size"`

	// ReadIdleTimeout is the time after which a health check ping is sent if
	// no frames were received. Zero disables health checks.
	ReadIdleTimeout time.Duration `json:"read_idle_timeout" yaml:"read_idle_timeout"`

	// PingTimeout is the time after which the connection is closed if a
	// health check ping doesn't receive a response.
	PingTimeout time.Duration `json:"ping_timeout" yaml:"ping_timeout"`
}

type MuxConfig struct {
	EnableKeepAlive   bool          `json:"enable_keep_alive" yaml:"enable_keep_alive"`
	KeepAliveInterval time.Duration `json:"keep_alive_interval" yaml:"keep_alive_interval"`

	// MaxStreamWindowSize is the maximum receive window per stream.
	MaxStreamWindowSize uint32 `json:"max_stream_window_size" yaml:"max_stream_window_size"`
}

// Builder configures the handshake.
//
// The zero value performs an HTTP/1.1 handshake with default settings.
type Builder struct {
	Protocol Protocol

	// ReadBufferSize and WriteBufferSize are the HTTP/1.1 buffer sizes.
	ReadBufferSize  int
	WriteBufferSize int

	HTTP2 HTTP2Config

	Mux MuxConfig

	Logger log.Logger
}

// WithNegotiated returns a copy of the builder using the protocol negotiated
// by the transport. If nothing was negotiated the configured protocol is
// kept.
func (b Builder) WithNegotiated(proto string) Builder {
	switch proto {
	case transport.ProtoHTTP2:
		b.Protocol = HTTP2
	case transport.ProtoMux:
		b.Protocol = Mux
	case transport.ProtoHTTP1:
		b.Protocol = HTTP1
	}
	return b
}

// Handshake establishes the protocol over conn.
//
// On success the caller must run the returned Driver. On failure conn is
// left open and owned by the caller.
func (b Builder) Handshake(ctx context.Context, conn net.Conn) (Sender, Driver, error) {
	logger := b.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	switch b.Protocol {
	case HTTP1:
		c := newHTTP1Conn(conn, b.ReadBufferSize, b.WriteBufferSize, logger)
		return c, c, nil
	case HTTP2:
		c, err := handshakeHTTP2(ctx, conn, b.HTTP2, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case Mux:
		c, err := handshakeMux(ctx, conn, b.Mux, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		return nil, nil, fmt.Errorf("unsupported protocol: %d", b.Protocol)
	}
}
