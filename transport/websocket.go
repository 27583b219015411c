package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/andydunstall/tether/pkg/websocket"
)

// WebSocketConnector connects to destinations using a WebSocket.
//
// It offers the multiplexed protocol subprotocol, and reports the mux
// protocol as negotiated if the server accepts it. Otherwise the connection
// is used as a plain byte stream.
type WebSocketConnector struct {
	tlsConfig *tls.Config
	header    http.Header
}

func NewWebSocketConnector(tlsConfig *tls.Config, header http.Header) *WebSocketConnector {
	return &WebSocketConnector{
		tlsConfig: tlsConfig,
		header:    header,
	}
}

// Ready always succeeds as the connector has no capacity limit.
func (c *WebSocketConnector) Ready(_ context.Context) error {
	return nil
}

func (c *WebSocketConnector) Call(ctx context.Context, dst Destination) (net.Conn, error) {
	scheme := "ws"
	if dst.Scheme == "https" || dst.Scheme == "wss" {
		scheme = "wss"
	}
	url := scheme + "://" + dst.Addr() + dst.Path

	opts := []websocket.DialOption{
		websocket.WithSubprotocols(MuxSubprotocol),
	}
	if c.tlsConfig != nil {
		opts = append(opts, websocket.WithTLSConfig(c.tlsConfig))
	}
	if c.header != nil {
		opts = append(opts, websocket.WithHeader(c.header))
	}

	conn, err := websocket.Dial(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("websocket: %w", err)
	}
	return &negotiatedWebSocketConn{Conn: conn}, nil
}

type negotiatedWebSocketConn struct {
	*websocket.Conn
}

func (c *negotiatedWebSocketConn) NegotiatedProtocol() string {
	if c.Subprotocol() == MuxSubprotocol {
		return ProtoMux
	}
	return ""
}

var _ Maker[Destination] = &WebSocketConnector{}
