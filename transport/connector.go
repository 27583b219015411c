package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Connector selects a transport based on the destination scheme:
// 'http' uses TCP, 'https' uses TLS over TCP and 'ws'/'wss' use WebSockets.
type Connector struct {
	tcp       *TCPConnector
	tls       *TLSConnector
	websocket *WebSocketConnector
}

func NewConnector(tlsConfig *tls.Config) *Connector {
	tcp := NewTCPConnector()
	return &Connector{
		tcp:       tcp,
		tls:       NewTLSConnector(tcp, tlsConfig),
		websocket: NewWebSocketConnector(tlsConfig, nil),
	}
}

func (c *Connector) Ready(_ context.Context) error {
	return nil
}

func (c *Connector) Call(ctx context.Context, dst Destination) (net.Conn, error) {
	switch dst.Scheme {
	case "http":
		return c.tcp.Call(ctx, dst)
	case "https":
		return c.tls.Call(ctx, dst)
	case "ws", "wss":
		return c.websocket.Call(ctx, dst)
	default:
		return nil, fmt.Errorf("unsupported scheme: %s", dst.Scheme)
	}
}

var _ Maker[Destination] = &Connector{}
