package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// TLSConnector wraps connections from another connector with TLS.
//
// It offers both HTTP/2 and HTTP/1.1 using ALPN, unless the configuration
// sets its own NextProtos, and reports the protocol selected by the server.
type TLSConnector struct {
	inner  Maker[Destination]
	config *tls.Config
}

func NewTLSConnector(inner Maker[Destination], config *tls.Config) *TLSConnector {
	if config == nil {
		config = &tls.Config{}
	}
	return &TLSConnector{
		inner:  inner,
		config: config,
	}
}

func (c *TLSConnector) Ready(ctx context.Context) error {
	return c.inner.Ready(ctx)
}

func (c *TLSConnector) Call(ctx context.Context, dst Destination) (net.Conn, error) {
	conn, err := c.inner.Call(ctx, dst)
	if err != nil {
		return nil, err
	}

	config := c.config.Clone()
	if config.ServerName == "" {
		config.ServerName = dst.Host
	}
	if len(config.NextProtos) == 0 {
		config.NextProtos = []string{ProtoHTTP2, ProtoHTTP1}
	}

	tlsConn := tls.Client(conn, config)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return &negotiatedTLSConn{Conn: tlsConn}, nil
}

type negotiatedTLSConn struct {
	*tls.Conn
}

func (c *negotiatedTLSConn) NegotiatedProtocol() string {
	return c.ConnectionState().NegotiatedProtocol
}

var _ Maker[Destination] = &TLSConnector{}
