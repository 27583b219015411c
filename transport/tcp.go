package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPConnector connects to destinations over TCP.
type TCPConnector struct {
	dialer *net.Dialer
}

func NewTCPConnector() *TCPConnector {
	return &TCPConnector{
		dialer: &net.Dialer{
			KeepAlive: 30 * time.Second,
		},
	}
}

// Ready always succeeds as the connector has no capacity limit.
func (c *TCPConnector) Ready(_ context.Context) error {
	return nil
}

func (c *TCPConnector) Call(ctx context.Context, dst Destination) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", dst.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

var _ Maker[Destination] = &TCPConnector{}
