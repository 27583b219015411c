package server

import (
	"net"
	"net/http"
	"sync"
)

type connAddr struct{}

func (connAddr) Network() string {
	return "conn"
}

func (connAddr) String() string {
	return "conn"
}

// connListener is a net.Listener that accepts connections pushed to it, so
// connections accepted elsewhere can be served by an http.Server.
type connListener struct {
	ch chan net.Conn

	closed    chan struct{}
	closeOnce sync.Once
}

func newConnListener() *connListener {
	return &connListener{
		ch:     make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// Push blocks until the connection is accepted. If the listener is closed,
// the connection is closed and an error is returned.
func (l *connListener) Push(conn net.Conn) error {
	select {
	case l.ch <- conn:
		return nil
	case <-l.closed:
		conn.Close()
		return http.ErrServerClosed
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.ch:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

func (l *connListener) Addr() net.Addr {
	return connAddr{}
}

// trackedConn signals once the connection is closed.
type trackedConn struct {
	net.Conn

	done      chan struct{}
	closeOnce sync.Once
}

func newTrackedConn(conn net.Conn) *trackedConn {
	return &trackedConn{
		Conn: conn,
		done: make(chan struct{}),
	}
}

func (c *trackedConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return err
}

func (c *trackedConn) Done() <-chan struct{} {
	return c.done
}

var _ net.Listener = &connListener{}
