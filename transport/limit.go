package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
)

// ErrNotReserved is returned when calling a Limited maker without first
// reserving capacity with Ready.
var ErrNotReserved = errors.New("no capacity reserved")

// Limited restricts the number of connections that may be open at once.
//
// Ready blocks until a connection slot is available and reserves it for the
// next Call. The slot is released when the connection is closed, or if the
// inner maker fails to connect.
type Limited[T any] struct {
	inner Maker[T]
	sem   *semaphore.Weighted

	reserved *atomic.Int64
}

// Limit wraps maker so at most n connections are open at once.
func Limit[T any](maker Maker[T], n int64) *Limited[T] {
	return &Limited[T]{
		inner:    maker,
		sem:      semaphore.NewWeighted(n),
		reserved: atomic.NewInt64(0),
	}
}

func (l *Limited[T]) Ready(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := l.inner.Ready(ctx); err != nil {
		l.sem.Release(1)
		return err
	}
	l.reserved.Inc()
	return nil
}

func (l *Limited[T]) Call(ctx context.Context, target T) (net.Conn, error) {
	if l.reserved.Dec() < 0 {
		l.reserved.Inc()
		return nil, ErrNotReserved
	}

	conn, err := l.inner.Call(ctx, target)
	if err != nil {
		l.sem.Release(1)
		return nil, err
	}
	return &limitedConn{
		Conn: conn,
		release: func() {
			l.sem.Release(1)
		},
	}, nil
}

type limitedConn struct {
	net.Conn

	releaseOnce sync.Once
	release     func()
}

func (c *limitedConn) Close() error {
	err := c.Conn.Close()
	c.releaseOnce.Do(c.release)
	return err
}

func (c *limitedConn) NegotiatedProtocol() string {
	return NegotiatedProtocol(c.Conn)
}

var _ Maker[Destination] = &Limited[Destination]{}
