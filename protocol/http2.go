package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/pkg/backoff"
	"github.com/andydunstall/tether/pkg/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

const (
	minStreamBackoff = time.Millisecond
	maxStreamBackoff = time.Millisecond * 100
)

// http2Conn is an HTTP/2 client connection using prior knowledge.
//
// The frame read loop and keepalive pings are run by the http2 package. The
// driver waits for the transport read side to fail, which is how the frame
// loop terminates.
type http2Conn struct {
	cc   *http2.ClientConn
	conn *watchedConn

	closing *atomic.Bool

	logger log.Logger
}

func handshakeHTTP2(
	ctx context.Context,
	conn net.Conn,
	conf HTTP2Config,
	logger log.Logger,
) (*http2Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &http2.Transport{
		AllowHTTP:                  true,
		StrictMaxConcurrentStreams: true,
		MaxHeaderListSize:          conf.MaxHeaderListSize,
		MaxReadFrameSize:           conf.MaxReadFrameSize,
		ReadIdleTimeout:            conf.ReadIdleTimeout,
		PingTimeout:                conf.PingTimeout,
	}
	watched := newWatchedConn(conn)
	cc, err := t.NewClientConn(watched)
	if err != nil {
		return nil, httperr.From(httperr.KindProtocol, "http2 handshake", err)
	}
	return &http2Conn{
		cc:      cc,
		conn:    watched,
		closing: atomic.NewBool(false),
		logger:  logger,
	}, nil
}

// Ready reserves a stream. If the peer's concurrent stream limit has been
// reached, Ready backs off until a stream becomes available.
func (c *http2Conn) Ready(ctx context.Context) error {
	b := backoff.New(0, minStreamBackoff, maxStreamBackoff)
	for {
		if c.cc.State().Closed || c.conn.Failed() {
			return httperr.From(httperr.KindClosed, "ready", errConnClosed)
		}
		if c.cc.ReserveNewRequest() {
			return nil
		}
		if !b.Wait(ctx) {
			return ctx.Err()
		}
	}
}

func (c *http2Conn) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Context() != ctx {
		req = req.WithContext(ctx)
	}
	resp, err := c.cc.RoundTrip(req)
	if err != nil {
		if c.cc.State().Closed {
			return nil, httperr.From(httperr.KindClosed, "send", err)
		}
		return nil, httperr.From(httperr.KindTransport, "send", err)
	}
	return resp, nil
}

func (c *http2Conn) Run() error {
	<-c.conn.Done()

	err := c.conn.Err()
	if c.closing.Load() || err == io.EOF {
		return nil
	}
	if errors.Is(err, net.ErrClosed) {
		// The http2 package closes the transport on a failed health check
		// or a GOAWAY once all streams complete.
		st := c.cc.State()
		c.logger.Debug(
			"http2 connection closed",
			zap.Bool("closed", st.Closed),
			zap.Int("active-streams", st.StreamsActive),
		)
		return nil
	}
	return httperr.From(httperr.KindTransport, "read", err)
}

func (c *http2Conn) Close() error {
	c.closing.Store(true)
	err := c.cc.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// watchedConn records the first read error from the transport.
type watchedConn struct {
	net.Conn

	done chan struct{}
	once sync.Once
	err  error
}

func newWatchedConn(conn net.Conn) *watchedConn {
	return &watchedConn{
		Conn: conn,
		done: make(chan struct{}),
	}
}

func (c *watchedConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil {
		c.fail(err)
	}
	return n, err
}

func (c *watchedConn) Close() error {
	err := c.Conn.Close()
	c.fail(net.ErrClosed)
	return err
}

// Done returns a channel that is closed when the transport fails.
func (c *watchedConn) Done() <-chan struct{} {
	return c.done
}

func (c *watchedConn) Err() error {
	<-c.done
	return c.err
}

func (c *watchedConn) Failed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *watchedConn) fail(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}
