package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/yamux"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// maxDiscardedStreams bounds the streams drained from a closed session
// while looking up its exit error.
const maxDiscardedStreams = 256

// muxConn multiplexes HTTP/1.1 exchanges over a yamux session, using a
// separate stream per request.
type muxConn struct {
	sess      *yamux.Session
	transport *http.Transport

	closing *atomic.Bool

	logger log.Logger
}

func handshakeMux(
	ctx context.Context,
	conn net.Conn,
	conf MuxConfig,
	logger log.Logger,
) (*muxConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sess, err := yamux.Client(conn, newMuxConfig(conf, logger))
	if err != nil {
		return nil, httperr.From(httperr.KindProtocol, "mux handshake", err)
	}

	c := &muxConn{
		sess:    sess,
		closing: atomic.NewBool(false),
		logger:  logger,
	}
	c.transport = &http.Transport{
		DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
			return c.sess.Open()
		},
		// Each request uses its own stream which is closed once the
		// response completes.
		DisableKeepAlives:  true,
		DisableCompression: true,
	}
	return c, nil
}

// newMuxConfig returns the yamux configuration for both clients and servers.
func newMuxConfig(conf MuxConfig, logger log.Logger) *yamux.Config {
	muxConfig := yamux.DefaultConfig()
	muxConfig.EnableKeepAlive = conf.EnableKeepAlive
	if conf.KeepAliveInterval > 0 {
		muxConfig.KeepAliveInterval = conf.KeepAliveInterval
	}
	if conf.MaxStreamWindowSize > 0 {
		muxConfig.MaxStreamWindowSize = conf.MaxStreamWindowSize
	}
	muxConfig.Logger = logger.StdLogger(zap.WarnLevel)
	muxConfig.LogOutput = nil
	return muxConfig
}

// NewMuxServer accepts a mux session over conn. The returned session is a
// net.Listener that accepts a stream per request.
func NewMuxServer(conn net.Conn, conf MuxConfig, logger log.Logger) (*yamux.Session, error) {
	sess, err := yamux.Server(conn, newMuxConfig(conf, logger))
	if err != nil {
		return nil, fmt.Errorf("mux server: %w", err)
	}
	return sess, nil
}

// Ready succeeds while the session is open. Streams are opened on demand so
// there is no other capacity to reserve.
func (c *muxConn) Ready(_ context.Context) error {
	if c.sess.IsClosed() {
		return httperr.From(httperr.KindClosed, "ready", errConnClosed)
	}
	return nil
}

func (c *muxConn) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	// Streams are plaintext HTTP/1.1 regardless of the outer transport.
	if req.URL.Scheme != "http" {
		u := *req.URL
		u.Scheme = "http"
		req.URL = &u
	}
	resp, err := c.transport.RoundTrip(req)
	if err != nil {
		if c.sess.IsClosed() {
			return nil, httperr.From(httperr.KindClosed, "send", err)
		}
		return nil, httperr.From(httperr.KindTransport, "send", err)
	}
	return resp, nil
}

func (c *muxConn) Run() error {
	<-c.sess.CloseChan()
	c.transport.CloseIdleConnections()

	err := c.exitErr()
	c.logger.Debug(
		"mux session closed",
		zap.Int("streams", c.sess.NumStreams()),
		zap.Error(err),
	)
	if c.closing.Load() || err == nil ||
		errors.Is(err, io.EOF) || errors.Is(err, yamux.ErrSessionShutdown) {
		return nil
	}
	switch {
	case errors.Is(err, yamux.ErrInvalidVersion),
		errors.Is(err, yamux.ErrInvalidMsgType),
		errors.Is(err, yamux.ErrUnexpectedFlag),
		errors.Is(err, yamux.ErrDuplicateStream),
		errors.Is(err, yamux.ErrRecvWindowExceeded):
		return httperr.From(httperr.KindProtocol, "mux", err)
	default:
		return httperr.From(httperr.KindTransport, "mux", err)
	}
}

// exitErr returns the error that terminated the session. Once the session
// is shut down, Accept returns that error.
func (c *muxConn) exitErr() error {
	// The peer never opens streams, though any that were queued before the
	// shutdown are discarded.
	for i := 0; i != maxDiscardedStreams; i++ {
		stream, err := c.sess.Accept()
		if err != nil {
			return err
		}
		stream.Close()
	}
	return nil
}

func (c *muxConn) Close() error {
	c.closing.Store(true)
	return c.sess.Close()
}
