// Package server serves HTTP handlers over accepted transports, speaking
// HTTP/1.1, HTTP/2 with prior knowledge or the multiplexed protocol.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/transport"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/http2"
	"golang.org/x/sync/errgroup"
)

type options struct {
	protocol   protocol.Protocol
	muxConfig  protocol.MuxConfig
	httpConfig HTTPConfig
	logger     log.Logger
}

type Option interface {
	apply(*options)
}

type protocolOption protocol.Protocol

func (o protocolOption) apply(opts *options) {
	opts.protocol = protocol.Protocol(o)
}

// WithProtocol sets the protocol spoken on accepted connections. Defaults to
// HTTP/1.1.
func WithProtocol(p protocol.Protocol) Option {
	return protocolOption(p)
}

type muxConfigOption protocol.MuxConfig

func (o muxConfigOption) apply(opts *options) {
	opts.muxConfig = protocol.MuxConfig(o)
}

func WithMuxConfig(conf protocol.MuxConfig) Option {
	return muxConfigOption(conf)
}

type httpConfigOption HTTPConfig

func (o httpConfigOption) apply(opts *options) {
	opts.httpConfig = HTTPConfig(o)
}

// WithHTTPConfig sets the timeouts and limits of served HTTP connections.
func WithHTTPConfig(conf HTTPConfig) Option {
	return httpConfigOption(conf)
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

func WithLogger(logger log.Logger) Option {
	return loggerOption{Logger: logger}
}

// Server serves an HTTP handler over accepted connections.
type Server struct {
	handler http.Handler

	protocol  protocol.Protocol
	muxConfig protocol.MuxConfig

	httpServer *http.Server
	h2Server   *http2.Server

	// connLn feeds individually served HTTP/1.1 connections to httpServer.
	connLn     *connListener
	connLnOnce sync.Once

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	h2Conns   map[net.Conn]struct{}

	conns errgroup.Group

	// active counts the connections being served by protocol.
	active map[protocol.Protocol]*atomic.Int64

	shutdown *atomic.Bool

	logger log.Logger
}

func NewServer(handler http.Handler, opts ...Option) *Server {
	options := options{
		protocol: protocol.HTTP1,
		logger:   log.NewNopLogger(),
	}
	for _, o := range opts {
		o.apply(&options)
	}

	logger := options.logger.WithSubsystem("server")

	s := &Server{
		handler:   handler,
		protocol:  options.protocol,
		muxConfig: options.muxConfig,
		httpServer: &http.Server{
			Handler:           handler,
			ReadTimeout:       options.httpConfig.ReadTimeout,
			ReadHeaderTimeout: options.httpConfig.ReadHeaderTimeout,
			WriteTimeout:      options.httpConfig.WriteTimeout,
			IdleTimeout:       options.httpConfig.IdleTimeout,
			MaxHeaderBytes:    options.httpConfig.MaxHeaderBytes,
			ErrorLog:          logger.StdLogger(zapcore.WarnLevel),
		},
		h2Server: &http2.Server{
			IdleTimeout: options.httpConfig.IdleTimeout,
		},
		connLn:    newConnListener(),
		listeners: make(map[net.Listener]struct{}),
		h2Conns:   make(map[net.Conn]struct{}),
		active: map[protocol.Protocol]*atomic.Int64{
			protocol.HTTP1: atomic.NewInt64(0),
			protocol.HTTP2: atomic.NewInt64(0),
			protocol.Mux:   atomic.NewInt64(0),
		},
		shutdown: atomic.NewBool(false),
		logger:   logger,
	}
	// Registers HTTP/2 connections for graceful shutdown along with the
	// HTTP/1.1 server.
	if err := http2.ConfigureServer(s.httpServer, s.h2Server); err != nil {
		// Only fails if the server TLS configuration is invalid, which
		// isn't set.
		panic("configure http2: " + err.Error())
	}
	return s
}

// Serve accepts connections from ln and serves each in the background until
// ln is closed or the server shuts down.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		return http.ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.logger.Info(
		"starting server",
		zap.String("addr", ln.Addr().String()),
		zap.String("protocol", s.protocol.String()),
	)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.conns.Go(func() error {
			if err := s.ServeConn(conn); err != nil {
				s.logger.Debug(
					"serve conn",
					zap.String("remote-addr", conn.RemoteAddr().String()),
					zap.Error(err),
				)
			}
			return nil
		})
	}
}

// ServeConn serves a single connection using the configured protocol,
// blocking until the connection closes.
//
// If conn is a TLS connection, the protocol negotiated with ALPN overrides
// the configured protocol.
func (s *Server) ServeConn(conn net.Conn) error {
	p := s.protocol
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("tls handshake: %w", err)
		}
		switch tlsConn.ConnectionState().NegotiatedProtocol {
		case transport.ProtoHTTP2:
			p = protocol.HTTP2
		case transport.ProtoHTTP1:
			p = protocol.HTTP1
		}
	}
	return s.serveConn(conn, p)
}

// Shutdown gracefully shuts down the server, closing listeners and waiting
// for in-flight requests to complete. If ctx expires first, the remaining
// connections are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)

	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()
	s.connLn.Close()

	err := s.httpServer.Shutdown(ctx)

	waitCh := make(chan struct{})
	go func() {
		_ = s.conns.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-ctx.Done():
		s.closeH2Conns()
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// Close immediately closes all listeners and connections.
func (s *Server) Close() error {
	s.shutdown.Store(true)

	s.mu.Lock()
	for ln := range s.listeners {
		ln.Close()
	}
	s.mu.Unlock()
	s.connLn.Close()

	s.closeH2Conns()
	return s.httpServer.Close()
}

func (s *Server) serveConn(conn net.Conn, p protocol.Protocol) error {
	if s.shutdown.Load() {
		conn.Close()
		return http.ErrServerClosed
	}

	if active, ok := s.active[p]; ok {
		active.Inc()
		defer active.Dec()
	}

	switch p {
	case protocol.HTTP1:
		return s.serveHTTP1(conn)
	case protocol.HTTP2:
		return s.serveHTTP2(conn)
	case protocol.Mux:
		return s.serveMux(conn)
	default:
		conn.Close()
		return fmt.Errorf("unsupported protocol: %s", p)
	}
}

func (s *Server) serveHTTP1(conn net.Conn) error {
	s.startConnLn()

	tracked := newTrackedConn(conn)
	if err := s.connLn.Push(tracked); err != nil {
		return err
	}
	<-tracked.Done()
	return nil
}

func (s *Server) serveHTTP2(conn net.Conn) error {
	s.mu.Lock()
	s.h2Conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.h2Conns, conn)
		s.mu.Unlock()
	}()

	s.h2Server.ServeConn(conn, &http2.ServeConnOpts{
		Handler:    s.handler,
		BaseConfig: s.httpServer,
	})
	return nil
}

func (s *Server) serveMux(conn net.Conn) error {
	sess, err := protocol.NewMuxServer(conn, s.muxConfig, s.logger)
	if err != nil {
		conn.Close()
		return err
	}

	s.logger.Debug(
		"mux session accepted",
		zap.String("remote-addr", conn.RemoteAddr().String()),
	)

	// Each stream is served as an HTTP/1.1 connection. The server closes the
	// session on shutdown.
	err = s.httpServer.Serve(sess)
	if errors.Is(err, http.ErrServerClosed) || sess.IsClosed() {
		return nil
	}
	return fmt.Errorf("mux serve: %w", err)
}

func (s *Server) startConnLn() {
	s.connLnOnce.Do(func() {
		go func() {
			// Returns once the server shuts down.
			_ = s.httpServer.Serve(s.connLn)
		}()
	})
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shutdown.Load() {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, ln)
}

func (s *Server) closeH2Conns() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.h2Conns {
		conn.Close()
	}
}
