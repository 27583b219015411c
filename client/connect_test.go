package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/client"
	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/message"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/server"
	"github.com/andydunstall/tether/service"
	"github.com/andydunstall/tether/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// countingExecutor counts spawned tasks.
type countingExecutor struct {
	spawned *atomic.Int64
	err     error
}

func newCountingExecutor(err error) *countingExecutor {
	return &countingExecutor{
		spawned: atomic.NewInt64(0),
		err:     err,
	}
}

func (e *countingExecutor) Spawn(task func()) error {
	if e.err != nil {
		return e.err
	}
	e.spawned.Inc()
	go task()
	return nil
}

// fakeMaker returns conns from dial.
type fakeMaker struct {
	readyErr error
	dial     func() (net.Conn, error)
}

func (m *fakeMaker) Ready(_ context.Context) error {
	return m.readyErr
}

func (m *fakeMaker) Call(_ context.Context, _ string) (net.Conn, error) {
	return m.dial()
}

// negotiatedConn reports a fixed negotiated protocol.
type negotiatedConn struct {
	net.Conn
	proto string
}

func (c *negotiatedConn) NegotiatedProtocol() string {
	return c.proto
}

func startServer(t *testing.T, p protocol.Protocol, handler http.Handler) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.NewServer(handler, server.WithProtocol(p))
	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		srv.Close()
	})
	return ln.Addr().String()
}

func helloHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Hello"))
	})
}

func tcpMaker(addr string) *fakeMaker {
	return &fakeMaker{
		dial: func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		},
	}
}

func get(t *testing.T, ctx context.Context, conn *client.Connection[body.Empty], path string) (*message.Response, error) {
	req, err := message.NewRequest(http.MethodGet, "http://example.com"+path, body.Empty{})
	require.NoError(t, err)
	return service.Oneshot[*message.Request[body.Empty], *message.Response](ctx, conn, req)
}

func TestConnect(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		addr := startServer(t, protocol.HTTP1, helloHandler())

		executor := newCountingExecutor(nil)
		metrics := client.NewMetrics()
		connect := client.NewConnect[string, body.Empty](
			tcpMaker(addr),
			client.WithExecutor(executor),
			client.WithMetrics(metrics),
		)

		require.NoError(t, connect.Ready(context.Background()))
		conn, err := connect.Call(context.Background(), addr)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, int64(1), executor.spawned.Load())
		assert.Equal(t, protocol.HTTP1, conn.Protocol())
		assert.NotEmpty(t, conn.ID())
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ConnectsTotal.WithLabelValues("success")))

		resp, err := get(t, context.Background(), conn, "/")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		// The body yields a single chunk followed by a single end of
		// stream.
		chunk, err := resp.Body.Next()
		require.NoError(t, err)
		assert.Equal(t, "Hello", string(chunk))
		_, err = resp.Body.Next()
		assert.Equal(t, io.EOF, err)
		assert.True(t, resp.Body.IsEndStream())
		assert.NoError(t, resp.Close())
	})

	t.Run("ready failure", func(t *testing.T) {
		readyErr := errors.New("no capacity")
		connect := client.NewConnect[string, body.Empty](&fakeMaker{readyErr: readyErr})

		err := connect.Ready(context.Background())
		var connectErr *client.ConnectError
		require.True(t, errors.As(err, &connectErr))
		assert.Equal(t, client.ConnectErrorConnect, connectErr.Kind)
		assert.ErrorIs(t, err, readyErr)
	})

	t.Run("connect failure", func(t *testing.T) {
		dialErr := errors.New("connection refused")
		executor := newCountingExecutor(nil)
		connect := client.NewConnect[string, body.Empty](
			&fakeMaker{
				dial: func() (net.Conn, error) {
					return nil, dialErr
				},
			},
			client.WithExecutor(executor),
		)

		_, err := connect.Call(context.Background(), "")
		var connectErr *client.ConnectError
		require.True(t, errors.As(err, &connectErr))
		assert.Equal(t, client.ConnectErrorConnect, connectErr.Kind)
		assert.ErrorIs(t, err, dialErr)
		assert.Equal(t, int64(0), executor.spawned.Load())
	})

	t.Run("handshake failure", func(t *testing.T) {
		clientConn, serverConn := net.Pipe()
		// Closing the peer fails the HTTP/2 preface write.
		serverConn.Close()

		executor := newCountingExecutor(nil)
		connect := client.NewConnect[string, body.Empty](
			&fakeMaker{
				dial: func() (net.Conn, error) {
					return clientConn, nil
				},
			},
			client.WithExecutor(executor),
			client.WithBuilder(protocol.Builder{Protocol: protocol.HTTP2}),
		)

		_, err := connect.Call(context.Background(), "")
		var connectErr *client.ConnectError
		require.True(t, errors.As(err, &connectErr))
		assert.Equal(t, client.ConnectErrorHandshake, connectErr.Kind)
		assert.Equal(t, int64(0), executor.spawned.Load())
	})

	t.Run("spawn failure", func(t *testing.T) {
		addr := startServer(t, protocol.HTTP1, helloHandler())

		connect := client.NewConnect[string, body.Empty](
			tcpMaker(addr),
			client.WithExecutor(client.NewBoundedExecutor(0)),
		)

		_, err := connect.Call(context.Background(), addr)
		var connectErr *client.ConnectError
		require.True(t, errors.As(err, &connectErr))
		assert.Equal(t, client.ConnectErrorSpawn, connectErr.Kind)
		assert.ErrorIs(t, err, client.ErrExecutorSaturated)
	})

	t.Run("negotiated http2", func(t *testing.T) {
		addr := startServer(t, protocol.HTTP2, helloHandler())

		connect := client.NewConnect[string, body.Empty](&fakeMaker{
			dial: func() (net.Conn, error) {
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					return nil, err
				}
				return &negotiatedConn{Conn: conn, proto: transport.ProtoHTTP2}, nil
			},
		})

		conn, err := connect.Call(context.Background(), addr)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, protocol.HTTP2, conn.Protocol())

		resp, err := get(t, context.Background(), conn, "/")
		require.NoError(t, err)
		assert.Equal(t, "HTTP/2.0", resp.Proto)

		b, _, err := body.Collect(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "Hello", string(b))
	})

	t.Run("negotiated mux", func(t *testing.T) {
		addr := startServer(t, protocol.Mux, helloHandler())

		connect := client.NewConnect[string, body.Empty](&fakeMaker{
			dial: func() (net.Conn, error) {
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					return nil, err
				}
				return &negotiatedConn{Conn: conn, proto: transport.ProtoMux}, nil
			},
		})

		conn, err := connect.Call(context.Background(), addr)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, protocol.Mux, conn.Protocol())

		resp, err := get(t, context.Background(), conn, "/")
		require.NoError(t, err)
		b, _, err := body.Collect(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "Hello", string(b))
	})
}

func TestConnection(t *testing.T) {
	connect := func(t *testing.T, handler http.Handler) *client.Connection[body.Empty] {
		addr := startServer(t, protocol.HTTP1, handler)
		conn, err := client.NewConnect[string, body.Empty](tcpMaker(addr)).Call(
			context.Background(), addr,
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			conn.Close()
		})
		return conn
	}

	t.Run("not ready", func(t *testing.T) {
		conn := connect(t, helloHandler())

		req, err := message.NewRequest(http.MethodGet, "/", body.Empty{})
		require.NoError(t, err)
		_, err = conn.Call(context.Background(), req)
		assert.True(t, httperr.IsKind(err, httperr.KindNotReady))
	})

	t.Run("request body", func(t *testing.T) {
		addr := startServer(t, protocol.HTTP1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(w, r.Body)
		}))

		// Connections are typed by request body.
		conn, err := client.NewConnect[string, *body.Bytes](tcpMaker(addr)).Call(
			context.Background(), addr,
		)
		require.NoError(t, err)
		defer conn.Close()

		req, err := message.NewRequest(http.MethodPost, "http://example.com/echo", body.NewString("foo"))
		require.NoError(t, err)
		resp, err := service.Oneshot[*message.Request[*body.Bytes], *message.Response](
			context.Background(), conn, req,
		)
		require.NoError(t, err)

		b, _, err := body.Collect(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "foo", string(b))
	})

	t.Run("closed after driver exits", func(t *testing.T) {
		conn := connect(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Connection", "close")
			_, _ = w.Write([]byte("Hello"))
		}))

		resp, err := get(t, context.Background(), conn, "/")
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		select {
		case <-conn.Done():
		case <-time.After(time.Second * 5):
			t.Fatal("connection not closed")
		}
		assert.NoError(t, conn.Err())

		// Every later call fails.
		for i := 0; i != 3; i++ {
			err = conn.Ready(context.Background())
			assert.True(t, httperr.IsKind(err, httperr.KindClosed))
		}
	})

	t.Run("ready reserves one request", func(t *testing.T) {
		conn := connect(t, helloHandler())

		require.NoError(t, conn.Ready(context.Background()))

		// The only HTTP/1 slot is reserved until the call completes.
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()
		assert.ErrorIs(t, conn.Ready(ctx), context.DeadlineExceeded)

		req, err := message.NewRequest(http.MethodGet, "/", body.Empty{})
		require.NoError(t, err)
		resp, err := conn.Call(context.Background(), req)
		require.NoError(t, err)
		require.NoError(t, resp.Close())

		ctx, cancel = context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		resp, err = get(t, ctx, conn, "/")
		require.NoError(t, err)
		b, _, err := body.Collect(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "Hello", string(b))

		// The consumed reservations leave nothing for an unpaired call.
		_, err = conn.Call(context.Background(), req)
		assert.True(t, httperr.IsKind(err, httperr.KindNotReady))
	})

	t.Run("concurrent ready and call", func(t *testing.T) {
		conn := connect(t, helloHandler())

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		errCh := make(chan error, 8)
		for i := 0; i != 8; i++ {
			go func() {
				resp, err := get(t, ctx, conn, "/")
				if err == nil {
					_, _, err = body.Collect(resp.Body)
				}
				errCh <- err
			}()
		}
		for i := 0; i != 8; i++ {
			assert.NoError(t, <-errCh)
		}
	})

	t.Run("driver error", func(t *testing.T) {
		addr := garbagePeer(t, []byte("garbage\r\n"))
		conn, err := client.NewConnect[string, body.Empty](tcpMaker(addr)).Call(
			context.Background(), addr,
		)
		require.NoError(t, err)
		defer conn.Close()

		assertDriverFailed(t, conn)
	})

	t.Run("mux driver error", func(t *testing.T) {
		addr := garbagePeer(t, bytes.Repeat([]byte{0xff}, 12))
		conn, err := client.NewConnect[string, body.Empty](
			tcpMaker(addr),
			client.WithBuilder(protocol.Builder{Protocol: protocol.Mux}),
		).Call(context.Background(), addr)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, protocol.Mux, conn.Protocol())
		assertDriverFailed(t, conn)
	})

	t.Run("abandoned", func(t *testing.T) {
		release := make(chan struct{})
		conn := connect(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/slow" {
				<-release
			}
			_, _ = w.Write([]byte("Hello"))
		}))

		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()
		_, err := get(t, ctx, conn, "/slow")
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)

		resp, err := get(t, context.Background(), conn, "/")
		require.NoError(t, err)
		b, _, err := body.Collect(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "Hello", string(b))

		select {
		case <-conn.Done():
			t.Fatal("connection closed")
		default:
		}
	})

	t.Run("close", func(t *testing.T) {
		conn := connect(t, helloHandler())
		require.NoError(t, conn.Close())

		select {
		case <-conn.Done():
		case <-time.After(time.Second * 5):
			t.Fatal("connection not closed")
		}

		_, err := get(t, context.Background(), conn, "/")
		assert.True(t, httperr.IsKind(err, httperr.KindClosed))
	})
}

// garbagePeer accepts a connection and writes b to it unprompted, as a
// misbehaving server would on an idle connection.
func garbagePeer(t *testing.T, b []byte) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// Wait for the client to finish connecting before writing.
		time.Sleep(time.Millisecond * 50)
		_, _ = conn.Write(b)
		_, _ = io.Copy(io.Discard, conn)
	}()

	return ln.Addr().String()
}

// assertDriverFailed waits for the connection driver to exit and checks the
// failure is recorded and reported to later calls.
func assertDriverFailed(t *testing.T, conn *client.Connection[body.Empty]) {
	select {
	case <-conn.Done():
	case <-time.After(time.Second * 5):
		t.Fatal("connection not closed")
	}
	assert.Error(t, conn.Err())

	for i := 0; i != 3; i++ {
		err := conn.Ready(context.Background())
		assert.True(t, httperr.IsKind(err, httperr.KindClosed))

		_, err = get(t, context.Background(), conn, "/")
		assert.True(t, httperr.IsKind(err, httperr.KindClosed))
	}
}

func TestBoundedExecutor(t *testing.T) {
	executor := client.NewBoundedExecutor(1)

	release := make(chan struct{})
	require.NoError(t, executor.Spawn(func() {
		<-release
	}))
	assert.Equal(t, int64(1), executor.Running())

	assert.ErrorIs(t, executor.Spawn(func() {}), client.ErrExecutorSaturated)

	close(release)
	assert.Eventually(t, func() bool {
		return executor.Spawn(func() {}) == nil
	}, time.Second, time.Millisecond*10)
}
