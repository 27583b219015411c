package request

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/andydunstall/tether/cli/request/config"
	"github.com/andydunstall/tether/cli/serve"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/server"
)

func startServer(t *testing.T, p protocol.Protocol, routes ...func(*gin.Engine)) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	router := serve.NewRouter(log.AccessLogConfig{Disable: true}, nil, log.NewNopLogger())
	srv := server.NewServer(router, server.WithProtocol(p))
	router.GET("/ws", gin.WrapH(srv.WebSocketHandler()))
	for _, r := range routes {
		r(router)
	}

	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		srv.Close()
	})
	return ln.Addr().String()
}

func TestRun(t *testing.T) {
	for _, p := range []protocol.Protocol{protocol.HTTP1, protocol.HTTP2, protocol.Mux} {
		t.Run(p.String(), func(t *testing.T) {
			addr := startServer(t, p)

			t.Run("get", func(t *testing.T) {
				conf := config.Default()
				conf.Protocol = p.String()

				var buf bytes.Buffer
				require.NoError(t, run(
					context.Background(), conf, "http://"+addr+"/", &buf, log.NewNopLogger(),
				))
				assert.Equal(t, "Hello", buf.String())
			})

			t.Run("echo", func(t *testing.T) {
				conf := config.Default()
				conf.Protocol = p.String()
				conf.Method = http.MethodPost
				conf.Data = "foo"

				var buf bytes.Buffer
				require.NoError(t, run(
					context.Background(), conf, "http://"+addr+"/echo", &buf, log.NewNopLogger(),
				))
				assert.Equal(t, "foo", buf.String())
			})

			t.Run("echo chunked", func(t *testing.T) {
				conf := config.Default()
				conf.Protocol = p.String()
				conf.Method = http.MethodPost
				conf.Data = "abcdefg"
				conf.ChunkSize = 2

				var buf bytes.Buffer
				require.NoError(t, run(
					context.Background(), conf, "http://"+addr+"/echo", &buf, log.NewNopLogger(),
				))
				assert.Equal(t, "abcdefg", buf.String())
			})
		})
	}
}

func TestRun_YAMLOutput(t *testing.T) {
	addr := startServer(t, protocol.HTTP1)

	conf := config.Default()
	conf.Output = "yaml"

	var buf bytes.Buffer
	require.NoError(t, run(
		context.Background(), conf, "http://"+addr+"/trailers", &buf, log.NewNopLogger(),
	))

	var out outputResponse
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "200 OK", out.Status)
	assert.Equal(t, "HTTP/1.1", out.Proto)
	assert.Equal(t, "text/plain", out.Headers.Get("Content-Type"))
	assert.Equal(t, "hello world", out.Body)
	assert.Equal(t, "done", out.Trailers.Get("Tether-Status"))
}

func TestRun_WebSocket(t *testing.T) {
	addr := startServer(t, protocol.HTTP1)

	conf := config.Default()
	conf.WebSocket = "ws://" + addr + "/ws"
	conf.Output = "yaml"

	var buf bytes.Buffer
	require.NoError(t, run(
		context.Background(), conf, "http://"+addr+"/", &buf, log.NewNopLogger(),
	))

	var out outputResponse
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "200 OK", out.Status)
	assert.Equal(t, "Hello", out.Body)
}

func TestRun_Retry(t *testing.T) {
	var calls atomic.Int64
	addr := startServer(t, protocol.HTTP1, func(router *gin.Engine) {
		router.GET("/flaky", func(c *gin.Context) {
			if calls.Inc() < 3 {
				c.Status(http.StatusServiceUnavailable)
				return
			}
			c.String(http.StatusOK, "ok")
		})
	})

	t.Run("ok", func(t *testing.T) {
		conf := config.Default()
		conf.Retry.Attempts = 3
		conf.Retry.Backoff = time.Millisecond

		var buf bytes.Buffer
		require.NoError(t, run(
			context.Background(), conf, "http://"+addr+"/flaky", &buf, log.NewNopLogger(),
		))
		assert.Equal(t, "ok", buf.String())
		assert.Equal(t, int64(3), calls.Load())
	})

	t.Run("exhausted", func(t *testing.T) {
		conf := config.Default()
		conf.Retry.Attempts = 1
		conf.Output = "yaml"

		var buf bytes.Buffer
		require.NoError(t, run(
			context.Background(), conf, "http://"+addr+"/status/503", &buf, log.NewNopLogger(),
		))

		var out outputResponse
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, "503 Service Unavailable", out.Status)
	})
}

func TestRun_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	conf := config.Default()
	conf.Retry.Attempts = 2

	var buf bytes.Buffer
	err = run(
		context.Background(), conf, "http://"+addr+"/", &buf, log.NewNopLogger(),
	)
	assert.ErrorContains(t, err, "connect")
}
