package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn(t *testing.T) {
	t.Run("echo", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := Upgrade(w, r, "echo")
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			assert.Equal(t, "echo", conn.Subprotocol())
			_, _ = io.Copy(conn, conn)
		}))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, err := Dial(context.Background(), url, WithSubprotocols("echo"))
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "echo", conn.Subprotocol())

		_, err = conn.Write([]byte("foo"))
		require.NoError(t, err)

		buf := make([]byte, 3)
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, "foo", string(buf))
	})

	t.Run("no subprotocol", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := Upgrade(w, r)
			if !assert.NoError(t, err) {
				return
			}
			conn.Close()
		}))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, err := Dial(context.Background(), url, WithSubprotocols("echo"))
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "", conn.Subprotocol())
	})

	t.Run("retryable status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		_, err := Dial(context.Background(), url)
		var retryableErr *RetryableError
		assert.True(t, errors.As(err, &retryableErr))
	})

	t.Run("non-retryable status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		_, err := Dial(context.Background(), url)
		require.Error(t, err)
		var retryableErr *RetryableError
		assert.False(t, errors.As(err, &retryableErr))
	})
}
