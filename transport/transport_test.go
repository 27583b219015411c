package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andydunstall/tether/pkg/testutil"
	"github.com/andydunstall/tether/pkg/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestination(t *testing.T) {
	tests := []struct {
		uri      string
		expected Destination
	}{
		{
			uri:      "http://example.com",
			expected: Destination{Scheme: "http", Host: "example.com", Port: "80"},
		},
		{
			uri:      "https://example.com:8443",
			expected: Destination{Scheme: "https", Host: "example.com", Port: "8443"},
		},
		{
			uri:      "wss://example.com/mux",
			expected: Destination{Scheme: "wss", Host: "example.com", Port: "443", Path: "/mux"},
		},
		{
			uri:      "http://[::1]:8000",
			expected: Destination{Scheme: "http", Host: "::1", Port: "8000"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			dst, err := ParseDestination(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dst)
		})
	}

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseDestination("example.com")
		assert.Error(t, err)

		_, err = ParseDestination("ftp://example.com")
		assert.Error(t, err)
	})

	t.Run("addr", func(t *testing.T) {
		dst := Destination{Scheme: "http", Host: "::1", Port: "80"}
		assert.Equal(t, "[::1]:80", dst.Addr())
		assert.Equal(t, "http://[::1]:80", dst.String())
	})
}

func localDestination(t *testing.T, scheme string, ln net.Listener) Destination {
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	return Destination{Scheme: scheme, Host: host, Port: port}
}

func TestTCPConnector(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("foo"))
		conn.Close()
	}()

	connector := NewTCPConnector()
	require.NoError(t, connector.Ready(context.Background()))
	conn, err := connector.Call(context.Background(), localDestination(t, "http", ln))
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "", NegotiatedProtocol(conn))

	buf := make([]byte, 3)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "foo", string(buf))
}

func TestTLSConnector(t *testing.T) {
	fixture, err := testutil.NewTLSFixture()
	require.NoError(t, err)

	tests := []struct {
		name       string
		serverALPN []string
		expected   string
	}{
		{"h2", []string{ProtoHTTP2, ProtoHTTP1}, ProtoHTTP2},
		{"http1", []string{ProtoHTTP1}, ProtoHTTP1},
		{"none", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln, err := tls.Listen("tcp", "127.0.0.1:0", fixture.ServerConfig(tt.serverALPN...))
			require.NoError(t, err)
			defer ln.Close()

			go func() {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				// Complete the handshake then wait for the client to close.
				_, _ = conn.Read(make([]byte, 1))
			}()

			connector := NewTLSConnector(NewTCPConnector(), fixture.ClientConfig())
			conn, err := connector.Call(
				context.Background(), localDestination(t, "https", ln),
			)
			require.NoError(t, err)
			defer conn.Close()

			assert.Equal(t, tt.expected, NegotiatedProtocol(conn))
		})
	}

	t.Run("untrusted", func(t *testing.T) {
		ln, err := tls.Listen("tcp", "127.0.0.1:0", fixture.ServerConfig())
		require.NoError(t, err)
		defer ln.Close()

		go func() {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 1))
		}()

		connector := NewTLSConnector(NewTCPConnector(), nil)
		_, err = connector.Call(context.Background(), localDestination(t, "https", ln))
		assert.Error(t, err)
	})
}

func TestWebSocketConnector(t *testing.T) {
	t.Run("mux", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Upgrade(w, r, MuxSubprotocol)
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 1))
		}))
		defer server.Close()

		dst, err := ParseDestination(server.URL + "/mux")
		require.NoError(t, err)

		conn, err := NewWebSocketConnector(nil, nil).Call(context.Background(), dst)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, ProtoMux, NegotiatedProtocol(conn))
	})

	t.Run("no mux", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := websocket.Upgrade(w, r)
			if err != nil {
				return
			}
			defer conn.Close()
			_, _ = conn.Read(make([]byte, 1))
		}))
		defer server.Close()

		dst, err := ParseDestination(server.URL)
		require.NoError(t, err)

		conn, err := NewWebSocketConnector(nil, nil).Call(context.Background(), dst)
		require.NoError(t, err)
		defer conn.Close()

		assert.Equal(t, "", NegotiatedProtocol(conn))
	})
}

func TestLimit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = conn.Read(make([]byte, 1))
			}()
		}
	}()

	dst := localDestination(t, "http", ln)
	limited := Limit[Destination](NewTCPConnector(), 1)

	t.Run("not reserved", func(t *testing.T) {
		_, err := limited.Call(context.Background(), dst)
		assert.ErrorIs(t, err, ErrNotReserved)
	})

	t.Run("capacity", func(t *testing.T) {
		require.NoError(t, limited.Ready(context.Background()))
		conn, err := limited.Call(context.Background(), dst)
		require.NoError(t, err)

		// The only slot is in use so Ready blocks.
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
		defer cancel()
		assert.Error(t, limited.Ready(ctx))

		// Closing the connection releases the slot. Closing twice must only
		// release once.
		conn.Close()
		conn.Close()

		require.NoError(t, limited.Ready(context.Background()))
		conn, err = limited.Call(context.Background(), dst)
		require.NoError(t, err)
		conn.Close()
	})

	t.Run("connect failure releases", func(t *testing.T) {
		l := Limit[Destination](NewTCPConnector(), 1)

		require.NoError(t, l.Ready(context.Background()))
		// Port 0 is never listening.
		_, err := l.Call(context.Background(), Destination{Scheme: "http", Host: "127.0.0.1", Port: "0"})
		assert.Error(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, l.Ready(ctx))
	})
}
